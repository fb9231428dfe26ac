// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	oerrors "github.com/jllopis/oracle/pkg/errors"
)

func testCipher(t *testing.T, pass string) *XChaCha {
	t.Helper()
	c, err := NewXChaCha(pass, []byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	return c
}

type storeFixture struct {
	store   *Store
	vectors *InMemoryVectorStore
	logPath string
}

func newStoreFixture(t *testing.T, logPath string) storeFixture {
	t.Helper()
	if logPath == "" {
		logPath = filepath.Join(t.TempDir(), "memory", "log.json")
	}
	l, err := OpenLog(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	vectors := NewInMemoryVectorStore()
	idx := NewVectorIndex(vectors, NewHashEmbedder(128), "")
	return storeFixture{store: NewStore(l, idx, testCipher(t, "s3cret")), vectors: vectors, logPath: logPath}
}

func TestStoreThenRetrieveIsFresh(t *testing.T) {
	f := newStoreFixture(t, "")
	ctx := context.Background()

	in := Interaction{
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UserInput:     "what is the capital of France",
		AgentResponse: "Paris is the capital of France",
	}
	if err := f.store.Store(ctx, Interaction{UserInput: "make a folder", AgentResponse: "done"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := f.store.Store(ctx, in); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := f.store.Retrieve(ctx, "capital of France", 1)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	want := []string{"User asked: what is the capital of France | Agent replied: Paris is the capital of France"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("retrieve mismatch (-want +got):\n%s", diff)
	}
	if got, _ := f.store.Retrieve(ctx, "anything", 0); got != nil {
		t.Fatalf("k=0 must return nothing, got %v", got)
	}
}

func TestStoreGrowsLogByOne(t *testing.T) {
	f := newStoreFixture(t, "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		before := f.store.Count()
		if err := f.store.Store(ctx, Interaction{UserInput: fmt.Sprintf("q%d", i), AgentResponse: "a"}); err != nil {
			t.Fatalf("store: %v", err)
		}
		if f.store.Count() != before+1 {
			t.Fatalf("count grew from %d to %d", before, f.store.Count())
		}
	}

	data, err := os.ReadFile(f.logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("log is not a JSON array of strings: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 records on disk, got %d", len(entries))
	}
	for _, e := range entries {
		if strings.Contains(e, "q1") {
			t.Fatal("log record is not encrypted")
		}
	}
	if n := f.vectors.Len(DefaultCollection); n != 3 {
		t.Fatalf("expected 3 index documents, got %d", n)
	}
}

func TestHistoryAcrossReopen(t *testing.T) {
	f := newStoreFixture(t, "")
	ctx := context.Background()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	want := []Interaction{
		{Timestamp: ts, UserInput: "hola", AgentResponse: "hello"},
		{Timestamp: ts.Add(time.Minute), UserInput: "adios", AgentResponse: "bye"},
	}
	for _, in := range want {
		if err := f.store.Store(ctx, in); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	l, err := OpenLog(f.logPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened := NewStore(l, NewVectorIndex(NewInMemoryVectorStore(), NewHashEmbedder(0), ""), testCipher(t, "s3cret"))
	got, err := reopened.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	wrong := NewStore(l, NewVectorIndex(NewInMemoryVectorStore(), NewHashEmbedder(0), ""), testCipher(t, "other"))
	if _, err := wrong.History(ctx); !oerrors.IsCode(err, oerrors.CodeMemoryError) {
		t.Fatalf("expected MEMORY_ERROR with a wrong passphrase, got %v", err)
	}
}

type failingIndex struct{ Index }

func (failingIndex) Add(context.Context, string, map[string]any) (string, error) {
	return "", oerrors.New(oerrors.CodeUnreachable, "embedding backend unreachable", nil)
}

func TestStoreIndexFailureAppendsNothing(t *testing.T) {
	dir := t.TempDir()
	l, _ := OpenLog(filepath.Join(dir, "log.json"))
	s := NewStore(l, failingIndex{}, testCipher(t, "s3cret"))

	err := s.Store(context.Background(), Interaction{UserInput: "x", AgentResponse: "y"})
	if !oerrors.IsCode(err, oerrors.CodePersistenceWarning) {
		t.Fatalf("expected PERSISTENCE_WARNING, got %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("log grew without an index document")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "log.json")); !os.IsNotExist(statErr) {
		t.Fatalf("log file written: %v", statErr)
	}
}

func TestStoreLogFailureRemovesIndexDocument(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := newStoreFixture(t, "")
	f.store.log.path = filepath.Join(blocker, "log.json")

	err := f.store.Store(context.Background(), Interaction{UserInput: "x", AgentResponse: "y"})
	if !oerrors.IsCode(err, oerrors.CodePersistenceWarning) {
		t.Fatalf("expected PERSISTENCE_WARNING, got %v", err)
	}
	if f.store.Count() != 0 {
		t.Fatal("log count changed after a failed append")
	}
	if n := f.vectors.Len(DefaultCollection); n != 0 {
		t.Fatalf("index kept %d unpaired documents", n)
	}
}

func TestStoreConcurrent(t *testing.T) {
	f := newStoreFixture(t, "")
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := f.store.Store(ctx, Interaction{UserInput: fmt.Sprintf("q%d", i), AgentResponse: "a"}); err != nil {
				t.Errorf("store: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if err := f.store.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	l, err := OpenLog(f.logPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if l.Len() != 10 || f.vectors.Len(DefaultCollection) != 10 {
		t.Fatalf("expected 10 paired records, log=%d index=%d", l.Len(), f.vectors.Len(DefaultCollection))
	}
}

func TestOpenLogRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	if err := os.WriteFile(path, []byte(`{"not":"an array"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLog(path); !oerrors.IsCode(err, oerrors.CodeMemoryError) {
		t.Fatalf("expected MEMORY_ERROR, got %v", err)
	}
}
