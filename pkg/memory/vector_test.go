// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
)

func vectorStores(t *testing.T) map[string]VectorStore {
	t.Helper()
	sqliteStore, err := OpenSQLiteVectorStore(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]VectorStore{
		"memory": NewInMemoryVectorStore(),
		"sqlite": sqliteStore,
	}
}

func TestVectorStores(t *testing.T) {
	for name, store := range vectorStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.CreateCollection(ctx, "c", 2); err != nil {
				t.Fatalf("create: %v", err)
			}
			points := []Point{
				{ID: "a", Vector: []float32{1, 0}, Payload: map[string]interface{}{"text": "east"}, Timestamp: 1},
				{ID: "b", Vector: []float32{0, 1}, Payload: map[string]interface{}{"text": "north"}, Timestamp: 2},
				{ID: "c", Vector: []float32{1, 1}, Payload: map[string]interface{}{"text": "north-east"}, Timestamp: 3},
			}
			if err := store.Upsert(ctx, "c", points); err != nil {
				t.Fatalf("upsert: %v", err)
			}

			res, err := store.Search(ctx, "c", []float32{1, 0.1}, 2, -1)
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(res) != 2 || res[0].ID != "a" || res[1].ID != "c" {
				t.Fatalf("unexpected ranking %+v", res)
			}
			if res[0].Point.Payload["text"] != "east" {
				t.Fatalf("payload lost: %+v", res[0].Point.Payload)
			}

			if err := store.Upsert(ctx, "c", []Point{{ID: "a", Vector: []float32{0, 1}, Payload: map[string]interface{}{"text": "moved"}}}); err != nil {
				t.Fatalf("re-upsert: %v", err)
			}
			if err := store.Delete(ctx, "c", []string{"c", "missing"}); err != nil {
				t.Fatalf("delete: %v", err)
			}
			res, _ = store.Search(ctx, "c", []float32{0, 1}, 10, 0.5)
			if len(res) != 2 {
				t.Fatalf("expected 2 points after delete, got %+v", res)
			}

			if res, err := store.Search(ctx, "unknown", []float32{1, 0}, 3, -1); err != nil || len(res) != 0 {
				t.Fatalf("unknown collection: %v %v", res, err)
			}
		})
	}
}

type flakyCollections struct {
	*InMemoryVectorStore
	failures int
	calls    int
	ctxErrs  []error
}

func (f *flakyCollections) CreateCollection(ctx context.Context, name string, dims uint64) error {
	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.failures > 0 {
		f.failures--
		return errors.New("collection service unavailable")
	}
	return f.InMemoryVectorStore.CreateCollection(ctx, name, dims)
}

func TestVectorIndexRetriesCollectionCreation(t *testing.T) {
	store := &flakyCollections{InMemoryVectorStore: NewInMemoryVectorStore(), failures: 1}
	idx := NewVectorIndex(store, NewHashEmbedder(16), "")
	ctx := context.Background()

	if _, err := idx.Add(ctx, "first try", nil); err == nil {
		t.Fatal("expected the first add to fail")
	}
	if _, err := idx.Add(ctx, "second try", nil); err != nil {
		t.Fatalf("add after recovery: %v", err)
	}
	got, err := idx.Query(ctx, "second try", 1)
	if err != nil || len(got) != 1 || got[0] != "second try" {
		t.Fatalf("query after recovery: %v, %v", got, err)
	}
	if store.calls != 2 {
		t.Fatalf("collection should be created until it succeeds and then never again, got %d calls", store.calls)
	}
}

func TestVectorIndexIgnoresCancelledCaller(t *testing.T) {
	store := &flakyCollections{InMemoryVectorStore: NewInMemoryVectorStore()}
	idx := NewVectorIndex(store, NewHashEmbedder(16), "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := idx.ensure(ctx, 16); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(store.ctxErrs) != 1 || store.ctxErrs[0] != nil {
		t.Fatalf("collection creation saw a cancelled context: %v", store.ctxErrs)
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "Create a folder on the Desktop")
	b, _ := e.Embed(ctx, "create folder desktop please")
	c, _ := e.Embed(ctx, "weather tomorrow in Lisbon")
	if len(a) != DefaultHashDimensions {
		t.Fatalf("unexpected dims %d", len(a))
	}
	if Cosine(a, b) <= Cosine(a, c) {
		t.Fatalf("related texts must score higher: %f vs %f", Cosine(a, b), Cosine(a, c))
	}
	empty, _ := e.Embed(ctx, "   ")
	if Cosine(empty, a) != 0 {
		t.Fatal("empty text must have zero similarity")
	}
}

func TestCipherRejectsTampering(t *testing.T) {
	c := testCipher(t, "pw")
	sealed, err := c.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	other, _ := c.Encrypt([]byte("secret"))
	if sealed == other {
		t.Fatal("nonces must differ between records")
	}
	plain, err := c.Decrypt(sealed)
	if err != nil || string(plain) != "secret" {
		t.Fatalf("decrypt: %q %v", plain, err)
	}
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0x01
	if _, err := c.Decrypt(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Fatal("tampered record decrypted")
	}
	if _, err := NewXChaCha("", []byte("0123456789abcdef")); err == nil {
		t.Fatal("empty passphrase accepted")
	}
}

func TestLoadOrCreateSaltIsStable(t *testing.T) {
	path := t.TempDir() + "/memory/salt"
	first, err := LoadOrCreateSalt(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateSalt(path)
	if err != nil || string(first) != string(second) {
		t.Fatalf("salt changed between loads: %v", err)
	}
}
