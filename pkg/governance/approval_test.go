// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	oerrors "github.com/jllopis/oracle/pkg/errors"
	_ "modernc.org/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemorySQLite(t *testing.T, opts ...StoreOption) ApprovalStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLiteApprovalStore(db, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func approvalStores() map[string]func(t *testing.T, opts ...StoreOption) ApprovalStore {
	return map[string]func(t *testing.T, opts ...StoreOption) ApprovalStore{
		"memory": func(_ *testing.T, opts ...StoreOption) ApprovalStore {
			return NewMemoryApprovalStore(opts...)
		},
		"sqlite": newMemorySQLite,
	}
}

func TestApprovalStoreLifecycle(t *testing.T) {
	for name, newStore := range approvalStores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
			store := newStore(t, WithClock(clock.Now), WithTTL(time.Minute))
			ctx := context.Background()

			created, err := store.Create(ctx, Approval{Directive: "delete_file", Args: []string{"notes.txt", "desktop"}})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if len(created.ID) != 8 || created.Status != ApprovalStatusPending {
				t.Fatalf("unexpected approval %+v", created)
			}
			if !created.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
				t.Fatalf("expected ttl expiry, got %v", created.ExpiresAt)
			}

			got, err := store.Get(ctx, created.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if diff := cmp.Diff(created, got); diff != "" {
				t.Fatalf("get mismatch (-want +got):\n%s", diff)
			}

			resolved, err := store.Resolve(ctx, created.ID, ApprovalStatusApproved, "confirmed by user")
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if resolved.Status != ApprovalStatusApproved || resolved.Reason != "confirmed by user" {
				t.Fatalf("unexpected resolution %+v", resolved)
			}

			_, err = store.Resolve(ctx, created.ID, ApprovalStatusRejected, "")
			if !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
				t.Fatalf("expected second resolution to fail with INVALID_INPUT, got %v", err)
			}
			_, err = store.Resolve(ctx, "missing", ApprovalStatusApproved, "")
			if !oerrors.IsCode(err, oerrors.CodeNotFound) {
				t.Fatalf("expected NOT_FOUND, got %v", err)
			}
			_, err = store.Resolve(ctx, created.ID, ApprovalStatusExpired, "")
			if !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
				t.Fatalf("expected invalid resolution status to fail, got %v", err)
			}
		})
	}
}

func TestApprovalStoreExpiry(t *testing.T) {
	for name, newStore := range approvalStores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
			store := newStore(t, WithClock(clock.Now), WithTTL(10*time.Minute))
			ctx := context.Background()

			stale, _ := store.Create(ctx, Approval{Directive: "delete_folder", Args: []string{"old"}})
			late, _ := store.Create(ctx, Approval{Directive: "submit_form", Args: []string{"#f"}})
			clock.Advance(5 * time.Minute)
			fresh, _ := store.Create(ctx, Approval{Directive: "install_skill", Args: []string{"a", "b", "c"}})
			clock.Advance(6 * time.Minute)

			due, err := store.List(ctx, ApprovalFilter{Status: ApprovalStatusPending, ExpiringBefore: clock.Now()})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(due) != 2 {
				t.Fatalf("expected 2 approvals due, got %d", len(due))
			}

			_, err = store.Resolve(ctx, late.ID, ApprovalStatusApproved, "")
			if !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
				t.Fatalf("expected expired approval to be refused, got %v", err)
			}

			n, err := store.ExpireApprovals(ctx)
			if err != nil {
				t.Fatalf("expire: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected the remaining stale approval to expire, got %d", n)
			}
			for _, id := range []string{stale.ID, late.ID} {
				a, _ := store.Get(ctx, id)
				if a.Status != ApprovalStatusExpired {
					t.Fatalf("approval %s: expected expired, got %s", id, a.Status)
				}
			}
			if a, _ := store.Get(ctx, fresh.ID); a.Status != ApprovalStatusPending {
				t.Fatalf("fresh approval should stay pending, got %s", a.Status)
			}
		})
	}
}

func TestApprovalStoreList(t *testing.T) {
	for name, newStore := range approvalStores() {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
			store := newStore(t, WithClock(clock.Now))
			ctx := context.Background()
			for _, d := range []string{"delete_file", "delete_file", "submit_form"} {
				if _, err := store.Create(ctx, Approval{Directive: d}); err != nil {
					t.Fatalf("create: %v", err)
				}
				clock.Advance(time.Second)
			}
			deletes, err := store.List(ctx, ApprovalFilter{Directive: "delete_file"})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(deletes) != 2 || !deletes[0].UpdatedAt.After(deletes[1].UpdatedAt) {
				t.Fatalf("expected two delete approvals newest first, got %+v", deletes)
			}
			limited, _ := store.List(ctx, ApprovalFilter{Limit: 1})
			if len(limited) != 1 || limited[0].Directive != "submit_form" {
				t.Fatalf("unexpected limited list %+v", limited)
			}
			if _, err := store.Create(ctx, Approval{}); err == nil {
				t.Fatal("expected error for missing directive")
			}
		})
	}
}

func TestApprovalStoreConcurrentResolve(t *testing.T) {
	for name, newStore := range approvalStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			created, err := store.Create(ctx, Approval{Directive: "delete_file", Args: []string{"a.txt"}})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := store.Resolve(ctx, created.ID, ApprovalStatusApproved, ""); err == nil {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Fatalf("expected exactly one resolution, got %d", wins)
			}
		})
	}
}

func TestOpenSQLiteApprovalStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "approvals.db")
	store, err := OpenSQLiteApprovalStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	created, err := store.Create(context.Background(), Approval{Directive: "delete_folder", Args: []string{"projects"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteApprovalStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"projects"}, got.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}
