// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/oracle/pkg/governance"
)

type testExpirer struct {
	calls    int64
	deadline int64
	ch       chan struct{}
	err      error
	n        int
}

func (t *testExpirer) ExpireApprovals(ctx context.Context) (int, error) {
	atomic.AddInt64(&t.calls, 1)
	if deadline, ok := ctx.Deadline(); ok {
		atomic.StoreInt64(&t.deadline, deadline.UnixNano())
	}
	select {
	case t.ch <- struct{}{}:
	default:
	}
	return t.n, t.err
}

func TestApprovalSweeperTimeout(t *testing.T) {
	expirer := &testExpirer{ch: make(chan struct{}, 1)}
	rt := NewLocal()
	rt.AddApprovalExpirer(expirer)
	rt.SetApprovalSweepInterval(10 * time.Millisecond)
	rt.SetApprovalSweepTimeout(50 * time.Millisecond)

	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		_ = rt.Stop(context.Background())
	}()

	select {
	case <-expirer.ch:
	case <-time.After(time.Second):
		t.Fatalf("expected sweeper call")
	}

	if atomic.LoadInt64(&expirer.calls) == 0 {
		t.Fatalf("expected expirer to be called")
	}
	if atomic.LoadInt64(&expirer.deadline) == 0 {
		t.Fatalf("expected deadline to be set on sweep context")
	}
}

func TestSweepExpiresStagedApprovals(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := governance.NewMemoryApprovalStore(governance.WithTTL(time.Minute), governance.WithClock(clock))
	ctx := context.Background()
	staged, err := store.Create(ctx, governance.Approval{Directive: "delete_file", Args: []string{"a.txt"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rt := NewLocal()
	failing := &testExpirer{ch: make(chan struct{}, 1), err: fmt.Errorf("db locked")}
	if got := rt.sweep(ctx, []ApprovalExpirer{store, failing}, 0); got != 0 {
		t.Fatalf("nothing is due yet, expired %d", got)
	}

	now = now.Add(2 * time.Minute)
	if got := rt.sweep(ctx, []ApprovalExpirer{store, failing}, time.Second); got != 1 {
		t.Fatalf("expected one expired approval, got %d", got)
	}
	got, err := store.Get(ctx, staged.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != governance.ApprovalStatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if atomic.LoadInt64(&failing.calls) != 2 {
		t.Fatal("a failing expirer must not stop the sweep")
	}
}

func TestSweeperDisabledWithoutExpirers(t *testing.T) {
	rt := NewLocal()
	rt.SetApprovalSweepInterval(time.Millisecond)
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if rt.approvalSweepCancel != nil {
		t.Fatal("sweeper should not start without expirers")
	}
	if err := rt.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
