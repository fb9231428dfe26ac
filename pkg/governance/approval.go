// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/oracle/pkg/errors"
)

// ApprovalStatus captures the lifecycle of a staged directive.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// DefaultApprovalTTL bounds how long a staged directive waits for the user.
const DefaultApprovalTTL = 10 * time.Minute

// Approval is the staged half of a two-phase irreversible directive.
type Approval struct {
	ID        string         `json:"id"`
	Directive string         `json:"directive"`
	Args      []string       `json:"args"`
	Status    ApprovalStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// Expired reports whether a pending approval has outlived its TTL at now.
func (a *Approval) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// ApprovalFilter limits approval queries.
type ApprovalFilter struct {
	Directive      string
	Status         ApprovalStatus
	Limit          int
	ExpiringBefore time.Time
}

// ApprovalStore persists staged directives.
//
// Resolve moves a pending approval to approved or rejected exactly once. It
// fails with NOT_FOUND for unknown ids and INVALID_INPUT when the approval is
// no longer pending or has expired.
type ApprovalStore interface {
	Create(ctx context.Context, approval Approval) (*Approval, error)
	Get(ctx context.Context, id string) (*Approval, error)
	List(ctx context.Context, filter ApprovalFilter) ([]*Approval, error)
	Resolve(ctx context.Context, id string, status ApprovalStatus, reason string) (*Approval, error)
	ExpireApprovals(ctx context.Context) (int, error)
}

// StoreOption configures an approval store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
	ttl time.Duration
}

func defaultStoreOptions() storeOptions {
	return storeOptions{now: time.Now, ttl: DefaultApprovalTTL}
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTTL sets the expiry applied to approvals created without one. Zero
// disables expiry.
func WithTTL(ttl time.Duration) StoreOption {
	return func(o *storeOptions) {
		if ttl >= 0 {
			o.ttl = ttl
		}
	}
}

// NewApprovalID returns a short identifier the user can type back.
func NewApprovalID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// prepare fills defaults for a new approval.
func (o storeOptions) prepare(approval *Approval) error {
	if strings.TrimSpace(approval.Directive) == "" {
		return errors.New(errors.CodeInvalidInput, "directive is required", nil)
	}
	if approval.ID == "" {
		approval.ID = NewApprovalID()
	}
	if approval.Status == "" {
		approval.Status = ApprovalStatusPending
	}
	if approval.Args == nil {
		approval.Args = []string{}
	}
	now := o.now().UTC()
	if approval.CreatedAt.IsZero() {
		approval.CreatedAt = now
	}
	approval.UpdatedAt = now
	if approval.ExpiresAt.IsZero() && o.ttl > 0 {
		approval.ExpiresAt = approval.CreatedAt.Add(o.ttl)
	}
	return nil
}

func validResolution(status ApprovalStatus) error {
	switch status {
	case ApprovalStatusApproved, ApprovalStatusRejected:
		return nil
	default:
		return errors.New(errors.CodeInvalidInput, "approvals resolve to approved or rejected", nil).
			WithContext("status", string(status))
	}
}

func approvalNotFound(id string) error {
	return errors.New(errors.CodeNotFound, "approval not found", nil).WithContext("approval_id", id)
}

func approvalNotPending(a *Approval) error {
	return errors.New(errors.CodeInvalidInput, "approval is "+string(a.Status), nil).
		WithContext("approval_id", a.ID).
		WithContext("status", string(a.Status))
}

// MemoryApprovalStore keeps approvals in memory.
type MemoryApprovalStore struct {
	opts      storeOptions
	mu        sync.RWMutex
	approvals map[string]*Approval
}

// NewMemoryApprovalStore creates an in-memory approval store.
func NewMemoryApprovalStore(opts ...StoreOption) *MemoryApprovalStore {
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryApprovalStore{opts: o, approvals: make(map[string]*Approval)}
}

// Create inserts a new approval.
func (s *MemoryApprovalStore) Create(_ context.Context, approval Approval) (*Approval, error) {
	if err := s.opts.prepare(&approval); err != nil {
		return nil, err
	}
	copied := cloneApproval(&approval)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.approvals[approval.ID]; exists {
		return nil, errors.New(errors.CodeInvalidInput, "approval id already exists", nil).
			WithContext("approval_id", approval.ID)
	}
	s.approvals[approval.ID] = copied
	return cloneApproval(copied), nil
}

// Get returns an approval by id.
func (s *MemoryApprovalStore) Get(_ context.Context, id string) (*Approval, error) {
	s.mu.RLock()
	approval, ok := s.approvals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, approvalNotFound(id)
	}
	return cloneApproval(approval), nil
}

// List returns approvals matching the filter, most recent first.
func (s *MemoryApprovalStore) List(_ context.Context, filter ApprovalFilter) ([]*Approval, error) {
	s.mu.RLock()
	out := make([]*Approval, 0, len(s.approvals))
	for _, approval := range s.approvals {
		if filter.Directive != "" && approval.Directive != filter.Directive {
			continue
		}
		if filter.Status != "" && approval.Status != filter.Status {
			continue
		}
		if !filter.ExpiringBefore.IsZero() {
			if approval.ExpiresAt.IsZero() || approval.ExpiresAt.After(filter.ExpiringBefore) {
				continue
			}
		}
		out = append(out, cloneApproval(approval))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Resolve moves a pending approval to approved or rejected.
func (s *MemoryApprovalStore) Resolve(_ context.Context, id string, status ApprovalStatus, reason string) (*Approval, error) {
	if err := validResolution(status); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, approvalNotFound(id)
	}
	now := s.opts.now().UTC()
	if approval.Status == ApprovalStatusPending && approval.Expired(now) {
		approval.Status = ApprovalStatusExpired
		approval.Reason = "approval expired"
		approval.UpdatedAt = now
	}
	if approval.Status != ApprovalStatusPending {
		return nil, approvalNotPending(approval)
	}
	approval.Status = status
	approval.Reason = reason
	approval.UpdatedAt = now
	return cloneApproval(approval), nil
}

// ExpireApprovals marks every pending approval past its TTL as expired.
func (s *MemoryApprovalStore) ExpireApprovals(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.now().UTC()
	expired := 0
	for _, approval := range s.approvals {
		if approval.Status == ApprovalStatusPending && approval.Expired(now) {
			approval.Status = ApprovalStatusExpired
			approval.Reason = "approval expired"
			approval.UpdatedAt = now
			expired++
		}
	}
	return expired, nil
}

func cloneApproval(a *Approval) *Approval {
	if a == nil {
		return nil
	}
	copied := *a
	copied.Args = append([]string{}, a.Args...)
	return &copied
}

var _ ApprovalStore = (*MemoryApprovalStore)(nil)
