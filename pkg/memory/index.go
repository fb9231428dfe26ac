// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/oracle/pkg/errors"
)

// DefaultCollection names the collection holding interaction documents.
const DefaultCollection = "oracle_memory"

// Index is the similarity search collaborator.
type Index interface {
	// Add stores doc and returns its id.
	Add(ctx context.Context, doc string, metadata map[string]any) (string, error)
	// Query returns up to k documents most similar to text, best first.
	Query(ctx context.Context, text string, k int) ([]string, error)
	// Remove deletes a document previously returned by Add.
	Remove(ctx context.Context, id string) error
}

// VectorIndex implements Index with an Embedder and a VectorStore.
type VectorIndex struct {
	store      VectorStore
	embedder   Embedder
	collection string

	mu    sync.Mutex
	ready bool
	now   func() time.Time
}

// NewVectorIndex creates an index over store. The collection is created on
// first use with the dimension of the first embedding.
func NewVectorIndex(store VectorStore, embedder Embedder, collection string) *VectorIndex {
	if collection == "" {
		collection = DefaultCollection
	}
	return &VectorIndex{store: store, embedder: embedder, collection: collection, now: time.Now}
}

// ensure creates the collection once. A failed attempt is retried on the
// next call, and the caller's cancellation does not abort the creation.
func (vi *VectorIndex) ensure(ctx context.Context, dims int) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	if vi.ready {
		return nil
	}
	if err := vi.store.CreateCollection(context.WithoutCancel(ctx), vi.collection, uint64(dims)); err != nil {
		return err
	}
	vi.ready = true
	return nil
}

// Add implements Index.
func (vi *VectorIndex) Add(ctx context.Context, doc string, metadata map[string]any) (string, error) {
	vector, err := vi.embedder.Embed(ctx, doc)
	if err != nil {
		return "", err
	}
	if err := vi.ensure(ctx, len(vector)); err != nil {
		return "", err
	}
	payload := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["text"] = doc
	point := Point{
		ID:        uuid.NewString(),
		Vector:    vector,
		Payload:   payload,
		Timestamp: vi.now().UnixNano(),
	}
	if err := vi.store.Upsert(ctx, vi.collection, []Point{point}); err != nil {
		return "", err
	}
	return point.ID, nil
}

// Query implements Index.
func (vi *VectorIndex) Query(ctx context.Context, text string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	vector, err := vi.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := vi.ensure(ctx, len(vector)); err != nil {
		return nil, err
	}
	results, err := vi.store.Search(ctx, vi.collection, vector, k, -1)
	if err != nil {
		return nil, err
	}
	matches := make([]string, 0, len(results))
	for _, r := range results {
		if val, ok := r.Point.Payload["text"].(string); ok {
			matches = append(matches, val)
		}
	}
	return matches, nil
}

// Remove implements Index.
func (vi *VectorIndex) Remove(ctx context.Context, id string) error {
	if id == "" {
		return errors.New(errors.CodeInvalidInput, "document id is empty", nil)
	}
	return vi.store.Delete(ctx, vi.collection, []string{id})
}

// Close closes the underlying store when it holds resources.
func (vi *VectorIndex) Close() error {
	if c, ok := vi.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ Index = (*VectorIndex)(nil)
