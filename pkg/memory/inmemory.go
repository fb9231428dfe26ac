// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/jllopis/oracle/pkg/errors"
)

// InMemoryVectorStore is an in-process VectorStore with exact search.
type InMemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

// NewInMemoryVectorStore creates an empty store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{collections: make(map[string]map[string]Point)}
}

// CreateCollection implements VectorStore.
func (s *InMemoryVectorStore) CreateCollection(_ context.Context, name string, _ uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]Point)
	}
	return nil
}

// Upsert implements VectorStore.
func (s *InMemoryVectorStore) Upsert(_ context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return errors.New(errors.CodeNotFound, "collection not found", nil).WithContext("collection", collection)
	}
	for _, p := range points {
		p.Vector = append([]float32(nil), p.Vector...)
		c[p.ID] = p
	}
	return nil
}

// Search implements VectorStore.
func (s *InMemoryVectorStore) Search(_ context.Context, collection string, vector []float32, limit int, scoreThreshold float32) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	return rank(func(yield func(Point)) {
		for _, p := range c {
			yield(p)
		}
	}, vector, limit, scoreThreshold), nil
}

// Delete implements VectorStore.
func (s *InMemoryVectorStore) Delete(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collections[collection]
	for _, id := range ids {
		delete(c, id)
	}
	return nil
}

// Len returns the number of points in collection.
func (s *InMemoryVectorStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// rank scores every point and keeps the best limit results.
func rank(each func(yield func(Point)), vector []float32, limit int, threshold float32) []SearchResult {
	results := make([]SearchResult, 0)
	each(func(p Point) {
		score := Cosine(vector, p.Vector)
		if score < threshold {
			return
		}
		results = append(results, SearchResult{ID: p.ID, Score: score, Point: Point{
			ID:        p.ID,
			Payload:   p.Payload,
			Timestamp: p.Timestamp,
		}})
	})
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Point.Timestamp > results[j].Point.Timestamp
		}
		return results[i].Score > results[j].Score
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

var _ VectorStore = (*InMemoryVectorStore)(nil)
