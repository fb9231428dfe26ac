// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector size of HashEmbedder when unset.
const DefaultHashDimensions = 256

// HashEmbedder maps lowercased word unigrams and bigrams into a fixed number
// of buckets. It needs no model and keeps memory usable offline.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder with dims buckets.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed implements Embedder. The result is L2 normalized.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	add := func(token string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%uint64(e.dims)] += sign * weight
	}
	for i, w := range words {
		add(w, 1)
		if i > 0 {
			add(words[i-1]+" "+w, 0.5)
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

var _ Embedder = (*HashEmbedder)(nil)
