// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package ollama embeds text with an Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/memory"
)

// DefaultModel is used when no embedding model is configured.
const DefaultModel = "nomic-embed-text"

// Embedder implements the memory.Embedder interface using Ollama.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbedder creates a new Ollama Embedder.
func NewEmbedder(baseURL, model string) *Embedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed converts a text string into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "marshal embedding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "create embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeUnreachable, "embedding backend unreachable", err).
			WithContext("base_url", e.baseURL)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, errors.New(errors.CodeBadResponse, "read embedding response", err)
	}
	var embResp embeddingResponse
	if err := json.Unmarshal(raw, &embResp); err != nil && resp.StatusCode == http.StatusOK {
		return nil, errors.New(errors.CodeBadResponse, "decode embedding response", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := embResp.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, errors.New(errors.CodeBadResponse, "embedding backend error: "+msg, nil).
			WithContext("status", resp.StatusCode).
			WithContext("model", e.model)
	}
	if len(embResp.Embedding) == 0 {
		return nil, errors.New(errors.CodeBadResponse, "embedding backend returned an empty vector", nil).
			WithContext("model", e.model)
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

var _ memory.Embedder = (*Embedder)(nil)
