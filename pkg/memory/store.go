// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory keeps the agent's long-term memory: an encrypted append-only
// interaction log paired with a similarity index used to recall past
// exchanges.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Interaction is one completed request cycle.
type Interaction struct {
	Timestamp     time.Time `json:"timestamp"`
	UserInput     string    `json:"user_input"`
	AgentResponse string    `json:"agent_response"`
}

// Document renders the retrieval form of an interaction.
func (i Interaction) Document() string {
	return fmt.Sprintf("User asked: %s | Agent replied: %s", i.UserInput, i.AgentResponse)
}

// Store pairs the encrypted log with the similarity index.
type Store struct {
	mu     sync.Mutex
	log    *Log
	index  Index
	cipher Cipher
	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreClock sets the clock used for zero interaction timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over an opened log, an index and a cipher.
func NewStore(log *Log, index Index, cipher Cipher, opts ...StoreOption) *Store {
	s := &Store{
		log:    log,
		index:  index,
		cipher: cipher,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	metricsOnce        sync.Once
	storeCounter       metric.Int64Counter
	storeLatency       metric.Float64Histogram
	persistenceWarning metric.Int64Counter
	retrieveCounter    metric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("oracle/memory")
	storeCounter, _ = meter.Int64Counter("oracle.memory.store.count")
	storeLatency, _ = meter.Float64Histogram("oracle.memory.store.latency_ms")
	persistenceWarning, _ = meter.Int64Counter("oracle.memory.persistence_warning.count")
	retrieveCounter, _ = meter.Int64Counter("oracle.memory.retrieve.count")
}

// Store persists in to the index and the log. When the index write fails
// nothing is appended; when the log append fails the index document is
// removed again. Both failures return a PERSISTENCE_WARNING.
func (s *Store) Store(ctx context.Context, in Interaction) (err error) {
	metricsOnce.Do(initMetrics)
	ctx, span := otel.Tracer("oracle/memory").Start(ctx, "memory.store")
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "warning"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			persistenceWarning.Add(ctx, 1)
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		storeCounter.Add(ctx, 1, attrs)
		storeLatency.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		span.End()
	}()

	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	record, err := json.Marshal(in)
	if err != nil {
		return errors.New(errors.CodeInternal, "encode interaction", err)
	}
	sealed, err := s.cipher.Encrypt(record)
	if err != nil {
		return warn("seal interaction", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.index.Add(ctx, in.Document(), map[string]any{
		"timestamp": in.Timestamp.Unix(),
	})
	if err != nil {
		s.logger.Warn("memory.store.index_failed", "error", err)
		return warn("index interaction", err)
	}
	if err := s.log.Append(sealed); err != nil {
		s.logger.Warn("memory.store.log_failed", "error", err, "path", s.log.Path())
		if rerr := s.index.Remove(context.WithoutCancel(ctx), id); rerr != nil {
			s.logger.Error("memory.store.unpair", "id", id, "error", rerr)
		}
		return warn("append interaction log", err)
	}
	s.logger.Debug("memory.store", "records", s.log.Len())
	return nil
}

func warn(msg string, cause error) error {
	return errors.New(errors.CodePersistenceWarning, msg, cause).WithContext("upstream_code", string(errors.CodeOf(cause)))
}

// Retrieve returns up to k stored documents most similar to query.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	metricsOnce.Do(initMetrics)
	if k <= 0 {
		return nil, nil
	}
	docs, err := s.index.Query(ctx, query, k)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	retrieveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.New(errors.CodeMemoryError, "query memory", err)
		}
		return nil, err
	}
	return docs, nil
}

// Count returns the number of logged interactions.
func (s *Store) Count() int {
	return s.log.Len()
}

// History decrypts every logged interaction, oldest first. Records that fail
// to decrypt abort the read.
func (s *Store) History(ctx context.Context) ([]Interaction, error) {
	entries := s.log.Entries()
	out := make([]Interaction, 0, len(entries))
	for i, c := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		plain, err := s.cipher.Decrypt(c)
		if err != nil {
			return nil, errors.New(errors.CodeMemoryError, "decrypt record", err).WithContext("record", i)
		}
		var in Interaction
		if err := json.Unmarshal(plain, &in); err != nil {
			return nil, errors.New(errors.CodeMemoryError, "decode record", err).WithContext("record", i)
		}
		out = append(out, in)
	}
	return out, nil
}

// Flush waits for an in-flight Store to finish. Appends are synchronous, so
// once the lock is held everything is on disk.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		close(done)
		s.mu.Unlock()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.index.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
