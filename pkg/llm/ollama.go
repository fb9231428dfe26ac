// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/resilience"
	"github.com/jllopis/oracle/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBaseURL is the address of a local Ollama server.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 3 * time.Minute
)

// OllamaGateway implements Gateway against the Ollama /api/generate endpoint.
type OllamaGateway struct {
	baseURL string
	model   string
	client  *http.Client
	options map[string]interface{}
	retry   resilience.RetryConfig
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an OllamaGateway.
type Option func(*OllamaGateway)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(g *OllamaGateway) { g.client = c }
}

// WithRetry sets the retry policy. MaxAttempts below 2 is raised to 2.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(g *OllamaGateway) { g.retry = rc }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(g *OllamaGateway) { g.timeout = d }
}

// WithBreaker replaces the default circuit breaker. Nil disables it.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *OllamaGateway) { g.breaker = cb }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *OllamaGateway) { g.logger = l }
}

// WithModelOptions passes generation options (temperature, num_ctx...) to the backend.
func WithModelOptions(opts map[string]interface{}) Option {
	return func(g *OllamaGateway) { g.options = opts }
}

// NewOllama creates a gateway for model served at baseURL.
func NewOllama(baseURL, model string, opts ...Option) *OllamaGateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	g := &OllamaGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
		retry:   resilience.DefaultRetryConfig(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer("oracle/llm"),
	}
	g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "llm.ollama",
		FailureThreshold: 2,
		Timeout:          30 * time.Second,
		IsFailure:        isUnreachable,
	})
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.MaxAttempts < 2 {
		g.retry.MaxAttempts = 2
	}
	g.retry.IsRecoverable = isRetryable
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
			g.logger.Warn("llm.attempt.retry",
				slog.Int("attempt", attempt),
				slog.String("error_code", string(errors.CodeOf(err))),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
	}
	initGatewayMetrics()
	return g
}

// Model returns the configured model name.
func (g *OllamaGateway) Model() string { return g.model }

// Infer sends prompt to the backend and returns the generated text.
func (g *OllamaGateway) Infer(ctx context.Context, prompt string) (string, error) {
	call := func(ctx context.Context) (string, error) {
		return resilience.DoValue(ctx, g.retry, g.attempt(prompt))
	}
	if g.breaker == nil {
		return call(ctx)
	}
	var text string
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		text, err = call(ctx)
		return err
	})
	return text, err
}

func (g *OllamaGateway) attempt(prompt string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		ctx, span := g.tracer.Start(ctx, "llm.generate",
			trace.WithAttributes(append(telemetry.LLMAttributes(g.model, "ollama", 0),
				attribute.Int("llm.prompt.length", len(prompt)))...),
		)
		defer span.End()
		start := time.Now()

		text, err := resilience.WithTimeoutValue(ctx, resilience.TimeoutConfig{Duration: g.timeout},
			func(ctx context.Context) (string, error) {
				return g.generate(ctx, prompt)
			})
		if errors.IsCode(err, errors.CodeTimeout) && ctx.Err() == nil {
			err = errors.New(errors.CodeUnreachable, "inference backend did not answer in time", err).
				WithContext("timeout", g.timeout.String())
		}

		outcome := "ok"
		if err != nil {
			outcome = string(errors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(telemetry.LLMAttributes(g.model, "", float64(time.Since(start).Milliseconds()))...)
		attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("model", g.model))
		attemptCounter.Add(ctx, 1, attrs)
		attemptLatencyMs.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		return text, err
	}
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateChunk struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
	Error    string  `json:"error,omitempty"`
}

func (g *OllamaGateway) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  false,
		Options: g.options,
	})
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to marshal generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", errors.New(errors.CodeInternal, "failed to create http request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.New(errors.CodeUnreachable, "inference backend unreachable", err).
			WithContext("base_url", g.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.New(errors.CodeUnreachable, "inference backend returned an error status", nil).
			WithContext("status", resp.StatusCode).
			WithContext("body", strings.TrimSpace(string(snippet)))
	}

	return ParseGenerateBody(resp.Body)
}

// ParseGenerateBody reads a generate response that is either one JSON object
// or a stream of newline-delimited objects, concatenating their response
// fields until an object with done set closes the stream.
func ParseGenerateBody(r io.Reader) (string, error) {
	dec := json.NewDecoder(r)
	var sb strings.Builder
	seen := false
	for {
		var chunk generateChunk
		err := dec.Decode(&chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.New(errors.CodeBadResponse, "unparseable generate payload", err)
		}
		if chunk.Error != "" {
			return "", errors.New(errors.CodeBadResponse, "backend reported an error", nil).
				WithContext("backend_error", chunk.Error)
		}
		if chunk.Response == nil {
			if chunk.Done && seen {
				break
			}
			return "", errors.New(errors.CodeBadResponse, "missing response field", nil)
		}
		seen = true
		sb.WriteString(*chunk.Response)
		if chunk.Done {
			break
		}
	}
	if !seen {
		return "", errors.New(errors.CodeBadResponse, "empty generate payload", nil)
	}
	return sb.String(), nil
}

// Ping checks that the backend answers on /api/tags.
func (g *OllamaGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to create http request", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return errors.New(errors.CodeUnreachable, "inference backend unreachable", err).
			WithContext("base_url", g.baseURL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.CodeUnreachable, "inference backend returned an error status", nil).
			WithContext("status", resp.StatusCode)
	}
	return nil
}

func isUnreachable(err error) bool {
	return errors.IsCode(err, errors.CodeUnreachable)
}

// isRetryable retries only malformed payloads. UNREACHABLE is final for the
// request: the agent tells the user to restart the backend instead.
func isRetryable(err error) bool {
	return errors.IsCode(err, errors.CodeBadResponse)
}

var _ Gateway = (*OllamaGateway)(nil)
