// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/jllopis/oracle/pkg/errors"
)

func TestSetupStdoutWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(Config{ServiceName: "oracle-test", ServiceVersion: "v0.0.1", Exporter: "stdout", Writer: &buf})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := otel.Tracer("oracle/telemetry-test").Start(context.Background(), "request")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"Name": "request"`) {
		t.Fatalf("span not exported to writer:\n%s", buf.String())
	}
}

func TestSetupRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"otlp without endpoint", Config{Exporter: "otlp"}},
		{"unknown", Config{Exporter: "carrier-pigeon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Setup(tt.cfg); !errors.IsCode(err, errors.CodeInvalidInput) {
				t.Fatalf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestSetupNone(t *testing.T) {
	shutdown, err := Setup(Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
