package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{
			name: "api key assignment",
			msg:  "loaded api_key=abcdefghij0123456789",
			want: "[REDACTED]",
		},
		{
			name: "anthropic key",
			msg:  "key sk-ant-" + strings.Repeat("a", 100),
			want: "[REDACTED]",
		},
		{
			name: "bearer token",
			msg:  "auth bearer abcdefghijklmnop.qrstuvwxyz",
			want: "[REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Output: &buf, Format: "json"})
			logger.Info(context.Background(), tt.msg)

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q: %s", tt.want, out)
			}
			if strings.Contains(out, "abcdefghij0123456789") {
				t.Errorf("secret leaked: %s", out)
			}
		})
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})
	logger.Info(context.Background(), "provider config", "config", map[string]any{
		"api_key": "super-secret-value",
		"model":   "gpt-4o",
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("map secret leaked: %s", out)
	}
	if !strings.Contains(out, "gpt-4o") {
		t.Errorf("non-sensitive value dropped: %s", out)
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json"})

	ctx := WithTraceID(context.Background(), "telegram-42-abc")
	ctx = WithSessionID(ctx, "telegram:42")
	logger.Info(ctx, "handling message")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log record: %v", err)
	}
	if record["trace_id"] != "telegram-42-abc" {
		t.Errorf("trace_id = %v, want telegram-42-abc", record["trace_id"])
	}
	if record["session_id"] != "telegram:42" {
		t.Errorf("session_id = %v, want telegram:42", record["session_id"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf, Format: "json", Level: "warn"})

	logger.Debug(context.Background(), "debug line")
	logger.Info(context.Background(), "info line")
	logger.Warn(context.Background(), "warn line")

	out := buf.String()
	if strings.Contains(out, "info line") || strings.Contains(out, "debug line") {
		t.Errorf("level filter let lower levels through: %s", out)
	}
	if !strings.Contains(out, "warn line") {
		t.Errorf("warn line missing: %s", out)
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := TraceID(ctx); got != "" {
		t.Errorf("TraceID(empty ctx) = %q, want empty", got)
	}
	ctx = WithTraceID(ctx, "t-1")
	if got := TraceID(ctx); got != "t-1" {
		t.Errorf("TraceID = %q, want t-1", got)
	}
}
