package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	logger := New("error", "text")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at error level")
	}
	if !New("debug", "json").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled at debug level")
	}
}

func TestL_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewWithWriter(&buf, "info", "json")

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithSession(ctx, "sess_1", "user_1")

	L(ctx).Info("authorized")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	for k, want := range map[string]string{"request_id": "req_1", "session_id": "sess_1", "user_id": "user_1"} {
		if entry[k] != want {
			t.Errorf("%s = %v, want %s", k, entry[k], want)
		}
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected slog.Default when no logger stored")
	}
	if RequestID(context.Background()) != "" {
		t.Error("expected empty request id")
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled for any level")
	}
}
