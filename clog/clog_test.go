package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts = append(opts, WithWriter(buf))
	logger, err := New(&Config{Level: level, Format: "json", Output: "buffer"}, opts...)
	require.NoError(t, err)
	return logger, buf
}

// lines 将 JSON 日志输出解析为逐行的 map
func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil config uses defaults", cfg: nil},
		{name: "console stdout", cfg: &Config{Level: "debug", Format: "console", Output: "stdout"}},
		{name: "invalid level", cfg: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", cfg: &Config{Format: "xml"}, wantErr: true},
		{name: "buffer without writer", cfg: &Config{Output: "buffer"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "WARN", got[0]["level"])
	assert.Equal(t, "warn message", got[0]["msg"])
	assert.Equal(t, "ERROR", got[1]["level"])
}

func TestLoggerSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Debug("hidden")
	require.NoError(t, logger.SetLevel(DebugLevel))
	logger.WithNamespace("child").Debug("visible")

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "visible", got[0]["msg"])

	assert.Error(t, logger.SetLevel(Level(42)))
}

func TestLoggerFieldsAndNamespace(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug", WithNamespace("idemguard"))

	child := logger.WithNamespace("idem", "gorm").With(String("driver", "sqlite"))
	child.Info("record created",
		Uint("record_id", 7),
		Int("status", 201),
		Bool("replayed", false),
		Error(errors.New("boom")),
		Error(nil),
	)
	logger.Info("parent untouched")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "idemguard.idem.gorm", got[0][NamespaceKey])
	assert.Equal(t, "sqlite", got[0]["driver"])
	assert.EqualValues(t, 7, got[0]["record_id"])
	assert.EqualValues(t, 201, got[0]["status"])
	assert.Equal(t, false, got[0]["replayed"])
	assert.Equal(t, "boom", got[0]["err_msg"])

	assert.Equal(t, "idemguard", got[1][NamespaceKey])
	assert.NotContains(t, got[1], "driver")
}

func TestLoggerWithDoesNotMutateSiblings(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	base := logger.With(String("a", "1"))
	left := base.With(String("b", "2"))
	right := base.With(String("c", "3"))

	left.Info("left")
	right.Info("right")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "b")
	assert.NotContains(t, got[0], "c")
	assert.Contains(t, got[1], "c")
	assert.NotContains(t, got[1], "b")
}

func TestErrorWithCode(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Error("guard failed", ErrorWithCode(errors.New("key is locked"), "KEY_LOCKED"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	nested, ok := got[0]["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "KEY_LOCKED", nested["code"])
	assert.Equal(t, "key is locked", nested["msg"])
}

func TestContextFields(t *testing.T) {
	type requestIDKey struct{}
	logger, buf := newBufferLogger(t, "info",
		WithContextField(requestIDKey{}, "request_id"),
		WithTraceContext(),
	)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})

	ctx := context.WithValue(context.Background(), requestIDKey{}, "req-1")
	ctx = trace.ContextWithSpanContext(ctx, sc)

	logger.InfoContext(ctx, "with context")
	logger.InfoContext(context.Background(), "without context")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.Equal(t, "req-1", got[0]["request_id"])
	assert.Equal(t, traceID.String(), got[0]["trace_id"])
	assert.Equal(t, spanID.String(), got[0]["span_id"])
	assert.NotContains(t, got[1], "request_id")
	assert.NotContains(t, got[1], "trace_id")
}

func TestAddSource(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(&Config{Level: "info", Format: "json", Output: "buffer", AddSource: true}, WithWriter(buf))
	require.NoError(t, err)

	logger.Info("where am I")

	got := lines(t, buf)
	require.Len(t, got, 1)
	caller, ok := got[0]["caller"].(string)
	require.True(t, ok)
	assert.Contains(t, caller, "clog_test.go")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: DebugLevel},
		{in: "INFO", want: InfoLevel},
		{in: "Warn", want: WarnLevel},
		{in: "error", want: ErrorLevel},
		{in: "fatal", want: FatalLevel},
		{in: "trace", want: InfoLevel, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, strings.ToLower(tt.in), got.String())
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.With(String("k", "v")).WithNamespace("x").Info("ignored")
		logger.Flush()
	})
	assert.NoError(t, logger.SetLevel(DebugLevel))
}
