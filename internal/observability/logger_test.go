package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestNewLogger_JSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	logger.Info("scan started", "stream", "$ce-orders")

	rec := decodeLine(t, &buf)
	assert.Equal(t, ServiceName, rec[attrService])
	assert.Equal(t, "$ce-orders", rec["stream"])
	assert.NotContains(t, rec, attrTraceID)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_Errors(t *testing.T) {
	_, err := NewLogger(&bytes.Buffer{}, "info", "xml")
	assert.ErrorIs(t, err, ErrUnknownLogFormat)

	_, err = NewLogger(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestTracingHandler_InjectsSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	logger.InfoContext(ctx, "inside span")

	rec := decodeLine(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), rec[attrTraceID])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec[attrSpanID])
}

func TestTracingHandler_GroupKeepsServiceTopLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewTracingHandler(slog.NewJSONHandler(&buf, nil), "svc")
	slog.New(h).WithGroup("run").Info("grouped", "stream", "s")

	rec := decodeLine(t, &buf)
	assert.Equal(t, "svc", rec[attrService])
	group, ok := rec["run"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "s", group["stream"])
}
