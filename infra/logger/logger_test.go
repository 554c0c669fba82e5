package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))

	_, atom := New("error", true)
	assert.Equal(t, zapcore.ErrorLevel, atom.Level())
}

func TestWithContextAddsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("plain")
	ctx := ContextWithRequestID(context.Background(), "req-1")
	WithContext(ctx, base).Info("tagged")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, "req-1", entries[1].ContextMap()["x-request-id"])
}
