package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newObserved(level logger.LogLevel, showSQL bool) (*ZapGormLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapGormLogger(zap.New(core), level, showSQL, 0), logs
}

func stmt() (string, int64) { return "SELECT 1", 1 }

func TestTraceLevels(t *testing.T) {
	ctx := context.Background()

	l, logs := newObserved(logger.Warn, false)
	l.Trace(ctx, time.Now(), stmt, errors.New("connection reset"))
	l.Trace(ctx, time.Now(), stmt, fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey))
	l.Trace(ctx, time.Now(), stmt, logger.ErrRecordNotFound)
	l.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	l.Trace(ctx, time.Now(), stmt, nil)

	entries := logs.All()
	require.Len(t, entries, 3)
	require.Equal(t, "gorm.query", entries[0].Message)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "gorm.duplicate_key", entries[1].Message)
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, "gorm.slow_query", entries[2].Message)
	require.Equal(t, defaultSlowThreshold, l.SlowThreshold)
}

func TestTraceSilent(t *testing.T) {
	l, logs := newObserved(logger.Silent, true)
	l.Trace(context.Background(), time.Now(), stmt, errors.New("boom"))
	require.Zero(t, logs.Len())

	info, logs := newObserved(logger.Info, true)
	info.LogMode(logger.Silent).Trace(context.Background(), time.Now(), stmt, nil)
	require.Zero(t, logs.Len())
}

func TestTraceAddsTraceID(t *testing.T) {
	l, logs := newObserved(logger.Info, true)

	traceID := trace.TraceID{1, 2, 3}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{4}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Trace(ctx, time.Now(), stmt, nil)

	require.Equal(t, 1, logs.Len())
	require.Equal(t, traceID.String(), logs.All()[0].ContextMap()["trace_id"])
}
