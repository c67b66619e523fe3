package postgres

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSlowQueryTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := &slowQueryTracer{threshold: 10 * time.Millisecond, logger: zerolog.New(&buf)}

	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	assert.Empty(t, buf.String())

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT pg_sleep(1)"})
	time.Sleep(15 * time.Millisecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})
	assert.Contains(t, buf.String(), "Slow query")
	assert.Contains(t, buf.String(), "pg_sleep")
}

func TestSlowQueryTracer_MissingStart(t *testing.T) {
	var buf bytes.Buffer
	tracer := &slowQueryTracer{logger: zerolog.New(&buf)}

	tracer.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	assert.Empty(t, buf.String())
}
