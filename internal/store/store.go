// Package store persists decoded ticks and answers coverage queries used by
// gap detection and freshness monitoring.
package store

import (
	"context"
	"time"

	"tickstore/internal/domain"
)

// TickSink is the write side shared by the Postgres and Parquet backends.
// Writes are idempotent: replaying the same hour produces the same rows.
type TickSink interface {
	// WriteTicks persists a batch of ticks, last write wins per (symbol, time).
	WriteTicks(ctx context.Context, ticks []domain.Tick) (int64, error)
}

// TickStore is the full database-backed surface used by reconciliation and
// monitoring. The Parquet sink deliberately implements only TickSink.
type TickStore interface {
	TickSink

	// UpsertTicks writes ticks without refreshing candle aggregates. The
	// catch-up path uses it and follows up with a single CascadeRefresh.
	UpsertTicks(ctx context.Context, ticks []domain.Tick) (int64, error)

	// CascadeRefresh refreshes every candle granularity for a symbol from
	// the given instant forward.
	CascadeRefresh(ctx context.Context, symbol string, from time.Time) error

	// MissingHours returns hour starts in [start, end] that have no ticks
	// for the symbol, ascending.
	MissingHours(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)

	// TickSpan returns the earliest and latest tick times for a symbol.
	// ok is false when the symbol has no data.
	TickSpan(ctx context.Context, symbol string) (min, max time.Time, ok bool, err error)

	// LatestTickTime returns the most recent tick time for a symbol.
	LatestTickTime(ctx context.Context, symbol string) (time.Time, bool, error)
}

// DataSummary describes stored coverage for one symbol.
type DataSummary struct {
	Symbol       string
	TickCount    int64
	FirstTick    *time.Time
	LastTick     *time.Time
	CandleCounts map[string]int64
}
