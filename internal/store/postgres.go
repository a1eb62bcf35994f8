package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tickstore/internal/domain"
)

// Compile-time interface check.
var _ TickStore = (*PostgresStore)(nil)

// DB is the subset of pgxpool.Pool the store needs. Tests substitute a fake.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// refreshGranularities are the candle timeframes maintained as continuous
// aggregates, smallest first so cascades refresh fine before coarse.
var refreshGranularities = []struct {
	name   string
	period time.Duration
}{
	{"5m", 5 * time.Minute},
	{"15m", 15 * time.Minute},
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"12h", 12 * time.Hour},
}

// PostgresStore persists ticks in TimescaleDB hypertables, one table per
// symbol class (forex_ticks, crypto_ticks), unique on (symbol, time).
type PostgresStore struct {
	db  DB
	log *slog.Logger
	now func() time.Time
}

// NewPostgresStore connects a pool to the given database URL.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return NewPostgresStoreFromDB(pool), nil
}

// NewPostgresStoreFromDB wraps an existing connection source.
func NewPostgresStoreFromDB(db DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		log: slog.Default().With("component", "store"),
		now: time.Now,
	}
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

// tableFor maps a symbol to its tick table by symbol class.
func tableFor(symbol string) string {
	if domain.IsCrypto(symbol) {
		return "crypto_ticks"
	}
	return "forex_ticks"
}

// candleView maps a symbol and granularity to its continuous aggregate name.
func candleView(symbol, granularity string) string {
	if domain.IsCrypto(symbol) {
		return "crypto_candles_" + granularity
	}
	return "forex_candles_" + granularity
}

var tickColumns = []string{"time", "symbol", "bid", "ask", "bid_size", "ask_size", "source"}

// WriteTicks upserts ticks and then refreshes candle aggregates over each
// symbol's written span. The upsert is a single transaction per table.
func (s *PostgresStore) WriteTicks(ctx context.Context, ticks []domain.Tick) (int64, error) {
	written, err := s.UpsertTicks(ctx, ticks)
	if err != nil {
		return 0, err
	}

	// Aggregate refresh runs outside the write transaction; TimescaleDB
	// rejects refresh_continuous_aggregate inside one.
	spans := symbolSpans(ticks)
	for _, symbol := range sortedSymbols(ticks) {
		sp := spans[symbol]
		if err := s.RefreshCandles(ctx, symbol, sp.min, sp.max); err != nil {
			return written, fmt.Errorf("refreshing candles for %s: %w", symbol, err)
		}
	}
	return written, nil
}

// UpsertTicks stages ticks into a temp table via COPY and merges them with
// ON CONFLICT DO UPDATE, so replays and overlapping fetches are idempotent.
func (s *PostgresStore) UpsertTicks(ctx context.Context, ticks []domain.Tick) (int64, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	var total int64
	for table, batch := range groupByTable(ticks) {
		n, err := s.upsertBatch(ctx, table, batch)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *PostgresStore) upsertBatch(ctx context.Context, table string, ticks []domain.Tick) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	staging := table + "_staging"
	createSQL := fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP`,
		staging, table)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("creating staging table: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{staging},
		tickColumns,
		pgx.CopyFromSlice(len(ticks), func(i int) ([]any, error) {
			t := ticks[i]
			return []any{t.Time, t.Symbol, t.Bid, t.Ask, t.BidSize, t.AskSize, t.Source}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("staging ticks: %w", err)
	}

	mergeSQL := fmt.Sprintf(`
		INSERT INTO %s (time, symbol, bid, ask, bid_size, ask_size, source)
		SELECT time, symbol, bid, ask, bid_size, ask_size, source FROM %s
		ON CONFLICT (symbol, time) DO UPDATE SET
			bid = EXCLUDED.bid,
			ask = EXCLUDED.ask,
			bid_size = EXCLUDED.bid_size,
			ask_size = EXCLUDED.ask_size,
			source = EXCLUDED.source`,
		table, staging)
	tag, err := tx.Exec(ctx, mergeSQL)
	if err != nil {
		return 0, fmt.Errorf("merging ticks into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing ticks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RefreshCandles refreshes each candle granularity over [start, end + one
// period] so the bucket containing end is always covered.
func (s *PostgresStore) RefreshCandles(ctx context.Context, symbol string, start, end time.Time) error {
	for _, g := range refreshGranularities {
		view := candleView(symbol, g.name)
		windowStart := start.UTC().Truncate(g.period)
		windowEnd := end.UTC().Truncate(g.period).Add(g.period)

		sql := fmt.Sprintf(`CALL refresh_continuous_aggregate('%s', $1, $2)`, view)
		if _, err := s.db.Exec(ctx, sql, windowStart, windowEnd); err != nil {
			return fmt.Errorf("refreshing %s: %w", view, err)
		}
	}
	return nil
}

// CascadeRefresh refreshes every granularity for a symbol from the given
// instant up to now. The catch-up path calls it once after its bulk write.
func (s *PostgresStore) CascadeRefresh(ctx context.Context, symbol string, from time.Time) error {
	s.log.Info("cascading candle refresh", "symbol", symbol, "from", from)
	return s.RefreshCandles(ctx, symbol, from, s.now().UTC())
}

// MissingHours anti-joins the expected hourly series against stored tick
// hours and returns the holes, ascending.
func (s *PostgresStore) MissingHours(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	sql := fmt.Sprintf(`
		WITH expected AS (
			SELECT generate_series($2::timestamptz, $3::timestamptz, interval '1 hour') AS hour
		),
		actual AS (
			SELECT DISTINCT date_trunc('hour', time) AS hour
			FROM %s
			WHERE symbol = $1 AND time >= $2 AND time < $3::timestamptz + interval '1 hour'
		)
		SELECT e.hour
		FROM expected e
		LEFT JOIN actual a USING (hour)
		WHERE a.hour IS NULL
		ORDER BY e.hour`,
		tableFor(symbol))

	rows, err := s.db.Query(ctx, sql, symbol, domain.TruncateHour(start), domain.TruncateHour(end))
	if err != nil {
		return nil, fmt.Errorf("querying missing hours for %s: %w", symbol, err)
	}
	defer rows.Close()

	var hours []time.Time
	for rows.Next() {
		var h time.Time
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scanning missing hour: %w", err)
		}
		hours = append(hours, h.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating missing hours: %w", err)
	}
	return hours, nil
}

// TickSpan returns the stored time span for a symbol.
func (s *PostgresStore) TickSpan(ctx context.Context, symbol string) (time.Time, time.Time, bool, error) {
	sql := fmt.Sprintf(`SELECT min(time), max(time) FROM %s WHERE symbol = $1`, tableFor(symbol))

	var min, max *time.Time
	if err := s.db.QueryRow(ctx, sql, symbol).Scan(&min, &max); err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("querying tick span for %s: %w", symbol, err)
	}
	if min == nil || max == nil {
		return time.Time{}, time.Time{}, false, nil
	}
	return min.UTC(), max.UTC(), true, nil
}

// LatestTickTime returns the newest tick time for a symbol.
func (s *PostgresStore) LatestTickTime(ctx context.Context, symbol string) (time.Time, bool, error) {
	sql := fmt.Sprintf(`SELECT max(time) FROM %s WHERE symbol = $1`, tableFor(symbol))

	var max *time.Time
	if err := s.db.QueryRow(ctx, sql, symbol).Scan(&max); err != nil {
		return time.Time{}, false, fmt.Errorf("querying latest tick for %s: %w", symbol, err)
	}
	if max == nil {
		return time.Time{}, false, nil
	}
	return max.UTC(), true, nil
}

// Summary reports stored coverage for a symbol: tick count, span, and row
// counts per candle granularity.
func (s *PostgresStore) Summary(ctx context.Context, symbol string) (*DataSummary, error) {
	sql := fmt.Sprintf(`SELECT count(*), min(time), max(time) FROM %s WHERE symbol = $1`, tableFor(symbol))

	out := &DataSummary{Symbol: symbol, CandleCounts: make(map[string]int64, len(refreshGranularities))}
	if err := s.db.QueryRow(ctx, sql, symbol).Scan(&out.TickCount, &out.FirstTick, &out.LastTick); err != nil {
		return nil, fmt.Errorf("summarizing ticks for %s: %w", symbol, err)
	}

	for _, g := range refreshGranularities {
		view := candleView(symbol, g.name)
		countSQL := fmt.Sprintf(`SELECT count(*) FROM %s WHERE symbol = $1`, view)

		var n int64
		if err := s.db.QueryRow(ctx, countSQL, symbol).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s candles for %s: %w", g.name, symbol, err)
		}
		out.CandleCounts[g.name] = n
	}
	return out, nil
}

type span struct {
	min, max time.Time
}

// symbolSpans returns the written [min, max] time span per symbol.
func symbolSpans(ticks []domain.Tick) map[string]span {
	spans := make(map[string]span)
	for _, t := range ticks {
		sp, ok := spans[t.Symbol]
		if !ok {
			spans[t.Symbol] = span{min: t.Time, max: t.Time}
			continue
		}
		if t.Time.Before(sp.min) {
			sp.min = t.Time
		}
		if t.Time.After(sp.max) {
			sp.max = t.Time
		}
		spans[t.Symbol] = sp
	}
	return spans
}

// groupByTable splits a mixed batch by destination table, preserving the
// input order within each group.
func groupByTable(ticks []domain.Tick) map[string][]domain.Tick {
	groups := make(map[string][]domain.Tick)
	for _, t := range ticks {
		table := tableFor(t.Symbol)
		groups[table] = append(groups[table], t)
	}
	return groups
}

// sortedSymbols returns the distinct symbols in a batch, ascending.
func sortedSymbols(ticks []domain.Tick) []string {
	seen := make(map[string]struct{})
	for _, t := range ticks {
		seen[t.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for s := range seen {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
