package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tickstore/internal/domain"
)

// Compile-time interface check.
var _ TickSink = (*ParquetSink)(nil)

// ParquetSink writes ticks to day-partitioned Parquet files instead of the
// database. It carries no gap or candle queries; backfills that only need
// files on disk use it via the --parquet-dir flag.
type ParquetSink struct {
	DataDir string
}

// NewParquetSink creates a sink rooted at the given data directory.
func NewParquetSink(dataDir string) *ParquetSink {
	return &ParquetSink{DataDir: dataDir}
}

// tickRecord is the on-disk Parquet schema for tick data.
type tickRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Bid       float64 `parquet:"bid"`
	Ask       float64 `parquet:"ask"`
	BidSize   int64   `parquet:"bid_size"`
	AskSize   int64   `parquet:"ask_size"`
	Source    string  `parquet:"source"`
}

// WriteTicks writes ticks grouped by symbol and date. Each file is read
// back, merged with the incoming batch deduplicated by (symbol, time) with
// the new record winning, and rewritten sorted by time.
func (s *ParquetSink) WriteTicks(_ context.Context, ticks []domain.Tick) (int64, error) {
	if len(ticks) == 0 {
		return 0, nil
	}

	type key struct {
		symbol string
		date   string // YYYY-MM-DD
	}
	groups := make(map[key][]tickRecord)
	for _, t := range ticks {
		k := key{symbol: t.Symbol, date: t.Time.UTC().Format("2006-01-02")}
		groups[k] = append(groups[k], tickRecord{
			Symbol:    t.Symbol,
			Timestamp: t.Time.UnixMilli(),
			Bid:       t.Bid,
			Ask:       t.Ask,
			BidSize:   t.BidSize,
			AskSize:   t.AskSize,
			Source:    t.Source,
		})
	}

	for k, records := range groups {
		path := s.tickPath(k.symbol, k.date)

		existing, _ := readParquetFile[tickRecord](path)
		merged := mergeTickRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return 0, fmt.Errorf("writing ticks for %s/%s: %w", k.symbol, k.date, err)
		}
	}
	return int64(len(ticks)), nil
}

// ReadTicks reads ticks for the given symbol within [start, end].
func (s *ParquetSink) ReadTicks(_ context.Context, symbol string, start, end time.Time) ([]domain.Tick, error) {
	var ticks []domain.Tick
	for d := start.UTC().Truncate(24 * time.Hour); !d.After(end); d = d.AddDate(0, 0, 1) {
		path := s.tickPath(symbol, d.Format("2006-01-02"))
		records, err := readParquetFile[tickRecord](path)
		if err != nil {
			// No file for this day.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			ticks = append(ticks, domain.Tick{
				Time:    ts,
				Symbol:  r.Symbol,
				Bid:     r.Bid,
				Ask:     r.Ask,
				BidSize: r.BidSize,
				AskSize: r.AskSize,
				Source:  r.Source,
			})
		}
	}
	return ticks, nil
}

// tickPath returns the file path for one symbol-day.
// Layout: <dataDir>/<SYMBOL>/<YYYY-MM-DD>.parquet
func (s *ParquetSink) tickPath(symbol, date string) string {
	return filepath.Join(s.DataDir, strings.ToUpper(symbol), date+".parquet")
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeTickRecords deduplicates records by (symbol, timestamp), preferring
// incoming records over existing ones. Results are sorted by timestamp.
func mergeTickRecords(existing, incoming []tickRecord) []tickRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]tickRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]tickRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
