// Package domain defines the core data types shared across the ingestion
// engine: ticks, hourly buckets, per-symbol price scaling, and run statistics.
package domain

import (
	"strings"
	"time"
)

// Tick is a single bid/ask quote event timestamped to the millisecond.
// Spread and mid price are derived columns owned by the storage layer and
// are not carried here.
type Tick struct {
	Time    time.Time
	Symbol  string
	Bid     float64
	Ask     float64
	BidSize int64
	AskSize int64
	Source  string
}

// IngestStats summarises one ingestion or catch-up run. It is always
// reported, even on partial failure, so an operator can tell partial
// success from total failure without reading logs.
type IngestStats struct {
	TicksWritten   int64
	HoursProcessed int
	HoursFailed    int
}

// Add merges another run's statistics into s.
func (s *IngestStats) Add(other IngestStats) {
	s.TicksWritten += other.TicksWritten
	s.HoursProcessed += other.HoursProcessed
	s.HoursFailed += other.HoursFailed
}

// SymbolClass partitions instruments into scaling/storage families.
type SymbolClass int

const (
	ClassForex SymbolClass = iota
	ClassForexJPY
	ClassCrypto
)

// cryptoSymbols is the set of cryptocurrency instruments published by the
// vendor feed.
var cryptoSymbols = map[string]bool{
	"BTCUSD": true,
	"ETHUSD": true,
	"LTCUSD": true,
	"XRPUSD": true,
	"BCHUSD": true,
	"BTCEUR": true,
	"ETHEUR": true,
}

// ClassOf returns the symbol class for an instrument identifier.
// Classification is by quote currency for forex and by membership in the
// vendor's crypto universe otherwise.
func ClassOf(symbol string) SymbolClass {
	upper := strings.ToUpper(symbol)
	if cryptoSymbols[upper] {
		return ClassCrypto
	}
	if strings.Contains(upper, "JPY") {
		return ClassForexJPY
	}
	return ClassForex
}

// IsCrypto reports whether the symbol is one of the supported
// cryptocurrency instruments.
func IsCrypto(symbol string) bool {
	return cryptoSymbols[strings.ToUpper(symbol)]
}

// PriceScale returns the divisor applied to the feed's raw integer prices.
// JPY-quoted pairs publish 3 implied decimals, other forex pairs 5, and the
// crypto instruments 1.
func PriceScale(symbol string) float64 {
	switch ClassOf(symbol) {
	case ClassForexJPY:
		return 1_000
	case ClassCrypto:
		return 10
	default:
		return 100_000
	}
}

// VolumeScale converts a raw float volume from the feed into an integer
// size. Volumes are published in millions of units; an exact zero stays
// zero rather than becoming a small positive artifact.
func VolumeScale(raw float32) int64 {
	if raw <= 0 {
		return 0
	}
	return int64(float64(raw) * 1_000_000)
}

// TruncateHour returns t truncated to the start of its UTC hour.
func TruncateHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
