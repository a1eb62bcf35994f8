// Package ingest drives the tick pipeline: concurrent hourly fetching, gap
// reconciliation, and the freshness monitor loop.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"tickstore/internal/domain"
	"tickstore/internal/feed"
	"tickstore/internal/store"
)

const (
	// DefaultPermits bounds concurrent hour fetches across a batch.
	DefaultPermits = 24
	// DefaultDayBatch is how many days are in flight at once during a
	// ranged ingest, bounding decoded-tick memory.
	DefaultDayBatch = 7

	hoursPerDay = 24
)

// Fetcher is the hour-granular feed surface the scheduler drives. A (nil,
// nil) return means the hour is absent upstream.
type Fetcher interface {
	FetchHour(ctx context.Context, symbol string, hourStart time.Time) ([]byte, error)
}

// Scheduler fans hour fetches out under a shared permit pool and feeds each
// completed day to the sink without waiting for the whole range.
type Scheduler struct {
	fetcher  Fetcher
	sink     store.TickSink
	sem      *semaphore.Weighted
	dayBatch int
	log      *slog.Logger
}

// NewScheduler creates a scheduler writing to sink. permits <= 0 and
// dayBatch <= 0 fall back to the defaults.
func NewScheduler(fetcher Fetcher, sink store.TickSink, permits int64, dayBatch int) *Scheduler {
	if permits <= 0 {
		permits = DefaultPermits
	}
	if dayBatch <= 0 {
		dayBatch = DefaultDayBatch
	}
	return &Scheduler{
		fetcher:  fetcher,
		sink:     sink,
		sem:      semaphore.NewWeighted(permits),
		dayBatch: dayBatch,
		log:      slog.Default().With("component", "scheduler"),
	}
}

// fetchHour downloads and decodes one hour under a permit. Decode failures
// are logged and yield an empty hour; only fetch failures surface as errors.
func (s *Scheduler) fetchHour(ctx context.Context, symbol string, hour time.Time) ([]domain.Tick, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	blob, err := s.fetcher.FetchHour(ctx, symbol, hour)
	if err != nil {
		return nil, err
	}

	ticks, err := feed.DecodeCompressed(blob, symbol, hour)
	if err != nil {
		s.log.Warn("decode failed, treating hour as empty", "symbol", symbol, "hour", hour, "err", err)
		return nil, nil
	}
	return ticks, nil
}

// FetchHours fetches the given hour starts concurrently and returns the
// decoded ticks sorted by time. A failed hour contributes zero ticks and is
// counted in the stats; it never aborts the batch.
func (s *Scheduler) FetchHours(ctx context.Context, symbol string, hours []time.Time) ([]domain.Tick, domain.IngestStats) {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		all   []domain.Tick
		stats domain.IngestStats
	)

	for _, hour := range hours {
		hour := hour
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticks, err := s.fetchHour(ctx, symbol, hour)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn("hour fetch failed", "symbol", symbol, "hour", hour, "err", err)
				stats.HoursFailed++
				return
			}
			stats.HoursProcessed++
			all = append(all, ticks...)
		}()
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all, stats
}

// IngestDay fetches all 24 hours of one date and writes the result.
func (s *Scheduler) IngestDay(ctx context.Context, symbol string, date time.Time) (domain.IngestStats, error) {
	ticks, stats := s.FetchHours(ctx, symbol, DayHours(date))

	if len(ticks) > 0 {
		n, err := s.sink.WriteTicks(ctx, ticks)
		if err != nil {
			return stats, fmt.Errorf("writing %s %s: %w", symbol, date.Format("2006-01-02"), err)
		}
		stats.TicksWritten = n
	}

	s.log.Info("day complete",
		"symbol", symbol,
		"date", date.Format("2006-01-02"),
		"ticks", stats.TicksWritten,
		"failed_hours", stats.HoursFailed)
	return stats, nil
}

// IngestRange ingests every day in [startDate, endDate] inclusive. Days run
// concurrently within a batch of dayBatch days; each day writes as soon as
// its own 24 fetches resolve. Fetch failures within a day never block later
// days; a storage failure stops the run after its batch drains.
func (s *Scheduler) IngestRange(ctx context.Context, symbol string, startDate, endDate time.Time) (domain.IngestStats, error) {
	days := DaysBetween(startDate, endDate)
	if len(days) == 0 {
		return domain.IngestStats{}, fmt.Errorf("empty date range %s..%s",
			startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	}

	var total domain.IngestStats
	for i := 0; i < len(days); i += s.dayBatch {
		batch := days[i:min(i+s.dayBatch, len(days))]
		s.log.Info("starting batch",
			"symbol", symbol,
			"from", batch[0].Format("2006-01-02"),
			"to", batch[len(batch)-1].Format("2006-01-02"))

		var (
			mu       sync.Mutex
			wg       sync.WaitGroup
			firstErr error
		)
		for _, day := range batch {
			day := day
			wg.Add(1)
			go func() {
				defer wg.Done()
				stats, err := s.IngestDay(ctx, symbol, day)

				mu.Lock()
				defer mu.Unlock()
				total.Add(stats)
				if err != nil && firstErr == nil {
					firstErr = err
				}
			}()
		}
		wg.Wait()

		if firstErr != nil {
			return total, firstErr
		}
	}
	return total, nil
}

// DayHours returns the 24 hour starts of the date's UTC day.
func DayHours(date time.Time) []time.Time {
	day := date.UTC().Truncate(24 * time.Hour)
	hours := make([]time.Time, 0, hoursPerDay)
	for h := 0; h < hoursPerDay; h++ {
		hours = append(hours, day.Add(time.Duration(h)*time.Hour))
	}
	return hours
}

// DaysBetween returns each UTC day start in [startDate, endDate] inclusive.
func DaysBetween(startDate, endDate time.Time) []time.Time {
	start := startDate.UTC().Truncate(24 * time.Hour)
	end := endDate.UTC().Truncate(24 * time.Hour)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
