package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tickstore/internal/domain"
	"tickstore/internal/store"
)

// Reconciler backfills missing hours and serves explicit catch-up windows.
type Reconciler struct {
	scheduler *Scheduler
	store     store.TickStore
	log       *slog.Logger
}

// NewReconciler creates a reconciler. The scheduler's sink is expected to be
// the same store so ranged backfills land in the database.
func NewReconciler(scheduler *Scheduler, st store.TickStore) *Reconciler {
	return &Reconciler{
		scheduler: scheduler,
		store:     st,
		log:       slog.Default().With("component", "reconciler"),
	}
}

// FillGaps scans the symbol's stored span for missing hours and fetches
// exactly those, one calendar date at a time. Hours still missing after the
// pass are logged as a warning, never retried indefinitely; the upstream
// may simply have no data for them.
func (r *Reconciler) FillGaps(ctx context.Context, symbol string) (domain.IngestStats, error) {
	var stats domain.IngestStats

	spanMin, spanMax, ok, err := r.store.TickSpan(ctx, symbol)
	if err != nil {
		return stats, err
	}
	if !ok {
		r.log.Info("no stored data, nothing to fill", "symbol", symbol)
		return stats, nil
	}

	// Round the span out to whole days so edge hours are checked too.
	spanStart := spanMin.UTC().Truncate(24 * time.Hour)
	spanEnd := spanMax.UTC().Truncate(24 * time.Hour).Add(23 * time.Hour)

	missing, err := r.store.MissingHours(ctx, symbol, spanStart, spanEnd)
	if err != nil {
		return stats, err
	}
	if len(missing) == 0 {
		r.log.Info("no gaps found", "symbol", symbol)
		return stats, nil
	}
	r.log.Info("found gaps", "symbol", symbol, "missing_hours", len(missing))

	for _, date := range groupByDate(missing) {
		ticks, hourStats := r.scheduler.FetchHours(ctx, symbol, date.hours)
		stats.Add(hourStats)

		if len(ticks) == 0 {
			continue
		}
		n, err := r.store.WriteTicks(ctx, ticks)
		if err != nil {
			return stats, fmt.Errorf("writing gap fill for %s %s: %w", symbol, date.day.Format("2006-01-02"), err)
		}
		stats.TicksWritten += n
	}

	remaining, err := r.store.MissingHours(ctx, symbol, spanStart, spanEnd)
	if err != nil {
		return stats, err
	}
	if len(remaining) > 0 {
		r.log.Warn("hours still missing after backfill, likely absent upstream",
			"symbol", symbol, "remaining", len(remaining), "first", remaining[0])
	}
	return stats, nil
}

// CatchupGap ingests an explicit [from, to] window. The boundary hours may
// contain ticks outside the window; those are filtered out before the bulk
// write. A single cascading aggregate refresh keyed off `from` follows.
func (r *Reconciler) CatchupGap(ctx context.Context, symbol string, from, to time.Time) (domain.IngestStats, error) {
	var stats domain.IngestStats

	from = domain.TruncateHour(from)
	to = to.UTC()
	if to.Before(from) {
		return stats, fmt.Errorf("catchup window ends before it starts: %s..%s", from, to)
	}

	var hours []time.Time
	for h := from; !h.After(to); h = h.Add(time.Hour) {
		hours = append(hours, h)
	}

	r.log.Info("catching up", "symbol", symbol, "from", from, "to", to, "hours", len(hours))
	ticks, hourStats := r.scheduler.FetchHours(ctx, symbol, hours)
	stats.Add(hourStats)

	inWindow := ticks[:0]
	for _, t := range ticks {
		if t.Time.Before(from) || t.Time.After(to) {
			continue
		}
		inWindow = append(inWindow, t)
	}

	if len(inWindow) > 0 {
		n, err := r.store.UpsertTicks(ctx, inWindow)
		if err != nil {
			return stats, fmt.Errorf("writing catchup for %s: %w", symbol, err)
		}
		stats.TicksWritten = n
	}

	if err := r.store.CascadeRefresh(ctx, symbol, from); err != nil {
		return stats, err
	}
	return stats, nil
}

// BackfillRange ingests every day of [startDate, endDate] through the
// scheduler's normal ranged path.
func (r *Reconciler) BackfillRange(ctx context.Context, symbol string, startDate, endDate time.Time) (domain.IngestStats, error) {
	return r.scheduler.IngestRange(ctx, symbol, startDate, endDate)
}

type dateHours struct {
	day   time.Time
	hours []time.Time
}

// groupByDate buckets ascending hours by their UTC calendar date,
// preserving date order.
func groupByDate(hours []time.Time) []dateHours {
	var out []dateHours
	for _, h := range hours {
		day := h.UTC().Truncate(24 * time.Hour)
		if n := len(out); n > 0 && out[n-1].day.Equal(day) {
			out[n-1].hours = append(out[n-1].hours, h)
			continue
		}
		out = append(out, dateHours{day: day, hours: []time.Time{h}})
	}
	return out
}
