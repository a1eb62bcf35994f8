package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tickstore/internal/domain"
	"tickstore/internal/feed"
)

// Monitor states.
const (
	StateIdle        = "idle"
	StateReconciling = "reconciling"
)

const (
	// DefaultCatchupWindow bounds how far back a symbol with no stored
	// data is caught up.
	DefaultCatchupWindow = 30 * 24 * time.Hour

	errorCooldown = 60 * time.Second
	symbolDelay   = time.Second
)

// Prober answers upstream availability questions for single hours.
type Prober interface {
	ProbeHour(ctx context.Context, symbol string, hour time.Time) (bool, error)
	LatestAvailableHour(ctx context.Context, symbol string, now time.Time) (time.Time, bool)
}

// SummarySource serves the cross-symbol availability summary. Optional; the
// monitor falls back to per-symbol probing without one.
type SummarySource interface {
	Latest(ctx context.Context) (*feed.Summary, error)
}

// CatchupRunner fills an explicit lag window for one symbol.
type CatchupRunner interface {
	CatchupGap(ctx context.Context, symbol string, from, to time.Time) (domain.IngestStats, error)
}

// TickTimes is the read-side store surface the monitor compares against.
type TickTimes interface {
	LatestTickTime(ctx context.Context, symbol string) (time.Time, bool, error)
}

// MonitorConfig carries the tunables of one monitor instance.
type MonitorConfig struct {
	Symbols       []string
	PollInterval  time.Duration
	CatchupWindow time.Duration
	DryRun        bool
}

// Monitor is the long-lived freshness loop: on each cycle it compares local
// latest tick times against upstream availability and catches up lagging
// symbols. Failures are logged, never escalated; the loop keeps running.
type Monitor struct {
	prober  Prober
	summary SummarySource
	store   TickTimes
	catchup CatchupRunner

	symbols       []string
	pollInterval  time.Duration
	catchupWindow time.Duration
	dryRun        bool

	log   *slog.Logger
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state string
}

// NewMonitor creates a monitor. summary may be nil, in which case every
// cycle probes availability per symbol.
func NewMonitor(prober Prober, summary SummarySource, st TickTimes, catchup CatchupRunner, cfg MonitorConfig) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.CatchupWindow <= 0 {
		cfg.CatchupWindow = DefaultCatchupWindow
	}
	return &Monitor{
		prober:        prober,
		summary:       summary,
		store:         st,
		catchup:       catchup,
		symbols:       cfg.Symbols,
		pollInterval:  cfg.PollInterval,
		catchupWindow: cfg.CatchupWindow,
		dryRun:        cfg.DryRun,
		log:           slog.Default().With("component", "monitor"),
		now:           time.Now,
		sleep:         sleepCtx,
		state:         StateIdle,
	}
}

// State reports the current monitor state.
func (m *Monitor) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Run polls until the context is cancelled. An unexpected cycle error or
// panic is logged and followed by a cooldown before the next cycle.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor starting",
		"symbols", m.symbols, "poll_interval", m.pollInterval, "dry_run", m.dryRun)

	for {
		if err := m.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error("cycle failed, cooling down", "err", err, "cooldown", errorCooldown)
			if err := m.sleep(ctx, errorCooldown); err != nil {
				return nil
			}
		}
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return nil
		}
	}
}

func (m *Monitor) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return m.RunCycle(ctx)
}

// RunCycle executes one freshness pass over all configured symbols.
func (m *Monitor) RunCycle(ctx context.Context) error {
	now := m.now().UTC()
	if !IsMarketOpen(now) {
		m.log.Info("market closed, skipping cycle", "now", now, "last_close", LastMarketClose(now))
		return nil
	}

	baseline, haveBaseline := m.baselineHour(ctx)

	for i, symbol := range m.symbols {
		if i > 0 {
			// Politeness toward the upstream host between symbols.
			if err := m.sleep(ctx, symbolDelay); err != nil {
				return err
			}
		}
		if err := m.checkSymbol(ctx, symbol, baseline, haveBaseline, now); err != nil {
			m.log.Error("symbol check failed", "symbol", symbol, "err", err)
		}
	}
	return nil
}

// baselineHour resolves the cross-symbol latest available hour from the
// summary endpoint, when one is configured.
func (m *Monitor) baselineHour(ctx context.Context) (time.Time, bool) {
	if m.summary == nil {
		return time.Time{}, false
	}
	sum, err := m.summary.Latest(ctx)
	if err != nil {
		m.log.Warn("availability summary unavailable, falling back to probing", "err", err)
		return time.Time{}, false
	}
	if sum.Totals.LatestCommonHour == nil {
		return time.Time{}, false
	}
	return sum.Totals.LatestCommonHour.UTC(), true
}

func (m *Monitor) checkSymbol(ctx context.Context, symbol string, baseline time.Time, haveBaseline bool, now time.Time) error {
	upstream, found := time.Time{}, false
	if haveBaseline {
		ok, err := m.prober.ProbeHour(ctx, symbol, baseline)
		if err != nil {
			m.log.Warn("baseline probe failed", "symbol", symbol, "hour", baseline, "err", err)
		} else if ok {
			upstream, found = baseline, true
		}
	}
	if !found {
		upstream, found = m.prober.LatestAvailableHour(ctx, symbol, now)
	}
	if !found {
		m.log.Info("no upstream data found", "symbol", symbol)
		return nil
	}

	local, haveLocal, err := m.store.LatestTickTime(ctx, symbol)
	if err != nil {
		return err
	}
	if haveLocal && !local.Before(upstream) {
		m.log.Debug("symbol fresh", "symbol", symbol, "local_latest", local)
		return nil
	}

	from := upstream.Add(-m.catchupWindow)
	if haveLocal {
		from = local
	}
	to := upstream.Add(time.Hour - time.Millisecond)

	if m.dryRun {
		m.log.Info("dry run: would catch up",
			"symbol", symbol, "from", from, "to", to, "hours_behind", upstream.Sub(from).Hours())
		return nil
	}

	m.setState(StateReconciling)
	defer m.setState(StateIdle)

	stats, err := m.catchup.CatchupGap(ctx, symbol, from, to)
	if err != nil {
		return err
	}
	m.log.Info("caught up",
		"symbol", symbol,
		"from", from, "to", to,
		"ticks", stats.TicksWritten,
		"hours", stats.HoursProcessed,
		"failed_hours", stats.HoursFailed)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
