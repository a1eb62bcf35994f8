package ingest

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"tickstore/internal/domain"
)

// hourBlob builds a compressed hour blob holding one record per offset.
func hourBlob(t *testing.T, offsetsMs ...uint32) []byte {
	t.Helper()

	var raw bytes.Buffer
	for _, off := range offsetsMs {
		rec := make([]byte, 20)
		binary.BigEndian.PutUint32(rec[0:4], off)
		binary.BigEndian.PutUint32(rec[4:8], 108752)
		binary.BigEndian.PutUint32(rec[8:12], 108748)
		binary.BigEndian.PutUint32(rec[12:16], math.Float32bits(1.5))
		binary.BigEndian.PutUint32(rec[16:20], math.Float32bits(0.75))
		raw.Write(rec)
	}

	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeFetcher struct {
	mu    sync.Mutex
	blobs map[time.Time][]byte
	errs  map[time.Time]error
	calls []time.Time
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		blobs: make(map[time.Time][]byte),
		errs:  make(map[time.Time]error),
	}
}

func (f *fakeFetcher) FetchHour(_ context.Context, _ string, hour time.Time) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hour)
	if err := f.errs[hour]; err != nil {
		return nil, err
	}
	return f.blobs[hour], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]domain.Tick
	err     error
}

func (s *fakeSink) WriteTicks(_ context.Context, ticks []domain.Tick) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.batches = append(s.batches, ticks)
	return int64(len(ticks)), nil
}

func (s *fakeSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestIngestDayPresentAndAbsentHours(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	// Hours 10 and 12 published, everything else absent.
	fetcher.blobs[day.Add(10*time.Hour)] = hourBlob(t, 100, 200)
	fetcher.blobs[day.Add(12*time.Hour)] = hourBlob(t, 300, 400)

	sink := &fakeSink{}
	sched := NewScheduler(fetcher, sink, 0, 0)

	stats, err := sched.IngestDay(context.Background(), "EURUSD", day)
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.TicksWritten)
	assert.Equal(t, hoursPerDay, stats.HoursProcessed, "absent hours still count as processed")
	assert.Zero(t, stats.HoursFailed)
	assert.Equal(t, hoursPerDay, fetcher.callCount())

	require.Len(t, sink.batches, 1)
	batch := sink.batches[0]
	require.Len(t, batch, 4)
	for i := 1; i < len(batch); i++ {
		assert.False(t, batch[i].Time.Before(batch[i-1].Time), "batch must be time-ordered")
	}
	assert.Equal(t, day.Add(10*time.Hour+100*time.Millisecond), batch[0].Time)
}

func TestFetchHoursFailedHourYieldsEmpty(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.blobs[day.Add(10*time.Hour)] = hourBlob(t, 100)
	fetcher.errs[day.Add(11*time.Hour)] = errors.New("upstream down")

	sched := NewScheduler(fetcher, &fakeSink{}, 0, 0)
	hours := []time.Time{day.Add(10 * time.Hour), day.Add(11 * time.Hour)}

	ticks, stats := sched.FetchHours(context.Background(), "EURUSD", hours)
	assert.Len(t, ticks, 1, "failed hour contributes zero ticks, not an abort")
	assert.Equal(t, 1, stats.HoursProcessed)
	assert.Equal(t, 1, stats.HoursFailed)
}

func TestFetchHoursDecodeFailureIsEmpty(t *testing.T) {
	hour := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.blobs[hour] = []byte("definitely not lzma data")

	sched := NewScheduler(fetcher, &fakeSink{}, 0, 0)
	ticks, stats := sched.FetchHours(context.Background(), "EURUSD", []time.Time{hour})

	assert.Empty(t, ticks)
	assert.Equal(t, 1, stats.HoursProcessed)
	assert.Zero(t, stats.HoursFailed, "decode failure is not a fetch failure")
}

func TestIngestRangeWritesPerDay(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)

	fetcher := newFakeFetcher()
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		fetcher.blobs[d.Add(9*time.Hour)] = hourBlob(t, 500)
	}

	sink := &fakeSink{}
	sched := NewScheduler(fetcher, sink, 0, 2)

	stats, err := sched.IngestRange(context.Background(), "EURUSD", start, end)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TicksWritten)
	assert.Equal(t, 3*hoursPerDay, stats.HoursProcessed)
	assert.Equal(t, 3, sink.batchCount(), "one write per day with data")

	// Each batch stays within its own day.
	for _, batch := range sink.batches {
		day := batch[0].Time.Truncate(24 * time.Hour)
		for _, tick := range batch {
			assert.Equal(t, day, tick.Time.Truncate(24*time.Hour))
		}
	}
}

func TestIngestRangeStorageFailureStopsRun(t *testing.T) {
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	fetcher := newFakeFetcher()
	fetcher.blobs[start.Add(9*time.Hour)] = hourBlob(t, 500)

	sink := &fakeSink{err: errors.New("database down")}
	sched := NewScheduler(fetcher, sink, 0, 0)

	_, err := sched.IngestRange(context.Background(), "EURUSD", start, start.AddDate(0, 0, 6))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database down")
}

func TestIngestRangeEmptyRange(t *testing.T) {
	sched := NewScheduler(newFakeFetcher(), &fakeSink{}, 0, 0)
	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := sched.IngestRange(context.Background(), "EURUSD", start, start.AddDate(0, 0, -1))
	assert.Error(t, err)
}

func TestDayHelpers(t *testing.T) {
	date := time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)

	hours := DayHours(date)
	require.Len(t, hours, 24)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), hours[0])
	assert.Equal(t, time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC), hours[23])

	days := DaysBetween(
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), days[1])
}
