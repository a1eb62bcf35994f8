package domain

import (
	"testing"
	"time"
)

func TestClassOf(t *testing.T) {
	cases := []struct {
		symbol string
		want   SymbolClass
	}{
		{"EURUSD", ClassForex},
		{"GBPUSD", ClassForex},
		{"USDJPY", ClassForexJPY},
		{"EURJPY", ClassForexJPY},
		{"usdjpy", ClassForexJPY},
		{"BTCUSD", ClassCrypto},
		{"ethusd", ClassCrypto},
		{"BTCEUR", ClassCrypto},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.symbol); got != tc.want {
			t.Errorf("ClassOf(%q) = %v, want %v", tc.symbol, got, tc.want)
		}
	}
}

func TestPriceScale(t *testing.T) {
	cases := []struct {
		symbol string
		want   float64
	}{
		{"USDJPY", 1_000},
		{"EURUSD", 100_000},
		{"BTCUSD", 10},
	}
	for _, tc := range cases {
		if got := PriceScale(tc.symbol); got != tc.want {
			t.Errorf("PriceScale(%q) = %v, want %v", tc.symbol, got, tc.want)
		}
	}
}

func TestVolumeScale(t *testing.T) {
	if got := VolumeScale(0); got != 0 {
		t.Errorf("VolumeScale(0) = %d, want 0", got)
	}
	if got := VolumeScale(1.5); got != 1_500_000 {
		t.Errorf("VolumeScale(1.5) = %d, want 1500000", got)
	}
	// Negative raw volumes are clamped to zero rather than wrapping.
	if got := VolumeScale(-0.25); got != 0 {
		t.Errorf("VolumeScale(-0.25) = %d, want 0", got)
	}
}

func TestTruncateHour(t *testing.T) {
	in := time.Date(2024, 3, 5, 14, 37, 59, 123456789, time.UTC)
	want := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)
	if got := TruncateHour(in); !got.Equal(want) {
		t.Errorf("TruncateHour(%v) = %v, want %v", in, got, want)
	}
}

func TestIngestStatsAdd(t *testing.T) {
	s := IngestStats{TicksWritten: 10, HoursProcessed: 2}
	s.Add(IngestStats{TicksWritten: 5, HoursProcessed: 3, HoursFailed: 1})
	if s.TicksWritten != 15 || s.HoursProcessed != 5 || s.HoursFailed != 1 {
		t.Errorf("unexpected merged stats: %+v", s)
	}
}
