package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Summary is the payload of the external availability endpoint: per symbol,
// the latest hour known to be published, plus a check timestamp.
type Summary struct {
	Symbols   map[string]SymbolStatus `json:"symbols"`
	CheckedAt time.Time               `json:"checked_at"`
	Totals    SummaryTotals           `json:"summary"`
}

// SymbolStatus reports availability for a single symbol.
type SymbolStatus struct {
	LatestAvailable *time.Time `json:"latest_available"`
	Status          string     `json:"status"`
}

// SummaryTotals carries the cross-symbol rollup.
type SummaryTotals struct {
	TotalSymbols     int        `json:"total_symbols"`
	LatestCommonHour *time.Time `json:"latest_common_hour"`
}

// LatestFor returns the latest available hour for a symbol, when present.
func (s *Summary) LatestFor(symbol string) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	st, ok := s.Symbols[symbol]
	if !ok || st.LatestAvailable == nil {
		return time.Time{}, false
	}
	return *st.LatestAvailable, true
}

// SummaryClient fetches the availability summary with a short TTL cache, so
// repeated polls within the TTL reuse the previous response instead of
// hitting the endpoint again.
type SummaryClient struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	cached    *Summary
	fetchedAt time.Time
}

// NewSummaryClient creates a summary client for the given endpoint URL.
func NewSummaryClient(url string, ttl time.Duration, timeout time.Duration) *SummaryClient {
	return &SummaryClient{
		url:        url,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// WithClock overrides the clock used for TTL decisions. Intended for tests.
func (c *SummaryClient) WithClock(now func() time.Time) *SummaryClient {
	c.now = now
	return c
}

// Latest returns the availability summary, serving a cached copy when it is
// younger than the TTL.
func (c *SummaryClient) Latest(ctx context.Context) (*Summary, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		cached := c.cached
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching availability summary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("availability summary: status %d", resp.StatusCode)
	}

	summary := &Summary{}
	if err := json.NewDecoder(resp.Body).Decode(summary); err != nil {
		return nil, fmt.Errorf("decoding availability summary: %w", err)
	}

	c.mu.Lock()
	c.cached = summary
	c.fetchedAt = c.now()
	c.mu.Unlock()

	return summary, nil
}
