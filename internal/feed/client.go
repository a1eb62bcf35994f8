package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tickstore/internal/domain"
	"tickstore/internal/util"
)

// fetchAttempts is the total number of tries for one hour before the hour
// is surfaced as failed. The backoff schedule between attempts is 1s, 2s.
const (
	fetchAttempts  = 3
	fetchBaseDelay = time.Second
)

// Client retrieves hourly bi5 blobs from the vendor datafeed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *util.RateLimiter
	log        *slog.Logger
	baseDelay  time.Duration
}

// NewClient creates a feed client rooted at baseURL. requestsPerSec bounds
// the request rate toward the vendor host; timeout applies per request.
func NewClient(baseURL string, timeout time.Duration, requestsPerSec float64) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    util.NewRateLimiter(requestsPerSec),
		log:        slog.Default().With("component", "feed"),
		baseDelay:  fetchBaseDelay,
	}
}

// HourURL builds the vendor URL for one (symbol, hour) blob. The vendor
// path uses zero-indexed months.
func (c *Client) HourURL(symbol string, hour time.Time) string {
	hour = hour.UTC()
	return fmt.Sprintf("%s/%s/%d/%02d/%02d/%02dh_ticks.bi5",
		c.baseURL, symbol,
		hour.Year(), int(hour.Month())-1, hour.Day(), hour.Hour())
}

// FetchHour retrieves the compressed blob for one hour. A 404 from the
// vendor means no data was published for that hour; it returns (nil, nil)
// immediately and is never retried. Transient failures are retried with
// exponential backoff before surfacing an error for the hour.
func (c *Client) FetchHour(ctx context.Context, symbol string, hourStart time.Time) ([]byte, error) {
	url := c.HourURL(symbol, hourStart)

	var (
		body   []byte
		absent bool
	)
	err := util.Retry(ctx, fetchAttempts, c.baseDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			// No data published for this hour. Not an error.
			absent = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s: %w", url, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if absent {
		c.log.Debug("no data published", "symbol", symbol, "hour", hourStart)
		return nil, nil
	}
	return body, nil
}

// ProbeHour issues a HEAD request to check whether the vendor has published
// data for the given hour without downloading the blob.
func (c *Client) ProbeHour(ctx context.Context, symbol string, hour time.Time) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.HourURL(symbol, hour), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, nil
}

// probeOffsets is the back-search order for finding the latest published
// hour: likely publication delays first, then progressively older hours.
var probeOffsets = []int{1, 2, 0, 3, 4, 5, 6, 12, 24}

// LatestAvailableHour finds the most recent hour with published data for a
// symbol by HEAD-probing back from the current hour. It returns false when
// no probed hour has data.
func (c *Client) LatestAvailableHour(ctx context.Context, symbol string, now time.Time) (time.Time, bool) {
	currentHour := domain.TruncateHour(now)

	for _, hoursBack := range probeOffsets {
		checkTime := currentHour.Add(-time.Duration(hoursBack) * time.Hour)
		ok, err := c.ProbeHour(ctx, symbol, checkTime)
		if err != nil {
			c.log.Warn("availability probe failed", "symbol", symbol, "hour", checkTime, "err", err)
			continue
		}
		if ok {
			return checkTime, true
		}
	}
	return time.Time{}, false
}
