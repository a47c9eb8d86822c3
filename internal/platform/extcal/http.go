package extcal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// maxFeedBytes caps the size of a feed response.
const maxFeedBytes = 4 << 20

// feedResponse is the body of GET {base}/professionals/{id}/events.
type feedResponse struct {
	Events []Event `json:"events"`
}

// HTTPFeed reads events from a JSON calendar feed and expands recurrences.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
	name    string
	logger  zerolog.Logger
}

// NewHTTPFeed returns a feed rooted at baseURL. Every request is bounded by
// timeout.
func NewHTTPFeed(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPFeed {
	return &HTTPFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		name:    "http",
		logger:  logger.With().Str("component", "extcal_http").Logger(),
	}
}

func (f *HTTPFeed) ListBusyBlocks(ctx context.Context, professionalID int64, from, to time.Time) ([]Block, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	endpoint := f.baseURL + "/professionals/" + strconv.FormatInt(professionalID, 10) + "/events?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create calendar request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar of professional %d: %w", professionalID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read calendar response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// Professionals without a linked calendar have nothing busy.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar feed returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode calendar response: %w", err)
	}
	blocks, err := Expand(professionalID, f.name, feed.Events, from, to)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Int64("professional_id", professionalID).Int("events", len(feed.Events)).
		Int("blocks", len(blocks)).Dur("latency", time.Since(start)).Msg("calendar fetched")
	return blocks, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
