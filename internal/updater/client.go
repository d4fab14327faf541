package updater

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/guildpulse/guildsync/internal/domain"
)

// Client talks to the guild update service over HTTP. The service streams
// progress events as JSON lines while it pages through upstream reports,
// which lets the processor checkpoint partial progress before completion.
//
// A token-bucket pacer spaces requests even while budget remains, so a burst
// of queued jobs never hammers the service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
}

// NewClient constructs a Client. requestsPerSec bounds the steady-state call
// rate toward the update service; burst is one so calls are evenly spaced.
func NewClient(baseURL string, timeout time.Duration, requestsPerSec float64) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pacer: rate.NewLimiter(rate.Limit(requestsPerSec), 1),
	}
}

// streamEvent is one JSON line of the update service's response stream.
type streamEvent struct {
	Type     string          `json:"type"` // "progress" or "done"
	Progress domain.Progress `json:"progress"`
	Stats    *Stats          `json:"stats,omitempty"`
}

// FetchAndPersist runs one refresh job to completion, invoking progress for
// every checkpoint the service reports. Cancelling ctx aborts the stream.
func (c *Client) FetchAndPersist(ctx context.Context, guildID string, jobType domain.JobType, progress ProgressFunc) (*Stats, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/guilds/%s/jobs/%s", c.baseURL, guildID, jobType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch guild %s: %w", guildID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrGuildNotFound
	default:
		return nil, &UpstreamError{StatusCode: resp.StatusCode}
	}

	var stats *Stats
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode progress event: %w", err)
		}
		switch ev.Type {
		case "progress":
			if progress != nil {
				progress(ev.Progress)
			}
		case "done":
			stats = ev.Stats
		}
	}
	if err := scanner.Err(); err != nil {
		// The context error takes precedence: a cancelled fetch should be
		// classified as cancellation, not as a broken stream.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read progress stream: %w", err)
	}
	if stats == nil {
		return nil, fmt.Errorf("stream ended without completion event")
	}
	return stats, nil
}

// RecalculateTierLists asks the recompute service to rebuild tier lists.
func (c *Client) RecalculateTierLists(ctx context.Context) error {
	return c.post(ctx, "/v1/recompute/tier-lists")
}

// RecalculateAnalytics asks the recompute service to rebuild raid analytics.
func (c *Client) RecalculateAnalytics(ctx context.Context) error {
	return c.post(ctx, "/v1/recompute/raid-analytics")
}

// RefreshWorldRanks triggers a bulk world-rank refresh for all guilds.
func (c *Client) RefreshWorldRanks(ctx context.Context) error {
	return c.post(ctx, "/v1/maintenance/world-ranks")
}

// RefreshCrests triggers a bulk guild crest refresh.
func (c *Client) RefreshCrests(ctx context.Context) error {
	return c.post(ctx, "/v1/maintenance/crests")
}

func (c *Client) post(ctx context.Context, path string) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	return nil
}

// compile-time checks that Client implements every collaborator interface
var (
	_ GuildUpdater   = (*Client)(nil)
	_ Recalculator   = (*Client)(nil)
	_ MaintenanceAPI = (*Client)(nil)
)
