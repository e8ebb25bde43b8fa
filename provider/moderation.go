package provider

import (
	"context"
	"net/http"

	"github.com/CrestLabs/coherent/models"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Moderation log writes are best-effort and bursty (every sensitive-term
// match produces one), so the client throttles them rather than letting
// a hot loop hammer the service.
const (
	defaultModerationLogRate  = rate.Limit(5)
	defaultModerationLogBurst = 10
)

type limiter struct {
	rl *rate.Limiter
}

func newModerationLimiter(ratePerSec float64, burst int) *limiter {
	limit := rate.Limit(ratePerSec)
	if limit <= 0 {
		limit = defaultModerationLogRate
	}
	if burst <= 0 {
		burst = defaultModerationLogBurst
	}
	return &limiter{rl: rate.NewLimiter(limit, burst)}
}

// FetchTermList retrieves the moderation term list. Passing the version
// the caller already holds lets the server answer ErrNotModified instead
// of shipping the full list.
func (c *Client) FetchTermList(ctx context.Context, haveVersion string) (*models.TermList, error) {
	params := map[string]string{}
	if haveVersion != "" {
		params["if_version"] = haveVersion
	}

	return WithRetries(ctx, c.logger, func() (*models.TermList, error) {
		var list models.TermList
		if err := c.doRequest(ctx, http.MethodGet, "api/v1/moderation/terms", params, nil, &list); err != nil {
			return nil, err
		}
		if list.Version == "" {
			return nil, errors.New("term list response missing version")
		}
		return &list, nil
	})
}

// RecordModeration ships one moderation log entry. Calls beyond the
// client-side rate limit are dropped, not queued; the log is best-effort
// by contract.
func (c *Client) RecordModeration(ctx context.Context, entry models.ModerationLogEntry) error {
	if !c.modLimiter.rl.Allow() {
		c.logger.Debug("moderation log entry dropped by client-side limiter", "entry", entry.EntryID)
		return nil
	}
	return c.doRequest(ctx, http.MethodPost, "api/v1/moderation/log", nil, entry, nil)
}
