// Package provider implements the remote data provider contract the core
// consumes: keyed read/write operations that fail with typed errors and
// can be cancelled mid-flight, the moderation term-list RPC, the
// moderation log RPC, and a WebSocket stream of term-list version pushes.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	// HostPort is the service address, host:port. Connections are always
	// HTTPS.
	HostPort   string
	APIKey     string
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger

	// ModerationLogRate and ModerationLogBurst bound client-side
	// moderation log writes. Zero values mean 5 per second with a burst
	// of 10.
	ModerationLogRate  float64
	ModerationLogBurst int
}

type errorResponse struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// Client is the HTTP client for the remote data provider.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	skipVerify bool
	logger     *slog.Logger
	modLimiter *limiter
}

// NewClient validates cfg and builds the provider client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, errors.New("hostPort cannot be empty")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("apiKey cannot be empty")
	}

	logger := cfg.Logger.WithGroup("provider_client")

	baseURL, err := url.Parse("https://" + cfg.HostPort)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL for %s", cfg.HostPort)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.SkipVerify,
		},
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		apiKey:     cfg.APIKey,
		skipVerify: cfg.SkipVerify,
		logger:     logger,
		modLimiter: newModerationLimiter(cfg.ModerationLogRate, cfg.ModerationLogBurst),
	}, nil
}

// Query issues a keyed read operation. The result is the raw JSON
// payload; callers unmarshal into their own shape. Cancelling ctx aborts
// the request mid-flight. Server-suggested rate-limit pauses are slept
// out before retrying.
func (c *Client) Query(ctx context.Context, target string, params map[string]string) (json.RawMessage, error) {
	return WithRetries(ctx, c.logger, func() (json.RawMessage, error) {
		var out json.RawMessage
		if err := c.doRequest(ctx, http.MethodGet, "api/v1/"+target, params, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Mutate issues a keyed write operation with a JSON body.
func (c *Client) Mutate(ctx context.Context, target string, body any) error {
	return WithRetriesVoid(ctx, c.logger, func() error {
		return c.doRequest(ctx, http.MethodPost, "api/v1/"+target, nil, body, nil)
	})
}

// Ping checks reachability.
func (c *Client) Ping(ctx context.Context) error {
	return WithRetriesVoid(ctx, c.logger, func() error {
		return c.doRequest(ctx, http.MethodGet, "api/v1/ping", nil, nil, nil)
	})
}

func (c *Client) doRequest(ctx context.Context, method, path string, queryParams map[string]string, body any, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})
	if len(queryParams) > 0 {
		q := reqURL.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		reqURL.RawQuery = q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal request body for %s %s", method, path)
		}
		reqBody = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), reqBody)
	if err != nil {
		return errors.Wrapf(err, "failed to create request %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	c.logger.Debug("sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(err, "http request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if target == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return errors.Wrapf(err, "failed to decode response for %s %s", method, path)
		}
		return nil
	}

	return c.translateStatus(resp)
}

func (c *Client) translateStatus(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	var remote errorResponse
	_ = json.Unmarshal(bodyBytes, &remote)
	message := remote.Message
	if message == "" {
		message = string(bodyBytes)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusNotModified:
		return ErrNotModified
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		retryAfter := 1 * time.Second
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ErrRateLimited{Message: message, RetryAfter: retryAfter}
	default:
		return &ErrRemote{StatusCode: resp.StatusCode, Message: message}
	}
}
