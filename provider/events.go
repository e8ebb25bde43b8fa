package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type termListPush struct {
	Version  string    `json:"version"`
	PushedAt time.Time `json:"pushed_at"`
}

// SubscribeTermListUpdates connects to the term-list push WebSocket and
// invokes onVersion for every version announcement until ctx is
// cancelled or the connection drops. The caller decides whether to
// reconnect.
func (c *Client) SubscribeTermListUpdates(ctx context.Context, onVersion func(version string)) error {
	wsURL := url.URL{
		Scheme: "wss",
		Host:   c.baseURL.Host,
		Path:   "/api/v1/moderation/terms/subscribe",
	}
	query := wsURL.Query()
	query.Set("token", c.apiKey)
	wsURL.RawQuery = query.Encode()

	c.logger.Info("connecting to term-list update stream", "url", wsURL.String())

	header := http.Header{}
	header.Set("Authorization", c.apiKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.skipVerify,
		},
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "failed to dial websocket %s (status %s)", wsURL.String(), resp.Status)
		}
		return errors.Wrapf(err, "failed to dial websocket %s", wsURL.String())
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		c.logger.Debug("received pong from server")
		return nil
	})

	// Keep the connection alive through proxies and idle timeouts.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Error("error sending ping", "error", err)
					return
				}
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-pingDone:
				return
			}
		}
	}()

	// Unblock ReadMessage when ctx cancels.
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-pingDone:
		}
	}()

	c.logger.Info("subscribed to term-list updates")

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("term-list stream closed, context cancelled")
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("error reading from term-list stream", "error", err)
			} else {
				c.logger.Info("term-list stream closed gracefully", "error", err)
			}
			return err
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		var push termListPush
		if err := json.Unmarshal(message, &push); err != nil {
			c.logger.Error("failed to unmarshal term-list push", "error", err, "message", string(message))
			continue
		}
		if push.Version == "" {
			continue
		}
		if onVersion != nil {
			onVersion(push.Version)
		}
	}
}
