// Package client talks to the control API of a running recplay agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"recplay/internal/errkind"
	"recplay/internal/protocol"
	"recplay/internal/session"

	"github.com/gorilla/websocket"
)

// Client is an HTTP and WebSocket client of the control API.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger

	// RetryDelay is the pause between WebSocket reconnection attempts.
	RetryDelay time.Duration
}

// New creates a client for the agent listening on addr ("host:port" or a
// full http URL).
func New(addr, token string, logger *slog.Logger) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse agent address: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:       u,
		token:      token,
		http:       &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "client"),
		RetryDelay: 5 * time.Second,
	}, nil
}

// StartRecording asks the agent to start recording.
func (c *Client) StartRecording(ctx context.Context) (protocol.RecordingStarted, error) {
	var out protocol.RecordingStarted
	err := c.do(ctx, http.MethodPost, "/api/record/start", nil, &out)
	return out, err
}

// StopRecording asks the agent to stop recording. When the recording was
// captured but could not be saved, both the summary and an ErrPersistence
// error are returned.
func (c *Client) StopRecording(ctx context.Context) (protocol.RecordingStopped, error) {
	var out struct {
		protocol.RecordingStopped
		Error *protocol.ErrorBody `json:"error"`
	}
	status, body, err := c.send(ctx, http.MethodPost, "/api/record/stop", nil)
	if err != nil {
		return out.RecordingStopped, err
	}
	if status == http.StatusInternalServerError && json.Unmarshal(body, &out) == nil && out.RunID != "" && out.Error != nil {
		return out.RecordingStopped, toError(*out.Error)
	}
	err = decode(http.MethodPost, "/api/record/stop", status, body, &out)
	return out.RecordingStopped, err
}

// Replay starts a replay of the persisted recording. Zero loops or speed
// leave the choice to the agent's configured defaults.
func (c *Client) Replay(ctx context.Context, loops int, speed float64) (protocol.ReplayStarted, error) {
	q := url.Values{}
	if loops != 0 {
		q.Set("loops", strconv.Itoa(loops))
	}
	if speed != 0 {
		q.Set("speed", strconv.FormatFloat(speed, 'f', -1, 64))
	}
	var out protocol.ReplayStarted
	err := c.do(ctx, http.MethodPost, "/api/replay", q, &out)
	return out, err
}

// Cancel cancels the replay with the given id, or the active replay when id
// is empty.
func (c *Client) Cancel(ctx context.Context, id string) error {
	path := "/api/replay/cancel"
	if id != "" {
		path = "/api/replay/" + url.PathEscape(id) + "/cancel"
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ReplayStatus returns the state of a replay run.
func (c *Client) ReplayStatus(ctx context.Context, id string) (session.ReplayStatus, error) {
	var out session.ReplayStatus
	err := c.do(ctx, http.MethodGet, "/api/replay/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Status returns the agent's session status.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var out session.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Log returns the persisted recording as the agent sees it.
func (c *Client) Log(ctx context.Context) (protocol.LogResponse, error) {
	var out protocol.LogResponse
	err := c.do(ctx, http.MethodGet, "/api/log", nil, &out)
	return out, err
}

// Health checks that the agent is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	status, body, err := c.send(ctx, method, path, q)
	if err != nil {
		return err
	}
	return decode(method, path, status, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, q url.Values) (int, []byte, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return 0, nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	return resp.StatusCode, body, nil
}

func decode(method, path string, status int, body []byte, out any) error {
	if status >= 300 {
		var eb protocol.ErrorBody
		if json.Unmarshal(body, &eb) != nil || eb.Code == "" {
			return fmt.Errorf("%s %s: agent returned status %d: %s", method, path, status, bytes.TrimSpace(body))
		}
		return toError(eb)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// toError turns an API error body back into an errkind error, so callers
// can use errors.Is against the usual sentinels.
func toError(eb protocol.ErrorBody) error {
	return &errkind.Error{Code: eb.Code, Message: eb.Message}
}

// Watch streams session events to fn until ctx is done, reconnecting after
// RetryDelay whenever the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(session.Event)) error {
	for {
		err := c.watchOnce(ctx, fn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Event stream disconnected", "error", err, "retry_in", c.RetryDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.RetryDelay):
			c.logger.Info("Attempting reconnection")
		}
	}
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func (c *Client) watchOnce(ctx context.Context, fn func(session.Event)) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return &errkind.Error{Code: "E_UNAUTHORIZED", Message: "agent rejected the API token"}
		}
		return err
	}
	defer conn.Close()
	c.logger.Info("Connected to event stream", "url", c.wsURL())

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return err
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("Invalid message", "error", err)
			continue
		}
		if msg.Type != protocol.TypeEvent {
			continue
		}
		var ev session.Event
		if err := msg.Decode(&ev); err != nil {
			c.logger.Debug("Invalid event payload", "error", err)
			continue
		}
		fn(ev)
	}
}
