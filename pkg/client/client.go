// Package client is a Go client library for pmcd's HTTP Command Surface,
// grounded directly on the teacher's own pkg/client.Client (baseURL +
// http.Client + Config), with the do-request/decode-response shape carried
// over from cmd/provisr/client.go's APIClient. The teacher's pkg/client
// covers a single daemon; this one adds nothing to that shape beyond what
// SPEC_FULL.md's servers.toml multi-remote model needs — a Client value per
// configured remote, each constructed with its own baseURL and token.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/askucher/pmc/internal/procspec"
)

// ProcessView mirrors supervisor.ProcessView's wire shape.
type ProcessView struct {
	ID           int        `json:"ID"`
	Name         string     `json:"Name"`
	State        string     `json:"State"`
	PID          int        `json:"PID"`
	RestartCount int        `json:"RestartCount"`
	Uptime       int64      `json:"Uptime"`
	CPUPercent   float64    `json:"CPUPercent"`
	RSSBytes     uint64     `json:"RSSBytes"`
	LogOut       string     `json:"LogOut"`
	LogErr       string     `json:"LogErr"`
	LastExit     *ExitInfo  `json:"LastExit"`
}

// ExitInfo mirrors table.ExitInfo's wire shape.
type ExitInfo struct {
	Code   int    `json:"Code"`
	Signal string `json:"Signal"`
}

// LogLine mirrors logsink.Line's wire shape.
type LogLine struct {
	Stream string    `json:"Stream"`
	Text   string    `json:"Text"`
	At     time.Time `json:"At"`
}

// APIError is returned for any non-2xx response, carrying the daemon's
// typed error kind for callers to switch on (spec §7).
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (http %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Client talks to one pmcd instance over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client. baseURL is the daemon's root ("http://127.0.0.1:7777"),
// token is the bearer token from servers.toml (empty if the daemon has no
// gate configured).
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func decodeInto[T any](resp *http.Response, out *T) error {
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		var errBody struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{StatusCode: resp.StatusCode, Kind: errBody.Error.Kind, Message: errBody.Error.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Healthy reports whether the daemon answers GET /health.
func (c *Client) Healthy() bool {
	resp, err := c.do(http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// List returns every managed process.
func (c *Client) List() ([]ProcessView, error) {
	resp, err := c.do(http.MethodGet, "/processes", nil)
	if err != nil {
		return nil, err
	}
	var out []ProcessView
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start registers (and spawns) spec, or replaces it if a process by that
// name is already Running (spec §4.8 rule 3).
func (c *Client) Start(spec procspec.Spec) (*ProcessView, error) {
	resp, err := c.do(http.MethodPost, "/processes", spec)
	if err != nil {
		return nil, err
	}
	var out ProcessView
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Details fetches one process by id or name.
func (c *Client) Details(idOrName string) (*ProcessView, error) {
	resp, err := c.do(http.MethodGet, "/processes/"+url.PathEscape(idOrName), nil)
	if err != nil {
		return nil, err
	}
	var out ProcessView
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop signals SIGTERM (escalating to SIGKILL) to idOrName.
func (c *Client) Stop(idOrName string) error {
	resp, err := c.do(http.MethodPost, "/processes/"+url.PathEscape(idOrName)+"/stop", nil)
	if err != nil {
		return err
	}
	return decodeInto[struct{}](resp, nil)
}

// Remove stops (if Running) and deletes idOrName from the process table.
func (c *Client) Remove(idOrName string) error {
	resp, err := c.do(http.MethodDelete, "/processes/"+url.PathEscape(idOrName), nil)
	if err != nil {
		return err
	}
	return decodeInto[struct{}](resp, nil)
}

// Restart stops and respawns idOrName with its existing spec.
func (c *Client) Restart(idOrName string) (*ProcessView, error) {
	resp, err := c.do(http.MethodPost, "/processes/"+url.PathEscape(idOrName)+"/restart", nil)
	if err != nil {
		return nil, err
	}
	var out ProcessView
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Flush truncates idOrName's captured log files.
func (c *Client) Flush(idOrName string) error {
	resp, err := c.do(http.MethodPost, "/processes/"+url.PathEscape(idOrName)+"/flush", nil)
	if err != nil {
		return err
	}
	return decodeInto[struct{}](resp, nil)
}

// LogsTail returns the last n captured lines for idOrName.
func (c *Client) LogsTail(idOrName string, n int) ([]LogLine, error) {
	path := fmt.Sprintf("/processes/%s/logs?lines=%d", url.PathEscape(idOrName), n)
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var out []LogLine
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save persists the current process table to disk.
func (c *Client) Save() error {
	resp, err := c.do(http.MethodPost, "/save", nil)
	if err != nil {
		return err
	}
	return decodeInto[struct{}](resp, nil)
}

// Restore reloads the persisted process table, respawning previously
// Running entries.
func (c *Client) Restore() error {
	resp, err := c.do(http.MethodPost, "/restore", nil)
	if err != nil {
		return err
	}
	return decodeInto[struct{}](resp, nil)
}

// LogsStream opens a WebSocket subscription to idOrName's live output,
// delivering lines on the returned channel until ctx-independent Close is
// called or the connection drops. The channel is closed on either event.
func (c *Client) LogsStream(idOrName string) (<-chan LogLine, func() error, error) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/processes/" + url.PathEscape(idOrName) + "/logs/stream"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan LogLine, 64)
	go func() {
		defer close(out)
		for {
			var line LogLine
			if err := conn.ReadJSON(&line); err != nil {
				return
			}
			out <- line
		}
	}()
	return out, conn.Close, nil
}
