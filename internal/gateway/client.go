// Package gateway is a stateless client for the assistant backend's HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// ClientConfig configures the gateway client
type ClientConfig struct {
	BaseURL string        // e.g., "http://localhost:5000/api"
	Timeout time.Duration // per request; 0 means no deadline
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://localhost:5000/api",
		Timeout: 30 * time.Second,
	}
}

// Observer receives one call per finished request.
type Observer func(op string, elapsed time.Duration, err error)

// Client issues independent requests against the backend. It keeps no
// per-request state and never retries.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.RWMutex
	config   ClientConfig
	observer Observer
}

// NewClient creates a new gateway client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	c := *cfg
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	return &Client{
		config:     c,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// SetObserver installs a request observer, typically metrics.
func (c *Client) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.BaseURL
}

// UpdateBaseURL points the client at another backend.
func (c *Client) UpdateBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.BaseURL = strings.TrimRight(url, "/")
}

// FetchConfig reads the backend's configuration document.
func (c *Client) FetchConfig(ctx context.Context) (*BackendConfig, error) {
	var raw map[string]any
	status, err := c.do(ctx, "config", http.MethodGet, "/config", nil, &raw)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &RejectedError{Op: "config", StatusCode: status}
	}

	// Decode twice so typed fields and the raw document stay in sync.
	b, _ := json.Marshal(raw)
	var cfg BackendConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, &NetworkError{Op: "config", URL: c.url("/config"), Err: err}
	}
	cfg.Raw = raw
	return &cfg, nil
}

// SendCommand submits free text. A rejection returns the decoded result
// together with a *RejectedError.
func (c *Client) SendCommand(ctx context.Context, text string) (*CommandResult, error) {
	return c.command(ctx, "command", http.MethodPost, "/command", commandRequest{Command: text})
}

// QuickAction calls one of the no-argument shortcut endpoints.
func (c *Client) QuickAction(ctx context.Context, kind QuickKind) (*CommandResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown quick action %q", kind)
	}
	return c.command(ctx, string(kind), http.MethodGet, "/"+string(kind), nil)
}

// ListReminders returns the backend's upcoming reminders.
func (c *Client) ListReminders(ctx context.Context) ([]Reminder, error) {
	var list reminderList
	status, err := c.do(ctx, "list_reminders", http.MethodGet, "/reminders", nil, &list)
	if err != nil {
		return nil, err
	}
	if !list.Success {
		return nil, &RejectedError{Op: "list_reminders", StatusCode: status, Message: list.Response, Detail: list.Error}
	}
	if list.Data == nil {
		list.Data = []Reminder{}
	}
	return list.Data, nil
}

// CreateReminderCommand asks the backend to set a reminder through its
// natural-language command path.
func (c *Client) CreateReminderCommand(ctx context.Context, description, at, on string) (*CommandResult, error) {
	return c.SendCommand(ctx, ReminderCommand(description, at, on))
}

// UpdateReminder replaces the text and time of reminder id.
func (c *Client) UpdateReminder(ctx context.Context, id int64, text string, at time.Time) (*CommandResult, error) {
	body := updateRequest{Text: text, Time: at.Format(ISOLayout)}
	return c.command(ctx, "update_reminder", http.MethodPut, "/reminders/"+strconv.FormatInt(id, 10), body)
}

// DeleteReminder removes reminder id.
func (c *Client) DeleteReminder(ctx context.Context, id int64) (*CommandResult, error) {
	return c.command(ctx, "delete_reminder", http.MethodDelete, "/reminders/"+strconv.FormatInt(id, 10), nil)
}

// ClearReminders removes every reminder.
func (c *Client) ClearReminders(ctx context.Context) (*CommandResult, error) {
	return c.command(ctx, "clear_reminders", http.MethodDelete, "/reminders/clear", nil)
}

// ReminderCommand composes the phrase the backend's parser understands,
// e.g. "remind me to call mom at 17:00 on 2024-01-01".
func ReminderCommand(description, at, on string) string {
	var sb strings.Builder
	sb.WriteString("remind me to ")
	sb.WriteString(strings.TrimSpace(description))
	if at = strings.TrimSpace(at); at != "" {
		sb.WriteString(" at ")
		sb.WriteString(at)
	}
	if on = strings.TrimSpace(on); on != "" {
		sb.WriteString(" on ")
		sb.WriteString(on)
	}
	return sb.String()
}

func (c *Client) command(ctx context.Context, op, method, path string, body any) (*CommandResult, error) {
	var result CommandResult
	status, err := c.do(ctx, op, method, path, body, &result)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, &RejectedError{Op: op, StatusCode: status, Message: result.Response, Detail: result.Error}
	}
	return &result, nil
}

// do performs one request and decodes the JSON body into out. Transport and
// decode failures come back as *NetworkError; the status code is returned so
// callers can build a *RejectedError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (status int, err error) {
	c.mu.RLock()
	timeout := c.config.Timeout
	observer := c.observer
	c.mu.RUnlock()

	url := c.url(path)
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if observer != nil {
			observer(op, elapsed, err)
		}
		ev := c.logger.Debug()
		if err != nil {
			ev = c.logger.Warn().Err(err)
		}
		ev.Str("op", op).
			Str("method", method).
			Str("url", url).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("Backend request")
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, &NetworkError{Op: op, URL: url, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, &NetworkError{Op: op, URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &NetworkError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &NetworkError{Op: op, URL: url, Err: fmt.Errorf("read response: %w", err)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, &NetworkError{
			Op:  op,
			URL: url,
			Err: fmt.Errorf("decode response (status %d, body %q): %w", resp.StatusCode, truncateForLog(string(respBody), 120), err),
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) url(path string) string {
	return c.BaseURL() + path
}

// Origin reduces a base URL to scheme://host for user-facing messages.
func Origin(base string) string {
	u, err := neturl.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	return u.Scheme + "://" + u.Host
}

// IsTimeout reports whether err came from a request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// truncateForLog truncates a string for logging purposes, keeping whole runes
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
