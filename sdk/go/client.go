package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"taskquest/core"
)

// Option configures the Client.
type Option func(*Client)

// Client provides typed access to the TaskQuest HTTP + WebSocket API.
type Client struct {
	baseURL    string
	wsURL      string
	httpClient *http.Client
	headers    http.Header
}

// NewClient constructs a new SDK client targeting the given baseURL (e.g., http://localhost:8080/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	c := &Client{
		baseURL:    baseURL,
		wsURL:      deriveWSURL(baseURL),
		httpClient: http.DefaultClient,
		headers:    make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithAuthToken adds an Authorization: Bearer token header to all requests (HTTP + WS).
func WithAuthToken(token string) Option {
	return func(c *Client) {
		if strings.TrimSpace(token) != "" {
			c.headers.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithAPIKey adds an X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.headers.Set("X-API-Key", key)
		}
	}
}

// WithHeader sets an arbitrary header applied to HTTP and WS calls.
func WithHeader(k, v string) Option {
	return func(c *Client) {
		if k != "" {
			c.headers.Set(k, v)
		}
	}
}

// CreateUser provisions an empty ledger for the user.
func (c *Client) CreateUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, u, nil)
}

// Login records a login for the user and returns any unlocks it triggered.
func (c *Client) Login(ctx context.Context, userID string) (CheckResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CheckResult{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/login", c.baseURL, url.PathEscape(userID))
	var res CheckResult
	if err := c.do(ctx, http.MethodPost, u, &res); err != nil {
		return CheckResult{}, err
	}
	return res, nil
}

// CompleteTask records a completed task with its point reward and optional
// category, and returns any unlocks it triggered.
func (c *Client) CompleteTask(ctx context.Context, userID string, category string, points int64) (CheckResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CheckResult{}, ErrEmptyUserID
	}
	u, err := url.Parse(fmt.Sprintf("%s/users/%s/tasks", c.baseURL, url.PathEscape(userID)))
	if err != nil {
		return CheckResult{}, err
	}
	q := u.Query()
	q.Set("points", fmt.Sprintf("%d", points))
	if category != "" {
		q.Set("category", category)
	}
	u.RawQuery = q.Encode()

	var res CheckResult
	if err := c.do(ctx, http.MethodPost, u.String(), &res); err != nil {
		return CheckResult{}, err
	}
	return res, nil
}

// Check runs an unlock pass for the user without recording new activity.
func (c *Client) Check(ctx context.Context, userID string) (CheckResult, error) {
	if strings.TrimSpace(userID) == "" {
		return CheckResult{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/achievements/check", c.baseURL, url.PathEscape(userID))
	var res CheckResult
	if err := c.do(ctx, http.MethodPost, u, &res); err != nil {
		return CheckResult{}, err
	}
	return res, nil
}

// GetProgress fetches the user's per-achievement progress.
func (c *Client) GetProgress(ctx context.Context, userID string) ([]ProgressItem, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s/achievements", c.baseURL, url.PathEscape(userID))
	var resp struct {
		Achievements []ProgressItem `json:"achievements"`
	}
	if err := c.do(ctx, http.MethodGet, u, &resp); err != nil {
		return nil, err
	}
	return resp.Achievements, nil
}

// GetUser fetches the user's full ledger snapshot.
func (c *Client) GetUser(ctx context.Context, userID string) (Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return Snapshot{}, ErrEmptyUserID
	}
	u := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(userID))
	var snap Snapshot
	if err := c.do(ctx, http.MethodGet, u, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Leaderboard fetches the top n users by point balance.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	u := fmt.Sprintf("%s/leaderboard?n=%d", c.baseURL, n)
	var resp struct {
		Entries []LeaderboardEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, u, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Health probes /healthz and returns status + storage check.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	u := c.baseURL + "/healthz"
	var hs HealthStatus
	if err := c.do(ctx, http.MethodGet, u, &hs); err != nil {
		return HealthStatus{}, err
	}
	return hs, nil
}

// SubscribeEvents connects to the WebSocket stream and emits core.Event values.
// The returned channel closes when ctx is done or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan core.Event, error) {
	if c.wsURL == "" {
		return nil, errors.New("wsURL is not set; ensure baseURL is http/https")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, c.headers)
	if err != nil {
		return nil, err
	}

	out := make(chan core.Event, 32)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
				var evt core.Event
				if err := conn.ReadJSON(&evt); err != nil {
					return
				}
				select {
				case out <- evt:
				default:
					// drop if consumer is slow
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) do(ctx context.Context, method, u string, target any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, target)
}

func (c *Client) applyHeaders(r *http.Request) {
	for k, vals := range c.headers {
		for _, v := range vals {
			r.Header.Add(k, v)
		}
	}
}

func deriveWSURL(httpBase string) string {
	u, err := url.Parse(httpBase)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		// leave as-is for custom schemes
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}
