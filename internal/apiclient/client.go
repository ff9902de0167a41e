package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskflow/dashboard/internal/observability"
	"taskflow/dashboard/internal/session"
)

const defaultTimeout = 30 * time.Second

type TokenSource interface {
	AccessToken() (string, bool)
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	log        *slog.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = observability.Discard()
	}

	return &Client{
		baseURL:    base,
		httpClient: hc,
		tokens:     cfg.Tokens,
		log:        log,
	}, nil
}

func (c *Client) Profile(ctx context.Context) (UserProfile, error) {
	var w userWire
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, true, &w); err != nil {
		return UserProfile{}, err
	}
	return w.profile(), nil
}

func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, nil, true, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Project{}
	}
	return out, nil
}

// RecentTasks fetches GET /tasks?limit=n. A non-positive limit means
// RecentTasksLimit.
func (c *Client) RecentTasks(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = RecentTasksLimit
	}
	q := url.Values{"limit": []string{strconv.Itoa(limit)}}

	var page taskPage
	if err := c.do(ctx, http.MethodGet, "/tasks", q, nil, true, &page); err != nil {
		return nil, err
	}
	out := make([]Task, 0, len(page.Items))
	for _, w := range page.Items {
		out = append(out, w.task())
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (session.Session, error) {
	return c.credentials(ctx, "/auth/login", map[string]string{"email": email, "password": password})
}

func (c *Client) Register(ctx context.Context, email, password string) (session.Session, error) {
	return c.credentials(ctx, "/auth/register", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new pair. Nothing in the client
// calls it automatically.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	return c.credentials(ctx, "/auth/refresh", map[string]string{"refresh_token": refreshToken})
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, false, nil)
}

func (c *Client) credentials(ctx context.Context, path string, body any) (session.Session, error) {
	var pair tokenPair
	if err := c.do(ctx, http.MethodPost, path, nil, body, false, &pair); err != nil {
		return session.Session{}, err
	}
	if pair.AccessToken == "" {
		return session.Session{}, fmt.Errorf("%w: %s returned no access token", ErrServer, path)
	}
	return session.Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, authed bool, out any) error {
	var token string
	if authed {
		var ok bool
		if c.tokens != nil {
			token, ok = c.tokens.AccessToken()
		}
		if !ok {
			return fmt.Errorf("%s %s: %w: no session held", method, path, ErrUnauthorized)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug("api request failed", "method", method, "path", path, "request_id", reqID, "error", err)
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", ErrNetwork, path, err)
	}
	c.log.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", reqID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return fmt.Errorf("%w: %s returned an empty body", ErrServer, path)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrServer, path, err)
	}
	return nil
}
