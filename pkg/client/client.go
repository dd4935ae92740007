package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline
const DefaultTimeout = 30 * time.Second

// TokenSource is the part of the token store the client depends on
type TokenSource interface {
	AccessToken() (string, bool)
	RefreshToken() (string, bool)
	SetTokens(access, refresh string) error
	Clear() error
}

// refreshState is the single-flight refresh state machine
type refreshState int

const (
	stateIdle refreshState = iota
	stateRefreshing
)

type refreshResult struct {
	token string
	err   error
}

// Client wraps the backend REST API. It attaches the bearer token to every
// request and transparently refreshes it on 401.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	onAuthLost func()
	logger     zerolog.Logger

	mu      sync.Mutex
	state   refreshState
	waiters []chan refreshResult
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout. A client given through
// WithHTTPClient is copied, not modified.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
}

// WithAuthLost registers the hook called after an unrecoverable 401 cleared the
// session. The console uses it to force navigation to the login screen.
func WithAuthLost(fn func()) Option {
	return func(c *Client) {
		c.onAuthLost = fn
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     tokens,
		logger:     log.WithComponent("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetAuthLostHandler replaces the auth-lost hook
func (c *Client) SetAuthLostHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthLost = fn
}

// request describes one logical API call; it may be sent twice
type request struct {
	method    string
	path      string
	query     url.Values
	body      []byte
	anonymous bool // never attach the bearer token
	noRefresh bool // a 401 is returned as-is
	retried   bool
}

// do sends the request and decodes the envelope data into out. It returns the
// backend message of a successful envelope.
func (c *Client) do(ctx context.Context, r *request, out interface{}) (string, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && !r.noRefresh && !r.retried {
		stale := bearerFrom(resp.Request)
		// Mark before refreshing so a request gets at most one refresh cycle
		r.retried = true
		drain(resp)

		if _, err := c.refreshAccessToken(ctx, stale); err != nil {
			return "", err
		}

		resp, err = c.send(ctx, r)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
	}

	return decodeResponse(resp, out)
}

func (c *Client) send(ctx context.Context, r *request) (*http.Response, error) {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	if token, ok := c.tokens.AccessToken(); ok && !r.anonymous {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	timer.ObserveDurationVec(metrics.APIRequestDuration, r.method)

	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(r.method, "error").Inc()
		c.logger.Debug().Err(err).Str("method", r.method).Str("path", r.path).Msg("Request failed")
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	metrics.APIRequestsTotal.WithLabelValues(r.method, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("duration", timer.Duration()).
		Msg("Request completed")

	return resp, nil
}

// refreshAccessToken returns a fresh access token, running at most one refresh
// against the backend no matter how many callers ask concurrently. The refresh
// itself is detached from ctx: a caller that gives up stops waiting, but the
// refresh still completes for everyone else.
func (c *Client) refreshAccessToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()

	if c.state == stateIdle {
		// A refresh finished between our 401 and now: the stored token is
		// already newer than the one that was rejected
		if current, ok := c.tokens.AccessToken(); ok && stale != "" && current != stale {
			c.mu.Unlock()
			return current, nil
		}

		c.state = stateRefreshing
		go c.refreshCycle(context.WithoutCancel(ctx))
	}

	ch := make(chan refreshResult, 1)
	c.waiters = append(c.waiters, ch)
	metrics.TokenRefreshWaiters.Inc()
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", &Error{Kind: KindNetwork, Err: ctx.Err()}
	}
}

// refreshCycle runs one refresh and fans its result out to every waiter
func (c *Client) refreshCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout())
	defer cancel()

	token, err := c.runRefresh(ctx)

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.state = stateIdle
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
		metrics.TokenRefreshWaiters.Dec()
	}
}

func (c *Client) refreshTimeout() time.Duration {
	if c.httpClient.Timeout > 0 {
		return c.httpClient.Timeout
	}
	return DefaultTimeout
}

// runRefresh performs the refresh call and applies its outcome to the session.
// Only a backend rejection ends the session; transport and server failures
// leave it in place for the next attempt.
func (c *Client) runRefresh(ctx context.Context) (string, error) {
	refreshToken, ok := c.tokens.RefreshToken()
	if !ok {
		metrics.TokenRefreshTotal.WithLabelValues("no_refresh_token").Inc()
		c.logger.Warn().Msg("Session expired and no refresh token is stored")
		c.dropSession()
		return "", &Error{Kind: KindAuthExpired, Status: http.StatusUnauthorized, Err: ErrNoRefreshToken}
	}

	pair, err := c.RefreshToken(ctx, refreshToken)
	if err == nil && pair.AccessToken == "" {
		err = &Error{Kind: KindAuthExpired, Status: http.StatusUnauthorized, Message: "refresh returned no access token"}
	}
	if err != nil && !rejected(err) {
		metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("Token refresh did not complete, keeping session")
		return "", err
	}
	if err == nil {
		if err := c.tokens.SetTokens(pair.AccessToken, pair.RefreshToken); err != nil {
			metrics.TokenRefreshTotal.WithLabelValues("error").Inc()
			return "", &Error{Kind: KindUnknown, Err: fmt.Errorf("failed to store refreshed tokens: %w", err)}
		}
	}

	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
		c.logger.Warn().Err(err).Msg("Token refresh rejected, clearing session")
		c.dropSession()

		var apiErr *Error
		if errors.As(err, &apiErr) {
			return "", &Error{
				Kind:    KindAuthExpired,
				Status:  apiErr.Status,
				Message: apiErr.Message,
				Errors:  apiErr.Errors,
				Err:     fmt.Errorf("%w: %v", ErrRefreshFailed, err),
			}
		}
		return "", &Error{Kind: KindAuthExpired, Err: fmt.Errorf("%w: %v", ErrRefreshFailed, err)}
	}

	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	c.logger.Debug().Msg("Access token refreshed")
	return pair.AccessToken, nil
}

// rejected reports whether the backend refused the refresh token itself
func rejected(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Kind == KindValidation {
		return true
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

func (c *Client) dropSession() {
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear session")
	}

	c.mu.Lock()
	hook := c.onAuthLost
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func decodeResponse(resp *http.Response, out interface{}) (string, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Errors  []string        `json:"errors"`
		Data    json.RawMessage `json:"data"`
	}
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{
			Kind:    KindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: env.Message,
			Errors:  env.Errors,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	if len(data) == 0 {
		return "", nil
	}
	if decodeErr != nil {
		return "", &Error{Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}
	if !env.Success {
		return "", &Error{Kind: KindValidation, Status: resp.StatusCode, Message: env.Message, Errors: env.Errors}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Message, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return "", &Error{Kind: KindUnknown, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return env.Message, nil
}

func bearerFrom(req *http.Request) string {
	if req == nil {
		return ""
	}
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
}

func encodeBody(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("failed to encode request: %w", err)}
	}
	return data, nil
}
