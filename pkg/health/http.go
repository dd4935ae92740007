package health

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// DefaultTimeout bounds a single probe
const DefaultTimeout = 5 * time.Second

// HTTPChecker probes one backend URL
type HTTPChecker struct {
	URL     string
	Method  string
	Body    []byte
	Headers map[string]string

	// ExpectedStatusMin and ExpectedStatusMax bound the healthy status range
	ExpectedStatusMin int
	ExpectedStatusMax int

	Client *http.Client

	kind CheckType
}

// NewReachabilityChecker checks that anything answers at baseURL + path.
// Every HTTP status counts as reachable.
func NewReachabilityChecker(baseURL, path string) *HTTPChecker {
	return &HTTPChecker{
		URL:               strings.TrimRight(baseURL, "/") + path,
		Method:            http.MethodGet,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 100,
		ExpectedStatusMax: 599,
		Client:            &http.Client{Timeout: DefaultTimeout},
		kind:              CheckTypeReachability,
	}
}

// NewLoginChecker posts empty credentials to the login endpoint. Any answer
// below 500 other than 404 shows the auth API is mounted.
func NewLoginChecker(baseURL string) *HTTPChecker {
	return &HTTPChecker{
		URL:               strings.TrimRight(baseURL, "/") + "/api/auth/login",
		Method:            http.MethodPost,
		Body:              []byte(`{"email":"","password":""}`),
		Headers:           map[string]string{"Content-Type": "application/json"},
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 499,
		Client:            &http.Client{Timeout: DefaultTimeout},
		kind:              CheckTypeLogin,
	}
}

// Check performs the probe
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := Result{Check: h.kind, CheckedAt: start}

	var body *bytes.Reader
	if h.Body != nil {
		body = bytes.NewReader(h.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, body)
	if err != nil {
		result.Message = fmt.Sprintf("failed to create request: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	result.Duration = time.Since(start)
	if err != nil {
		result.Message = describe(err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Healthy = resp.StatusCode >= h.ExpectedStatusMin &&
		resp.StatusCode <= h.ExpectedStatusMax &&
		!(h.kind == CheckTypeLogin && resp.StatusCode == http.StatusNotFound)

	result.Message = fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !result.Healthy {
		result.Message = fmt.Sprintf("%s from %s", result.Message, h.URL)
	}
	return result
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return h.kind
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// WithClient replaces the HTTP client, keeping the current timeout if the
// new client has none
func (h *HTTPChecker) WithClient(hc *http.Client) *HTTPChecker {
	if hc.Timeout == 0 {
		hc.Timeout = h.Client.Timeout
	}
	h.Client = hc
	return h
}

// Probe runs the reachability and login checks against baseURL
func Probe(ctx context.Context, baseURL string, hc *http.Client) []Result {
	checkers := []*HTTPChecker{
		NewReachabilityChecker(baseURL, "/"),
		NewLoginChecker(baseURL),
	}
	results := make([]Result, 0, len(checkers))
	for _, c := range checkers {
		if hc != nil {
			c.WithClient(hc)
		}
		results = append(results, c.Check(ctx))
	}
	return results
}

func describe(err error) string {
	var certErr x509.UnknownAuthorityError
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused: backend is not running"
	case errors.As(err, &certErr):
		return "TLS certificate is not trusted"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "Timeout: backend took too long to respond"
	default:
		return fmt.Sprintf("request failed: %v", err)
	}
}
