package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/tokenstore"
	"github.com/cuemby/swms/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"message": message,
		"data":    data,
	})
}

// refreshBackend accepts only currentToken on /api/user/notifications/unread-count
type refreshBackend struct {
	mu            sync.Mutex
	currentToken  string
	refreshCalls  int32
	refreshDelay  time.Duration
	refreshStatus int
	nextAccess    string
	nextRefresh   string
}

func (b *refreshBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		want := "Bearer " + b.currentToken
		b.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			writeEnvelope(w, http.StatusUnauthorized, false, "", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "", 3)
	})
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.refreshCalls, 1)
		time.Sleep(b.refreshDelay)

		if r.Header.Get("Authorization") != "" {
			writeEnvelope(w, http.StatusBadRequest, false, "refresh must be anonymous", nil)
			return
		}
		if b.refreshStatus != 0 && b.refreshStatus != http.StatusOK {
			writeEnvelope(w, b.refreshStatus, false, "Invalid refresh token", nil)
			return
		}

		var body types.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken != "refresh-1" {
			writeEnvelope(w, http.StatusUnauthorized, false, "Invalid refresh token", nil)
			return
		}

		b.mu.Lock()
		b.currentToken = b.nextAccess
		b.mu.Unlock()
		writeEnvelope(w, http.StatusOK, true, "", types.TokenPair{AccessToken: b.nextAccess, RefreshToken: b.nextRefresh})
	})
	return mux
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *tokenstore.TokenStore, *int32) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := tokenstore.New(storage.NewMemoryStore())
	var authLost int32
	c := NewClient(server.URL, tokens, WithAuthLost(func() {
		atomic.AddInt32(&authLost, 1)
	}))
	return c, tokens, &authLost
}

func TestBearerTokenAttached(t *testing.T) {
	var seen []string
	var mu sync.Mutex
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeEnvelope(w, http.StatusOK, true, "", 0)
	})

	c, tokens, _ := newTestClient(t, handler)
	ctx := context.Background()

	_, err := c.UnreadCount(ctx)
	require.NoError(t, err)

	require.NoError(t, tokens.SetTokens("access-1", "refresh-1"))
	_, err = c.UnreadCount(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "Bearer access-1"}, seen)
}

func TestSingleFlightRefresh(t *testing.T) {
	backend := &refreshBackend{
		currentToken: "access-2",
		nextAccess:   "access-2",
		nextRefresh:  "refresh-2",
		refreshDelay: 150 * time.Millisecond,
	}
	c, tokens, authLost := newTestClient(t, backend.handler())
	require.NoError(t, tokens.SetTokens("access-1", "refresh-1"))

	const requests = 10
	var wg sync.WaitGroup
	errs := make([]error, requests)
	counts := make([]int, requests)
	start := make(chan struct{})

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			counts[i], errs[i] = c.UnreadCount(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < requests; i++ {
		require.NoError(t, errs[i], "request %d", i)
		assert.Equal(t, 3, counts[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(authLost))

	access, _ := tokens.AccessToken()
	refresh, _ := tokens.RefreshToken()
	assert.Equal(t, "access-2", access)
	assert.Equal(t, "refresh-2", refresh)
}

func TestRefreshFailureRejectsAllWaiters(t *testing.T) {
	backend := &refreshBackend{
		currentToken:  "never-issued",
		refreshStatus: http.StatusUnauthorized,
		refreshDelay:  150 * time.Millisecond,
	}
	c, tokens, authLost := newTestClient(t, backend.handler())
	require.NoError(t, tokens.SetSession("access-1", "refresh-1", &types.Profile{UserID: 1}))

	const requests = 8
	var wg sync.WaitGroup
	errs := make([]error, requests)
	start := make(chan struct{})

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = c.UnreadCount(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	for i, err := range errs {
		require.Error(t, err, "request %d", i)
		assert.True(t, IsKind(err, KindAuthExpired), "request %d: %v", i, err)
	}

	// Requests that saw the failure directly carry the sentinel. Late arrivals
	// find no refresh token and fail fast without another refresh call.
	sentinelSeen := 0
	for _, err := range errs {
		if errors.Is(err, ErrRefreshFailed) {
			sentinelSeen++
		} else {
			assert.ErrorIs(t, err, ErrNoRefreshToken)
		}
	}
	assert.GreaterOrEqual(t, sentinelSeen, 1)

	_, ok := tokens.AccessToken()
	assert.False(t, ok)
	_, ok = tokens.User()
	assert.False(t, ok)
	assert.GreaterOrEqual(t, atomic.LoadInt32(authLost), int32(1))
}

func TestCancelledCallerDoesNotEndSharedRefresh(t *testing.T) {
	backend := &refreshBackend{
		currentToken: "access-2",
		nextAccess:   "access-2",
		nextRefresh:  "refresh-2",
		refreshDelay: 300 * time.Millisecond,
	}
	c, tokens, authLost := newTestClient(t, backend.handler())
	require.NoError(t, tokens.SetSession("access-1", "refresh-1", &types.Profile{UserID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := c.UnreadCount(ctx)
		firstErr <- err
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.refreshCalls) == 1
	}, time.Second, 5*time.Millisecond)

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	err = <-firstErr
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork), "%v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(authLost))
	access, _ := tokens.AccessToken()
	assert.Equal(t, "access-2", access)
	_, ok := tokens.User()
	assert.True(t, ok)
}

func TestRefreshServerErrorKeepsSession(t *testing.T) {
	backend := &refreshBackend{
		currentToken:  "never-issued",
		refreshStatus: http.StatusServiceUnavailable,
	}
	c, tokens, authLost := newTestClient(t, backend.handler())
	require.NoError(t, tokens.SetSession("access-1", "refresh-1", &types.Profile{UserID: 1}))

	_, err := c.UnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindServer), "%v", err)
	assert.NotErrorIs(t, err, ErrRefreshFailed)

	assert.Equal(t, int32(0), atomic.LoadInt32(authLost))
	refresh, ok := tokens.RefreshToken()
	require.True(t, ok)
	assert.Equal(t, "refresh-1", refresh)
}

func TestNoRefreshTokenClearsSession(t *testing.T) {
	backend := &refreshBackend{currentToken: "other"}
	c, tokens, authLost := newTestClient(t, backend.handler())
	require.NoError(t, tokens.SetSession("access-1", "", &types.Profile{UserID: 1}))

	_, err := c.UnreadCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, "Unauthorized. Please login again.", Message(err))

	assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(authLost))
	_, ok := tokens.AccessToken()
	assert.False(t, ok)
}

func TestRepeated401RefreshesOnce(t *testing.T) {
	var refreshCalls, protectedCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/user/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&protectedCalls, 1)
		writeEnvelope(w, http.StatusUnauthorized, false, "", nil)
	})
	mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&refreshCalls, 1)
		writeEnvelope(w, http.StatusOK, true, "", types.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})

	c, tokens, authLost := newTestClient(t, mux)
	require.NoError(t, tokens.SetTokens("access-1", "refresh-1"))

	_, err := c.UnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthExpired))
	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&protectedCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(authLost))
}

func TestErrorStatusesPropagate(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		kind    Kind
		message string
	}{
		{"forbidden", http.StatusForbidden, KindAuthzDenied, "You do not have permission to perform this action."},
		{"not found", http.StatusNotFound, KindNotFound, "Resource not found."},
		{"server error", http.StatusInternalServerError, KindServer, "Server error. Please try again later."},
		{"bad gateway", http.StatusBadGateway, KindServer, "Server error. Please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refreshCalls int32
			mux := http.NewServeMux()
			mux.HandleFunc("/api/admin/users", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			mux.HandleFunc("/api/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&refreshCalls, 1)
			})

			c, tokens, _ := newTestClient(t, mux)
			require.NoError(t, tokens.SetTokens("access-1", "refresh-1"))

			_, err := c.ListUsers(context.Background())
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.kind, apiErr.Kind)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.message, Message(err))
			assert.Equal(t, int32(0), atomic.LoadInt32(&refreshCalls))
		})
	}
}

func TestValidationErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"errors":  []string{"Email is required", "Full name is required"},
		})
	})
	c, _, _ := newTestClient(t, mux)

	_, err := c.CreateUser(context.Background(), types.CreateUserRequest{})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindValidation))
	assert.Equal(t, "Email is required, Full name is required", Message(err))
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, false, "Invalid email or password", nil)
	})
	c, _, _ := newTestClient(t, mux)

	_, err := c.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", Message(err))
}

func TestNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, tokenstore.New(storage.NewMemoryStore()), WithTimeout(time.Second))
	_, err := c.UnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.Equal(t, "Network error. Please check your connection.", Message(err))
}

func TestWithTimeoutLeavesCallerClientUntouched(t *testing.T) {
	hc := &http.Client{}
	c := NewClient("http://localhost", tokenstore.New(storage.NewMemoryStore()),
		WithHTTPClient(hc), WithTimeout(2*time.Second))

	assert.Equal(t, time.Duration(0), hc.Timeout)
	assert.Equal(t, 2*time.Second, c.httpClient.Timeout)
	assert.NotSame(t, hc, c.httpClient)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "boom", Message(errors.New("boom")))
	assert.Equal(t, "An unexpected error occurred", Message(&Error{Kind: KindUnknown}))
	assert.Equal(t, "backend says no", Message(&Error{Kind: KindServer, Message: "backend says no"}))
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindAuthExpired, KindForStatus(401))
	assert.Equal(t, KindAuthzDenied, KindForStatus(403))
	assert.Equal(t, KindNotFound, KindForStatus(404))
	assert.Equal(t, KindValidation, KindForStatus(422))
	assert.Equal(t, KindServer, KindForStatus(503))
	assert.Equal(t, KindUnknown, KindForStatus(418))
}
