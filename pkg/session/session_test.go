package session

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/devbackend"
	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/tokenstore"
	"github.com/cuemby/swms/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	backend *devbackend.Server
	client  *client.Client
	tokens  *tokenstore.TokenStore
	session *Controller
}

func newFixture(t *testing.T, clk *clock, opts ...devbackend.Option) *fixture {
	t.Helper()

	var storeOpts []tokenstore.Option
	if clk != nil {
		opts = append(opts, devbackend.WithClock(clk.Now))
		storeOpts = append(storeOpts, tokenstore.WithClock(clk.Now))
	}

	backend, err := devbackend.New(opts...)
	require.NoError(t, err)
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	tokens := tokenstore.New(storage.NewMemoryStore(), storeOpts...)
	c := client.NewClient(server.URL, tokens)
	ctrl := New(c, tokens)
	c.SetAuthLostHandler(ctrl.HandleAuthLost)

	return &fixture{backend: backend, client: c, tokens: tokens, session: ctrl}
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func TestLoginWithValidCredentials(t *testing.T) {
	f := newFixture(t, nil)

	out := f.session.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "Secret1!"})
	require.True(t, out.OK, out.Message)

	assert.True(t, f.session.IsAuthenticated())
	user, ok := f.session.CurrentUser()
	require.True(t, ok)
	assert.NotEmpty(t, user.Roles)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Empty(t, user.AccessToken, "tokens are not duplicated in the cached profile")

	access, ok := f.tokens.AccessToken()
	require.True(t, ok)
	assert.NotEmpty(t, access)
	_, ok = f.tokens.RefreshToken()
	assert.True(t, ok)

	assert.True(t, f.session.HasRole(types.RoleAdmin))
	assert.True(t, f.session.HasAnyRole(types.RoleManager, types.RoleAdmin))
	assert.False(t, f.session.HasAnyRole(types.RoleManager))
	assert.False(t, f.session.MustChangePassword())

	expiry, ok := f.session.AccessTokenExpiry()
	require.True(t, ok)
	assert.True(t, expiry.After(time.Now()))
}

func TestLoginFailureReportsMessage(t *testing.T) {
	f := newFixture(t, nil)

	out := f.session.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "nope"})
	assert.False(t, out.OK)
	assert.Equal(t, "Invalid email or password", out.Message)
	assert.Nil(t, out.Value)

	assert.False(t, f.session.IsAuthenticated())
	_, ok := f.session.CurrentUser()
	assert.False(t, ok)
}

func TestLogoutWithUnreachableBackend(t *testing.T) {
	tokens := tokenstore.New(storage.NewMemoryStore())
	server := httptest.NewServer(nil)
	url := server.URL
	server.Close()

	c := client.NewClient(url, tokens, client.WithTimeout(time.Second))
	ctrl := New(c, tokens)

	require.NoError(t, tokens.SetSession(
		signedToken(t, time.Now().Add(time.Hour)),
		"refresh",
		&types.Profile{UserID: 1, Roles: []string{types.RoleUser}},
	))
	require.True(t, ctrl.IsAuthenticated())

	var changes []Change
	ctrl.Subscribe(func(change Change) { changes = append(changes, change) })

	ctrl.Logout(context.Background())

	assert.False(t, ctrl.IsAuthenticated())
	_, ok := tokens.RefreshToken()
	assert.False(t, ok)
	_, ok = ctrl.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, []Change{LoggedOut}, changes)
}

func TestIsAuthenticatedRequiresUnexpiredToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := tokenstore.New(storage.NewMemoryStore(), tokenstore.WithClock(func() time.Time { return now }))
	ctrl := New(client.NewClient("http://127.0.0.1:1", tokens), tokens)

	assert.False(t, ctrl.IsAuthenticated())

	require.NoError(t, tokens.SetTokens(signedToken(t, now.Add(-time.Second)), "r"))
	assert.False(t, ctrl.IsAuthenticated())

	require.NoError(t, tokens.SetTokens(signedToken(t, now.Add(time.Minute)), "r"))
	assert.True(t, ctrl.IsAuthenticated())

	require.NoError(t, tokens.SetTokens("garbage", "r"))
	assert.False(t, ctrl.IsAuthenticated())
}

func TestExpiredAccessTokenRefreshesTransparently(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f := newFixture(t, clk, devbackend.WithAccessTTL(time.Minute))

	require.True(t, f.session.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "Secret1!"}).OK)

	clk.Advance(5 * time.Minute)
	assert.False(t, f.session.IsAuthenticated())

	stats, err := f.client.DashboardStats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats.UnreadNotifications)

	assert.True(t, f.session.IsAuthenticated())
	_, ok := f.session.CurrentUser()
	assert.True(t, ok, "refresh keeps the cached profile")
}

func TestRefreshFailureReportsAuthLost(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f := newFixture(t, clk, devbackend.WithAccessTTL(time.Minute), devbackend.WithRefreshTTL(2*time.Minute))

	var changes []Change
	f.session.Subscribe(func(change Change) { changes = append(changes, change) })

	require.True(t, f.session.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "Secret1!"}).OK)
	clk.Advance(time.Hour)

	_, err := f.client.UnreadCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrRefreshFailed)

	assert.False(t, f.session.IsAuthenticated())
	_, ok := f.session.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, []Change{LoggedIn, AuthLost}, changes)
}

func TestChangePasswordClearsTemporaryFlag(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.backend.AddUser(types.User{
		FullName: "New Hire",
		Email:    "new@b.com",
		IsActive: true,
		Roles:    []string{types.RoleUser},
	}, "Temp-pass1", true)
	require.NoError(t, err)

	out := f.session.Login(context.Background(), types.Credentials{Email: "new@b.com", Password: "Temp-pass1"})
	require.True(t, out.OK, out.Message)
	assert.True(t, out.Value.IsTempPassword)
	assert.True(t, f.session.MustChangePassword())

	failed := f.session.ChangePassword(context.Background(), types.ChangePasswordRequest{
		CurrentPassword: "wrong-password",
		NewPassword:     "Better-pass1",
		ConfirmPassword: "Better-pass1",
	})
	assert.False(t, failed.OK)
	assert.Equal(t, "Current password is incorrect", failed.Message)
	assert.True(t, f.session.MustChangePassword())

	accessBefore, _ := f.tokens.AccessToken()

	changed := f.session.ChangePassword(context.Background(), types.ChangePasswordRequest{
		CurrentPassword: "Temp-pass1",
		NewPassword:     "Better-pass1",
		ConfirmPassword: "Better-pass1",
	})
	require.True(t, changed.OK, changed.Message)
	assert.Equal(t, "Password changed successfully", changed.Value)
	assert.False(t, f.session.MustChangePassword())

	accessAfter, _ := f.tokens.AccessToken()
	assert.Equal(t, accessBefore, accessAfter, "no refresh or re-login is needed")
	assert.True(t, f.session.IsAuthenticated())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t, nil)

	var changes []Change
	sub := f.session.Subscribe(func(change Change) { changes = append(changes, change) })

	require.True(t, f.session.Login(context.Background(), types.Credentials{Email: "a@b.com", Password: "Secret1!"}).OK)
	assert.True(t, f.session.Unsubscribe(sub))
	f.session.Logout(context.Background())

	assert.Equal(t, []Change{LoggedIn}, changes)
	assert.Equal(t, "logged_in", LoggedIn.String())
	assert.Equal(t, "auth_lost", AuthLost.String())
}
