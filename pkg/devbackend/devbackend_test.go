package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/realtime"
	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/tokenstore"
	"github.com/cuemby/swms/pkg/types"
	"github.com/gorilla/websocket"
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

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func loggedInClient(t *testing.T, baseURL, email, password string) (*client.Client, *tokenstore.TokenStore, *types.Profile) {
	t.Helper()
	tokens := tokenstore.New(storage.NewMemoryStore())
	c := client.NewClient(baseURL, tokens)

	profile, err := c.Login(context.Background(), types.Credentials{Email: email, Password: password})
	require.NoError(t, err)
	require.NoError(t, tokens.SetSession(profile.AccessToken, profile.RefreshToken, profile))
	return c, tokens, profile
}

func TestLoginSeededAdmin(t *testing.T) {
	srv, ts := newTestServer(t)
	_, _, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)

	assert.Equal(t, SeedAdminEmail, profile.Email)
	assert.Equal(t, []string{types.RoleAdmin}, profile.Roles)
	assert.False(t, profile.IsTempPassword)
	assert.NotEmpty(t, profile.RefreshToken)

	claims, err := srv.VerifyToken(profile.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "1", claims.NameID)
	assert.Equal(t, []string{types.RoleAdmin}, claims.Role)
}

func TestLoginInvalidCredentials(t *testing.T) {
	_, ts := newTestServer(t)
	c := client.NewClient(ts.URL, tokenstore.New(storage.NewMemoryStore()))

	_, err := c.Login(context.Background(), types.Credentials{Email: SeedAdminEmail, Password: "wrong"})
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindAuthExpired))
	assert.Equal(t, "Invalid email or password", client.Message(err))
}

func TestLoginRateLimit(t *testing.T) {
	_, ts := newTestServer(t, WithLoginRateLimit(0.001, 2))
	c := client.NewClient(ts.URL, tokenstore.New(storage.NewMemoryStore()))
	creds := types.Credentials{Email: SeedAdminEmail, Password: "wrong"}

	for i := 0; i < 2; i++ {
		_, err := c.Login(context.Background(), creds)
		require.Error(t, err)
		assert.Equal(t, "Invalid email or password", client.Message(err))
	}

	_, err := c.Login(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, "Too many login attempts. Please try again later.", client.Message(err))
}

func TestExpiredTokenIsRefreshedTransparently(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	srv, ts := newTestServer(t, WithClock(clk.Now), WithAccessTTL(time.Minute))
	c, tokens, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)

	clk.Advance(2 * time.Minute)
	_, err := srv.VerifyToken(profile.AccessToken)
	require.Error(t, err)

	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	access, _ := tokens.AccessToken()
	assert.NotEqual(t, profile.AccessToken, access)
	refresh, _ := tokens.RefreshToken()
	assert.NotEqual(t, profile.RefreshToken, refresh)
}

func TestRefreshTokenIsSingleUse(t *testing.T) {
	_, ts := newTestServer(t)
	_, _, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)
	c := client.NewClient(ts.URL, tokenstore.New(storage.NewMemoryStore()))

	pair, err := c.RefreshToken(context.Background(), profile.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = c.RefreshToken(context.Background(), profile.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "Invalid refresh token", client.Message(err))
}

func TestLogoutRevokesTokens(t *testing.T) {
	srv, ts := newTestServer(t)
	c, _, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)

	require.NoError(t, c.Logout(context.Background()))

	_, err := srv.VerifyToken(profile.AccessToken)
	assert.Error(t, err)

	_, err = c.RefreshToken(context.Background(), profile.RefreshToken)
	assert.Error(t, err)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/user/notifications/unread-count")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminUserLifecycle(t *testing.T) {
	srv, ts := newTestServer(t)
	admin, _, _ := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)
	ctx := context.Background()

	created, err := admin.CreateUser(ctx, types.CreateUserRequest{
		FullName:   "Dana Operator",
		Email:      "Dana@Example.com",
		EmployeeNo: "EMP-0002",
		RoleIDs:    []int64{types.RoleIDs[types.RoleUser]},
	})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", created.Email)
	assert.True(t, created.IsTempPassword)
	assert.Equal(t, []string{types.RoleUser}, created.Roles)

	_, err = admin.CreateUser(ctx, types.CreateUserRequest{
		FullName: "Dup",
		Email:    "dana@example.com",
		RoleIDs:  []int64{3},
	})
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindValidation))

	users, err := admin.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	// The new user logs in with the temporary password and must change it
	temp, ok := srv.TemporaryPassword(created.UserID)
	require.True(t, ok)
	user, _, profile := loggedInClient(t, ts.URL, "dana@example.com", temp)
	assert.True(t, profile.IsTempPassword)

	_, err = user.ListUsers(ctx)
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindAuthzDenied))

	_, err = user.ChangePassword(ctx, types.ChangePasswordRequest{
		CurrentPassword: temp,
		NewPassword:     "short",
		ConfirmPassword: "different",
	})
	require.Error(t, err)
	assert.Equal(t, "New password must be at least 8 characters, Passwords do not match", client.Message(err))

	msg, err := user.ChangePassword(ctx, types.ChangePasswordRequest{
		CurrentPassword: temp,
		NewPassword:     "NewSecret1!",
		ConfirmPassword: "NewSecret1!",
	})
	require.NoError(t, err)
	assert.Equal(t, "Password changed successfully", msg)
	_, stillTemp := srv.TemporaryPassword(created.UserID)
	assert.False(t, stillTemp)

	require.NoError(t, admin.UpdateUser(ctx, created.UserID, types.UpdateUserRequest{
		UserID:   created.UserID,
		FullName: "Dana Manager",
		Email:    "dana@example.com",
		IsActive: true,
		RoleIDs:  []int64{types.RoleIDs[types.RoleManager]},
	}))
	got, err := admin.GetUser(ctx, created.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Dana Manager", got.FullName)
	assert.Equal(t, []string{types.RoleManager}, got.Roles)

	require.NoError(t, admin.ResendTemporaryPassword(ctx, created.UserID))
	_, ok = srv.TemporaryPassword(created.UserID)
	assert.True(t, ok)

	require.NoError(t, admin.DeactivateUser(ctx, created.UserID))
	_, err = user.Login(ctx, types.Credentials{Email: "dana@example.com", Password: "NewSecret1!"})
	require.Error(t, err)

	require.NoError(t, admin.DeleteUser(ctx, created.UserID))
	_, err = admin.GetUser(ctx, created.UserID)
	require.Error(t, err)
	assert.True(t, client.IsKind(err, client.KindNotFound))
}

func TestCreateUserValidation(t *testing.T) {
	_, ts := newTestServer(t)
	admin, _, _ := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)

	_, err := admin.CreateUser(context.Background(), types.CreateUserRequest{Email: "not-an-email"})
	require.Error(t, err)
	assert.Equal(t, "Full name is required, Email is invalid, At least one role is required", client.Message(err))
}

func TestNotifications(t *testing.T) {
	srv, ts := newTestServer(t)
	c, _, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		srv.Push(profile.UserID, types.Notification{Title: "n", Message: "m"})
	}

	page, err := c.Notifications(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, types.NotificationInfo, page[0].Kind)

	page, err = c.Notifications(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(1), page[0].ID)

	require.NoError(t, c.MarkNotificationRead(ctx, 2))
	count, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	err = c.MarkNotificationRead(ctx, 99)
	assert.True(t, client.IsKind(err, client.KindNotFound))

	require.NoError(t, c.MarkAllNotificationsRead(ctx))
	count, err = c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stats, err := c.DashboardStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.TotalUsers)
	assert.Equal(t, 1, *stats.TotalUsers)
	require.NotNil(t, stats.UnreadNotifications)
	assert.Equal(t, 0, *stats.UnreadNotifications)
}

func TestHubRejectsInvalidToken(t *testing.T) {
	_, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/hubs/notification?access_token=bogus"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubDeliversPush(t *testing.T) {
	srv, ts := newTestServer(t)
	_, _, profile := loggedInClient(t, ts.URL, SeedAdminEmail, SeedAdminPassword)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/hubs/notification?access_token=" + profile.AccessToken

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	handshake, err := realtime.EncodeRecord(realtime.DefaultHandshake)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, handshake))

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}\x1e"), frame)

	require.Eventually(t, func() bool { return srv.Hub().ConnectionCount(profile.UserID) == 1 }, time.Second, 5*time.Millisecond)
	pushed := srv.Push(profile.UserID, types.Notification{Title: "Hello", Kind: types.NotificationSuccess})

	_, frame, err = conn.ReadMessage()
	require.NoError(t, err)
	records := realtime.SplitRecords(frame)
	require.Len(t, records, 1)

	var msg realtime.HubMessage
	require.NoError(t, json.Unmarshal(records[0], &msg))
	assert.Equal(t, realtime.MessageInvocation, msg.Type)
	assert.Equal(t, realtime.ReceiveNotification, msg.Target)
	require.Len(t, msg.Arguments, 1)

	var n types.Notification
	require.NoError(t, json.NewDecoder(bytes.NewReader(msg.Arguments[0])).Decode(&n))
	assert.Equal(t, pushed.ID, n.ID)
	assert.Equal(t, "Hello", n.Title)
	assert.False(t, n.IsRead)
}
