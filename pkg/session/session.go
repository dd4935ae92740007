package session

import (
	"context"
	"time"

	"github.com/cuemby/swms/pkg/client"
	"github.com/cuemby/swms/pkg/events"
	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/types"
	"github.com/rs/zerolog"
)

// Change describes a session transition
type Change int

const (
	// LoggedIn follows a successful Login
	LoggedIn Change = iota
	// LoggedOut follows Logout
	LoggedOut
	// AuthLost follows an unrecoverable 401; the session is already cleared
	AuthLost
	// PasswordChanged follows a successful ChangePassword
	PasswordChanged
)

func (c Change) String() string {
	switch c {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	case AuthLost:
		return "auth_lost"
	case PasswordChanged:
		return "password_changed"
	default:
		return "unknown"
	}
}

// API is the part of the backend client the controller uses
type API interface {
	Login(ctx context.Context, creds types.Credentials) (*types.Profile, error)
	Logout(ctx context.Context) error
	ChangePassword(ctx context.Context, req types.ChangePasswordRequest) (string, error)
}

// Store is the part of the token store the controller uses
type Store interface {
	SetSession(access, refresh string, profile *types.Profile) error
	UpdateProfile(profile *types.Profile) error
	AccessToken() (string, bool)
	User() (*types.Profile, bool)
	Clear() error
	IsExpired(token string) bool
	ExpiresAt(token string) (time.Time, bool)
}

// Controller exposes login, logout and password change, and answers
// questions about the current session
type Controller struct {
	api    API
	store  Store
	broker *events.Broker
	logger zerolog.Logger
}

// New creates a session controller
func New(api API, store Store) *Controller {
	return &Controller{
		api:    api,
		store:  store,
		broker: events.NewBroker(),
		logger: log.WithComponent("session"),
	}
}

// Login authenticates and persists the session. Failures are reported in
// the outcome, never as an error.
func (c *Controller) Login(ctx context.Context, creds types.Credentials) types.Outcome[*types.Profile] {
	profile, err := c.api.Login(ctx, creds)
	if err != nil {
		c.logger.Info().Str("email", creds.Email).Str("reason", err.Error()).Msg("Login failed")
		return types.Failed[*types.Profile](client.Message(err))
	}
	if profile.AccessToken == "" {
		c.logger.Warn().Str("email", creds.Email).Msg("Login response carried no access token")
		return types.Failed[*types.Profile]("Login failed. Please try again.")
	}

	// Tokens live under their own keys; the cached profile does not repeat them
	cached := *profile
	cached.AccessToken = ""
	cached.RefreshToken = ""

	if err := c.store.SetSession(profile.AccessToken, profile.RefreshToken, &cached); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist session")
		return types.Failed[*types.Profile]("Failed to save session")
	}

	logger := log.WithUserID(profile.UserID)
	logger.Info().Strs("roles", profile.Roles).Msg("Logged in")
	c.publish(LoggedIn)
	return types.Succeeded(&cached, "")
}

// Logout tells the backend, ignoring any failure, and always clears the
// local session afterwards
func (c *Controller) Logout(ctx context.Context) {
	defer func() {
		if err := c.store.Clear(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to clear session")
		}
		c.publish(LoggedOut)
	}()

	if err := c.api.Logout(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Backend logout failed, clearing local session anyway")
	}
}

// ChangePassword changes the password. On success the cached profile no
// longer requires a password change; no re-login or refresh is needed.
func (c *Controller) ChangePassword(ctx context.Context, req types.ChangePasswordRequest) types.Outcome[string] {
	message, err := c.api.ChangePassword(ctx, req)
	if err != nil {
		c.logger.Info().Str("reason", err.Error()).Msg("Password change failed")
		return types.Failed[string](client.Message(err))
	}

	if profile, ok := c.store.User(); ok && profile.IsTempPassword {
		profile.IsTempPassword = false
		if err := c.store.UpdateProfile(profile); err != nil {
			c.logger.Error().Err(err).Msg("Failed to update cached profile")
		}
	}

	c.publish(PasswordChanged)
	return types.Succeeded(message, message)
}

// HandleAuthLost is wired as the client's auth-lost hook
func (c *Controller) HandleAuthLost() {
	c.logger.Warn().Msg("Session expired")
	c.publish(AuthLost)
}

// IsAuthenticated reports whether an unexpired access token is stored
func (c *Controller) IsAuthenticated() bool {
	token, ok := c.store.AccessToken()
	return ok && !c.store.IsExpired(token)
}

// CurrentUser returns the cached profile
func (c *Controller) CurrentUser() (*types.Profile, bool) {
	return c.store.User()
}

// MustChangePassword reports whether the user still holds a temporary password
func (c *Controller) MustChangePassword() bool {
	profile, _ := c.store.User()
	return profile.MustChangePassword()
}

// HasRole reports whether the current user holds role
func (c *Controller) HasRole(role string) bool {
	profile, _ := c.store.User()
	return profile.HasRole(role)
}

// HasAnyRole reports whether the current user holds at least one of roles
func (c *Controller) HasAnyRole(roles ...string) bool {
	profile, _ := c.store.User()
	for _, role := range roles {
		if profile.HasRole(role) {
			return true
		}
	}
	return false
}

// AccessTokenExpiry returns the exp claim of the stored access token
func (c *Controller) AccessTokenExpiry() (time.Time, bool) {
	token, ok := c.store.AccessToken()
	if !ok {
		return time.Time{}, false
	}
	return c.store.ExpiresAt(token)
}

// Subscribe registers fn for session changes
func (c *Controller) Subscribe(fn func(change Change)) events.Subscription {
	return c.broker.Subscribe(events.EventSessionChanged, func(event *events.Event) {
		if change, ok := event.Payload.(Change); ok {
			fn(change)
		}
	})
}

// Unsubscribe removes a handler registered with Subscribe
func (c *Controller) Unsubscribe(sub events.Subscription) bool {
	return c.broker.Unsubscribe(sub)
}

func (c *Controller) publish(change Change) {
	c.broker.Publish(&events.Event{Type: events.EventSessionChanged, Payload: change})
}
