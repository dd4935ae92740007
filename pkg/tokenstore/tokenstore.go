package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/security"
	"github.com/cuemby/swms/pkg/storage"
	"github.com/cuemby/swms/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Persisted keys
const (
	KeyAccessToken  = "swms_access_token"
	KeyRefreshToken = "swms_refresh_token"
	KeyUser         = "swms_user"
)

// Claims is the subset of the access token payload the client reads
type Claims struct {
	NameID string      `json:"nameid"`
	Email  string      `json:"email"`
	Name   string      `json:"name"`
	Role   interface{} `json:"role"`
	jwt.RegisteredClaims
}

// TokenStore is the sole owner of the persisted session
type TokenStore struct {
	store  storage.Store
	sealer *security.Sealer
	now    func() time.Time
	parser *jwt.Parser
	logger zerolog.Logger
}

// Option configures a TokenStore
type Option func(*TokenStore)

// WithSealer encrypts every persisted value
func WithSealer(s *security.Sealer) Option {
	return func(ts *TokenStore) {
		ts.sealer = s
	}
}

// WithClock overrides the clock used by IsExpired
func WithClock(now func() time.Time) Option {
	return func(ts *TokenStore) {
		ts.now = now
	}
}

// New creates a token store on top of a storage backend
func New(store storage.Store, opts ...Option) *TokenStore {
	ts := &TokenStore{
		store:  store,
		now:    time.Now,
		parser: jwt.NewParser(),
		logger: log.WithComponent("tokenstore"),
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts
}

// SetSession persists the token pair and profile in one transaction
func (ts *TokenStore) SetSession(access, refresh string, profile *types.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	user, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	return ts.put(map[string][]byte{
		KeyAccessToken:  []byte(access),
		KeyRefreshToken: []byte(refresh),
		KeyUser:         user,
	})
}

// SetTokens replaces the token pair, keeping the cached profile
func (ts *TokenStore) SetTokens(access, refresh string) error {
	return ts.put(map[string][]byte{
		KeyAccessToken:  []byte(access),
		KeyRefreshToken: []byte(refresh),
	})
}

// UpdateProfile replaces the cached profile
func (ts *TokenStore) UpdateProfile(profile *types.Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	user, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	return ts.put(map[string][]byte{KeyUser: user})
}

// AccessToken returns the persisted access token
func (ts *TokenStore) AccessToken() (string, bool) {
	value, ok := ts.get(KeyAccessToken)
	if !ok || len(value) == 0 {
		return "", false
	}
	return string(value), true
}

// RefreshToken returns the persisted refresh token
func (ts *TokenStore) RefreshToken() (string, bool) {
	value, ok := ts.get(KeyRefreshToken)
	if !ok || len(value) == 0 {
		return "", false
	}
	return string(value), true
}

// User returns the cached profile. A corrupt entry reads as absent.
func (ts *TokenStore) User() (*types.Profile, bool) {
	value, ok := ts.get(KeyUser)
	if !ok {
		return nil, false
	}

	var profile types.Profile
	if err := json.Unmarshal(value, &profile); err != nil {
		ts.logger.Warn().Err(err).Msg("Discarding corrupt cached profile")
		return nil, false
	}
	return &profile, true
}

// Clear removes the persisted session. Calling it again is a no-op.
func (ts *TokenStore) Clear() error {
	if err := ts.store.Delete(KeyAccessToken, KeyRefreshToken, KeyUser); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// IsExpired reports whether the token's exp claim has passed.
// The signature is not verified; undecodable tokens count as expired.
func (ts *TokenStore) IsExpired(token string) bool {
	claims, err := ts.decode(token)
	if err != nil || claims.ExpiresAt == nil {
		return true
	}
	return !ts.now().Before(claims.ExpiresAt.Time)
}

// ExpiresAt returns the token's exp claim
func (ts *TokenStore) ExpiresAt(token string) (time.Time, bool) {
	claims, err := ts.decode(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Roles returns the role claim of the token, which the backend encodes as
// either a single string or a list
func (ts *TokenStore) Roles(token string) []string {
	claims, err := ts.decode(token)
	if err != nil {
		return []string{}
	}

	switch role := claims.Role.(type) {
	case string:
		return []string{role}
	case []interface{}:
		roles := make([]string, 0, len(role))
		for _, r := range role {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return []string{}
	}
}

func (ts *TokenStore) decode(token string) (*Claims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}

	claims := &Claims{}
	if _, _, err := ts.parser.ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ts *TokenStore) put(entries map[string][]byte) error {
	if ts.sealer != nil {
		for key, value := range entries {
			if len(value) == 0 {
				continue
			}
			sealed, err := ts.sealer.Seal(value)
			if err != nil {
				return fmt.Errorf("failed to seal %s: %w", key, err)
			}
			entries[key] = sealed
		}
	}

	if err := ts.store.PutAll(entries); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

func (ts *TokenStore) get(key string) ([]byte, bool) {
	value, err := ts.store.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			ts.logger.Warn().Err(err).Str("key", key).Msg("Failed to read session entry")
		}
		return nil, false
	}

	if ts.sealer != nil && len(value) > 0 {
		opened, err := ts.sealer.Open(value)
		if err != nil {
			ts.logger.Warn().Err(err).Str("key", key).Msg("Discarding unreadable session entry")
			return nil, false
		}
		value = opened
	}
	return value, true
}
