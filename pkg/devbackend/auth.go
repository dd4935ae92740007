package devbackend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

const minPasswordLength = 8

// Claims is the access token payload
type Claims struct {
	NameID string   `json:"nameid"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	Role   []string `json:"role"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

func userIDFrom(ctx context.Context) int64 {
	claims := claimsFrom(ctx)
	if claims == nil {
		return 0
	}
	id, _ := strconv.ParseInt(claims.NameID, 10, 64)
	return id
}

// issueTokens mints an access token and a refresh token for user.
// Callers hold s.mu.
func (s *Server) issueTokens(user types.User) (access, refresh string, expiresAt time.Time, err error) {
	now := s.now()
	expiresAt = now.Add(s.accessTTL)

	claims := Claims{
		NameID: strconv.FormatInt(user.UserID, 10),
		Email:  user.Email,
		Name:   user.FullName,
		Role:   user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	refresh = uuid.NewString()
	s.refresh[refresh] = refreshGrant{userID: user.UserID, expiresAt: now.Add(s.refreshTTL)}
	return access, refresh, expiresAt, nil
}

// VerifyToken validates an access token and returns its claims
func (s *Server) VerifyToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected token signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	s.mu.RLock()
	_, revoked := s.revoked[claims.ID]
	s.mu.RUnlock()
	if revoked {
		return nil, errors.New("token has been revoked")
	}
	return claims, nil
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "")
			return
		}

		claims, err := s.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected bearer token")
			writeError(w, http.StatusUnauthorized, "")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "")
				return
			}
			for _, held := range claims.Role {
				if held == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "")
		})
	}
}

// loginLimiter keeps one token bucket per client address
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	return &loginLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func (s *Server) rateLimitLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		if !s.limiter.allow(addr) {
			s.logger.Warn().Str("client", addr).Msg("Login rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds types.Credentials
	if err := decodeBody(r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if creds.Email == "" || creds.Password == "" {
		writeError(w, http.StatusBadRequest, "", "Email and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(creds.Email))]
	var acct *account
	if ok {
		acct = s.accounts[id]
	}
	if acct == nil || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(creds.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if !acct.user.IsActive {
		writeError(w, http.StatusUnauthorized, "Account is deactivated")
		return
	}

	access, refresh, expiresAt, err := s.issueTokens(acct.user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	now := s.now().UTC()
	acct.user.LastLoginDate = &now

	writeData(w, http.StatusOK, "Login successful", types.Profile{
		UserID:         acct.user.UserID,
		FullName:       acct.user.FullName,
		Email:          acct.user.Email,
		EmployeeNo:     acct.user.EmployeeNo,
		Roles:          acct.user.Roles,
		IsTempPassword: acct.user.IsTempPassword,
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req types.RefreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.refresh[req.RefreshToken]
	if !ok || !s.now().Before(grant.expiresAt) {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	acct, ok := s.accounts[grant.userID]
	if !ok || !acct.user.IsActive {
		delete(s.refresh, req.RefreshToken)
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	// Refresh tokens are single use
	delete(s.refresh, req.RefreshToken)

	access, refresh, _, err := s.issueTokens(acct.user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue tokens")
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	writeData(w, http.StatusOK, "", types.TokenPair{AccessToken: access, RefreshToken: refresh})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req types.ChangePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	var errs []string
	if len(req.NewPassword) < minPasswordLength {
		errs = append(errs, fmt.Sprintf("New password must be at least %d characters", minPasswordLength))
	}
	if req.NewPassword != req.ConfirmPassword {
		errs = append(errs, "Passwords do not match")
	}
	if len(errs) > 0 {
		writeError(w, http.StatusBadRequest, "", errs...)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userIDFrom(r.Context())]
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.CurrentPassword)) != nil {
		writeError(w, http.StatusBadRequest, "Current password is incorrect")
		return
	}

	acct.passwordHash = hash
	acct.user.IsTempPassword = false
	acct.tempPassword = ""
	writeData(w, http.StatusOK, "Password changed successfully", true)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	userID := userIDFrom(r.Context())

	s.mu.Lock()
	if claims.ExpiresAt != nil {
		s.revoked[claims.ID] = claims.ExpiresAt.Time
	}
	for token, grant := range s.refresh {
		if grant.userID == userID {
			delete(s.refresh, token)
		}
	}
	s.mu.Unlock()

	s.hub.disconnectUser(userID)
	writeData(w, http.StatusOK, "Logged out", nil)
}
