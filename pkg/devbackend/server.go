package devbackend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// Seeded administrator
const (
	SeedAdminEmail    = "a@b.com"
	SeedAdminPassword = "Secret1!"
)

// Defaults
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultSecret     = "swms-development-secret"
)

type account struct {
	user         types.User
	passwordHash []byte
	tempPassword string
}

type refreshGrant struct {
	userID    int64
	expiresAt time.Time
}

// Server is an in-memory implementation of the backend REST API and
// notification hub, for development and tests
type Server struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	limiter    *loginLimiter
	hub        *Hub
	logger     zerolog.Logger
	router     chi.Router

	mu            sync.RWMutex
	nextUserID    int64
	nextNoticeID  int64
	accounts      map[int64]*account
	byEmail       map[string]int64
	refresh       map[string]refreshGrant
	revoked       map[string]time.Time
	notifications map[int64][]*types.Notification
}

// Option configures a Server
type Option func(*Server)

// WithSecret sets the HMAC key used to sign access tokens
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.accessTTL = ttl
	}
}

// WithRefreshTTL sets the refresh token lifetime
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

// WithClock overrides the server clock, including token validation
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLoginRateLimit limits login attempts per client address
func WithLoginRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newLoginLimiter(perSecond, burst)
	}
}

// New creates a server seeded with one administrator
func New(opts ...Option) (*Server, error) {
	s := &Server{
		secret:        []byte(DefaultSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		now:           time.Now,
		limiter:       newLoginLimiter(5, 10),
		logger:        log.WithComponent("devbackend"),
		accounts:      make(map[int64]*account),
		byEmail:       make(map[string]int64),
		refresh:       make(map[string]refreshGrant),
		revoked:       make(map[string]time.Time),
		notifications: make(map[int64][]*types.Notification),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s)

	if _, err := s.AddUser(types.User{
		FullName:   "System Administrator",
		Email:      SeedAdminEmail,
		EmployeeNo: "EMP-0001",
		IsActive:   true,
		Roles:      []string{types.RoleAdmin},
	}, SeedAdminPassword, false); err != nil {
		return nil, fmt.Errorf("failed to seed administrator: %w", err)
	}

	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the REST API and the hub
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the notification hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           60 * 15,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/auth", func(rr chi.Router) {
		rr.With(s.rateLimitLogin).Post("/login", s.handleLogin)
		rr.Post("/refresh-token", s.handleRefresh)
		rr.With(s.authenticate).Post("/change-password", s.handleChangePassword)
		rr.With(s.authenticate).Post("/logout", s.handleLogout)
	})

	r.Route("/api/user", func(rr chi.Router) {
		rr.Use(s.authenticate)
		rr.Get("/dashboard", s.handleDashboard)
		rr.Get("/notifications", s.handleListNotifications)
		rr.Get("/notifications/unread-count", s.handleUnreadCount)
		rr.Post("/notifications/mark-all-read", s.handleMarkAllRead)
		rr.Post("/notifications/{id}/mark-read", s.handleMarkRead)
	})

	r.Route("/api/admin/users", func(rr chi.Router) {
		rr.Use(s.authenticate, requireRole(types.RoleAdmin))
		rr.Get("/", s.handleListUsers)
		rr.Post("/", s.handleCreateUser)
		rr.Get("/{id}", s.handleGetUser)
		rr.Put("/{id}", s.handleUpdateUser)
		rr.Delete("/{id}", s.handleDeleteUser)
		rr.Post("/{id}/deactivate", s.handleDeactivateUser)
		rr.Post("/{id}/resend-password", s.handleResendPassword)
	})

	r.Get("/hubs/notification", s.hub.ServeHTTP)
	return r
}

// AddUser creates an account with the given password
func (s *Server) AddUser(user types.User, password string, temporary bool) (*types.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, exists := s.byEmail[email]; exists {
		return nil, fmt.Errorf("email %s already registered", email)
	}

	s.nextUserID++
	user.UserID = s.nextUserID
	user.Email = email
	user.IsTempPassword = temporary
	if user.CreatedDate.IsZero() {
		user.CreatedDate = s.now().UTC()
	}

	acct := &account{user: user, passwordHash: hash}
	if temporary {
		acct.tempPassword = password
	}
	s.accounts[user.UserID] = acct
	s.byEmail[email] = user.UserID

	created := user
	return &created, nil
}

// TemporaryPassword returns the last temporary password issued to a user
func (s *Server) TemporaryPassword(userID int64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok || acct.tempPassword == "" {
		return "", false
	}
	return acct.tempPassword, true
}

// UserByEmail looks up an account
func (s *Server) UserByEmail(email string) (*types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, false
	}
	user := s.accounts[id].user
	return &user, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func writeData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, types.Envelope[interface{}]{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, errs ...string) {
	writeJSON(w, status, types.Envelope[interface{}]{Success: false, Message: message, Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
