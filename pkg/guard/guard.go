package guard

import (
	"strings"
	"sync"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/types"
	"github.com/rs/zerolog"
)

// Routes
const (
	RouteLogin          = "/login"
	RouteChangePassword = "/change-password"
	RouteDashboard      = "/dashboard"
	RouteAdminDashboard = "/admin/dashboard"
	RouteUserDashboard  = "/user/dashboard"
	RouteAdminUsers     = "/admin/users"
	RouteProfile        = "/profile"
	RouteNotifications  = "/notifications"
	RouteRoot           = "/"
)

// Decision is the outcome of a navigation check
type Decision int

const (
	Allow Decision = iota
	RedirectLogin
	RedirectChangePassword
	Forbidden
	NotFound
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectChangePassword:
		return "redirect_change_password"
	case Forbidden:
		return "forbidden"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Route describes one navigable location
type Route struct {
	Path          string
	Public        bool
	RequiredRoles []string
}

// DefaultRoutes is the console's route table
var DefaultRoutes = []Route{
	{Path: RouteLogin, Public: true},
	{Path: RouteChangePassword},
	{Path: RouteDashboard},
	{Path: RouteAdminDashboard, RequiredRoles: []string{types.RoleAdmin}},
	{Path: RouteUserDashboard},
	{Path: RouteAdminUsers, RequiredRoles: []string{types.RoleAdmin}},
	{Path: RouteNotifications},
	{Path: RouteProfile},
}

// State is what the guard needs to know about the session
type State struct {
	Authenticated      bool
	MustChangePassword bool
	Roles              []string
}

// Session is the part of the session controller the guard reads
type Session interface {
	IsAuthenticated() bool
	CurrentUser() (*types.Profile, bool)
}

// StateOf snapshots a session for Check
func StateOf(s Session) State {
	state := State{Authenticated: s.IsAuthenticated()}
	if profile, ok := s.CurrentUser(); ok {
		state.MustChangePassword = profile.MustChangePassword()
		state.Roles = profile.Roles
	}
	return state
}

// Guard checks navigation against a route table
type Guard struct {
	routes map[string]Route
}

// New creates a guard over routes
func New(routes []Route) *Guard {
	g := &Guard{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		g.routes[r.Path] = r
	}
	return g
}

// Resolve normalises a path and applies the root redirect
func Resolve(path string) string {
	if path == "" {
		return RouteRoot
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == RouteRoot {
		return RouteDashboard
	}
	return path
}

// Check decides whether state may open path. The checks run in order:
// authentication, forced password change, then role membership.
func (g *Guard) Check(path string, state State) Decision {
	route, ok := g.routes[Resolve(path)]
	if !ok {
		return NotFound
	}
	if route.Public {
		return Allow
	}
	if !state.Authenticated {
		return RedirectLogin
	}
	if state.MustChangePassword && route.Path != RouteChangePassword {
		return RedirectChangePassword
	}
	if len(route.RequiredRoles) > 0 && !HasAnyRole(state.Roles, route.RequiredRoles...) {
		return Forbidden
	}
	return Allow
}

// Navigator tracks the current location and applies the guard to every move
type Navigator struct {
	guard   *Guard
	session Session
	logger  zerolog.Logger

	mu       sync.Mutex
	current  string
	from     string
	onChange func(path string)
}

// NewNavigator creates a navigator starting at the login screen
func NewNavigator(g *Guard, s Session) *Navigator {
	return &Navigator{
		guard:   g,
		session: s,
		logger:  log.WithComponent("guard"),
		current: RouteLogin,
	}
}

// OnChange registers fn to be called with every new location
func (n *Navigator) OnChange(fn func(path string)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChange = fn
}

// Navigate tries to open path and returns the decision together with the
// location actually reached. Redirects move there; Forbidden and NotFound
// stay where they are.
func (n *Navigator) Navigate(path string) (Decision, string) {
	target := Resolve(path)
	decision := n.guard.Check(target, StateOf(n.session))

	n.mu.Lock()
	switch decision {
	case Allow:
		n.current = target
	case RedirectLogin:
		n.from = target
		n.current = RouteLogin
	case RedirectChangePassword:
		n.current = RouteChangePassword
	}
	current := n.current
	fn := n.onChange
	n.mu.Unlock()

	n.logger.Debug().Str("path", target).Str("decision", decision.String()).Str("location", current).Msg("Navigation checked")
	if fn != nil {
		fn(current)
	}
	return decision, current
}

// ForceLogin is the hard redirect used when the session is lost
func (n *Navigator) ForceLogin() {
	n.mu.Lock()
	if n.current != RouteLogin {
		n.from = n.current
	}
	n.current = RouteLogin
	fn := n.onChange
	n.mu.Unlock()

	n.logger.Info().Msg("Session lost, redirecting to login")
	if fn != nil {
		fn(RouteLogin)
	}
}

// Current returns the current location
func (n *Navigator) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// ReturnTo returns the location a login redirect interrupted, or the dashboard
func (n *Navigator) ReturnTo() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.from == "" || n.from == RouteLogin {
		return RouteDashboard
	}
	return n.from
}

// IsAdmin reports whether roles include Admin
func IsAdmin(roles []string) bool {
	return HasRole(roles, types.RoleAdmin)
}

// IsManager reports whether roles include Manager
func IsManager(roles []string) bool {
	return HasRole(roles, types.RoleManager)
}

// HasRole reports whether roles include role
func HasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether roles include at least one of required
func HasAnyRole(roles []string, required ...string) bool {
	for _, role := range required {
		if HasRole(roles, role) {
			return true
		}
	}
	return false
}
