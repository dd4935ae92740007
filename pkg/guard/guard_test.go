package guard

import (
	"testing"

	"github.com/cuemby/swms/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCheck(t *testing.T) {
	g := New(DefaultRoutes)

	admin := State{Authenticated: true, Roles: []string{types.RoleAdmin}}
	user := State{Authenticated: true, Roles: []string{types.RoleUser}}
	temp := State{Authenticated: true, MustChangePassword: true, Roles: []string{types.RoleAdmin}}
	anon := State{}

	tests := []struct {
		name  string
		path  string
		state State
		want  Decision
	}{
		{"login is public", RouteLogin, anon, Allow},
		{"anonymous redirected", RouteDashboard, anon, RedirectLogin},
		{"anonymous admin route redirected", RouteAdminUsers, anon, RedirectLogin},
		{"user dashboard", RouteDashboard, user, Allow},
		{"root resolves to dashboard", "/", user, Allow},
		{"empty resolves to dashboard", "", user, Allow},
		{"trailing slash", "/notifications/", user, Allow},
		{"user on admin route", RouteAdminUsers, user, Forbidden},
		{"admin on admin route", RouteAdminUsers, admin, Allow},
		{"temp password forced", RouteDashboard, temp, RedirectChangePassword},
		{"temp password on admin route", RouteAdminUsers, temp, RedirectChangePassword},
		{"temp password may change it", RouteChangePassword, temp, Allow},
		{"unknown route", "/nope", admin, NotFound},
		{"unknown route anonymous", "/nope", anon, NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Check(tt.path, tt.state))
		})
	}
}

type fakeSession struct {
	authenticated bool
	profile       *types.Profile
}

func (f *fakeSession) IsAuthenticated() bool { return f.authenticated }

func (f *fakeSession) CurrentUser() (*types.Profile, bool) {
	return f.profile, f.profile != nil
}

func TestNavigator(t *testing.T) {
	s := &fakeSession{}
	nav := NewNavigator(New(DefaultRoutes), s)

	var seen []string
	nav.OnChange(func(path string) { seen = append(seen, path) })

	decision, at := nav.Navigate(RouteNotifications)
	assert.Equal(t, RedirectLogin, decision)
	assert.Equal(t, RouteLogin, at)
	assert.Equal(t, RouteNotifications, nav.ReturnTo())

	s.authenticated = true
	s.profile = &types.Profile{Roles: []string{types.RoleUser}, IsTempPassword: true}
	decision, at = nav.Navigate(nav.ReturnTo())
	assert.Equal(t, RedirectChangePassword, decision)
	assert.Equal(t, RouteChangePassword, at)

	s.profile.IsTempPassword = false
	decision, at = nav.Navigate(RouteAdminUsers)
	assert.Equal(t, Forbidden, decision)
	assert.Equal(t, RouteChangePassword, at, "forbidden keeps the current location")

	decision, at = nav.Navigate("/")
	assert.Equal(t, Allow, decision)
	assert.Equal(t, RouteDashboard, at)

	nav.ForceLogin()
	assert.Equal(t, RouteLogin, nav.Current())
	assert.Equal(t, RouteDashboard, nav.ReturnTo())

	assert.Equal(t, []string{RouteLogin, RouteChangePassword, RouteChangePassword, RouteDashboard, RouteLogin}, seen)
}

func TestRoleHelpers(t *testing.T) {
	roles := []string{types.RoleManager, types.RoleUser}

	assert.False(t, IsAdmin(roles))
	assert.True(t, IsManager(roles))
	assert.True(t, HasRole(roles, types.RoleUser))
	assert.True(t, HasAnyRole(roles, types.RoleAdmin, types.RoleUser))
	assert.False(t, HasAnyRole(roles))
	assert.False(t, HasAnyRole(nil, types.RoleAdmin))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "redirect_change_password", RedirectChangePassword.String())
	assert.Equal(t, "unknown", Decision(42).String())
}
