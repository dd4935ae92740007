// Package guard gates navigation on session state, a forced password change
// and role membership.
//
// Check runs its tests in a fixed order: an unauthenticated user goes to the
// login screen; a user on a temporary password goes to the change-password
// screen from anywhere else; a user lacking every required role is
// forbidden. "/" resolves to the dashboard. Navigator applies Check to every
// move and ForceLogin is the hard redirect wired to the client's auth-lost
// hook.
package guard
