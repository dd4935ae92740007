// Package session is the session controller: login, logout, password change
// and questions about the current user.
//
// Operations report failures as types.Outcome values carrying a message for
// the user; nothing past this boundary returns a raw error. Logout always
// clears the local session, even when the backend cannot be reached.
// IsAuthenticated is true only while an unexpired access token is stored.
//
// Subscribers are told about every transition (LoggedIn, LoggedOut,
// AuthLost, PasswordChanged). The console uses this to start and stop the
// realtime channel.
package session
