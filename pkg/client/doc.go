/*
Package client provides a Go client library for the SWMS backend REST API.

Every response from the backend is wrapped in an envelope of the form
{success, message, errors, data}. The client unwraps it, attaches the bearer
token from the token store and recovers expired sessions transparently.

# Architecture

	┌──────────────────── APPLICATION CODE ──────────────────────┐
	│                                                              │
	│  c := client.NewClient(baseURL, tokens,                      │
	│          client.WithAuthLost(nav.ForceLogin))                │
	│  count, err := c.UnreadCount(ctx)                            │
	│                                                              │
	└──────────────────┬───────────────────────────────────────┘
	                   │
	┌──────────────────▼──── pkg/client ─────────────────────────┐
	│                                                              │
	│  send: Authorization, X-Request-ID, metrics                  │
	│    │                                                         │
	│    ├── 2xx ──────────────► decode envelope                   │
	│    ├── 401 (first time) ─► refreshAccessToken ─► resend once │
	│    └── other ────────────► *client.Error                     │
	│                                                              │
	│  refresh state machine                                       │
	│    Idle ──401──► Refreshing{waiters} ──outcome──► Idle       │
	│                                                              │
	└──────────────────────────────────────────────────────────┘

# Single-flight refresh

At most one call to /api/auth/refresh-token is outstanding at any time.
A request that receives a 401 while a refresh is running joins the waiter
list and is released with the shared outcome: every waiter gets the new
token, or every waiter gets the same error. A request is marked retried
before its refresh starts, so a second 401 is returned to the caller.

The refresh runs detached from the context of the request that started it,
bounded by the client timeout. A caller whose context ends stops waiting
and fails on its own; the refresh still completes for the others.

When the refresh token is missing or the backend rejects it, the session
is cleared and the auth-lost hook runs. The console uses the hook to force
navigation back to the login screen. Network and server errors on the
refresh call fail the waiting requests but keep the session.

A 401 that arrives after a refresh already replaced the rejected token is
retried with the stored token without refreshing again.

# Errors

Failures are returned as *Error with a Kind (network, auth_expired,
authz_denied, not_found, validation, server, unknown). Message translates
any error into the single line shown to the user:

	if err != nil {
		fmt.Println(client.Message(err))
	}

# Metrics

	swms_api_requests_total{method,status}
	swms_api_request_duration_seconds{method}
	swms_token_refresh_total{outcome}
	swms_token_refresh_waiters
*/
package client
