/*
Package health probes the SWMS backend.

Two checkers share one HTTP implementation:

	Reachability   GET  <base>/        any HTTP status counts as up
	Login          POST <base>/api/auth/login with empty credentials;
	               a 4xx other than 404 shows the auth API is mounted

Probe runs both once and backs the `swms ping` command. Transport
failures are translated into an operator-facing message (connection
refused, timeout, untrusted certificate).

Monitor runs a checker on an interval and publishes the result to the
metrics health registry as an optional component. A Status only turns
unhealthy after Config.Retries consecutive failures and recovers on the
first success.
*/
package health
