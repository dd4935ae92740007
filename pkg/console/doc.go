/*
Package console assembles the client components into one object that
follows the session.

	          ┌──────────────┐   auth lost    ┌────────────────────┐
	          │ client.Client│ ─────────────> │ session.Controller │
	          └──────┬───────┘                └─────────┬──────────┘
	                 │ tokens                           │ LoggedIn / LoggedOut / AuthLost
	          ┌──────┴──────────┐                       ▼
	          │ tokenstore      │               ┌───────────────┐
	          │ (bolt|redis|mem)│               │   Console     │
	          └──────┬──────────┘               └──┬─────────┬──┘
	                 │ access token                │         │
	          ┌──────┴────────────┐  Start/Stop    │         │ ForceLogin
	          │ realtime.Channel  │ <──────────────┘         ▼
	          └──────┬────────────┘                   ┌──────────────┐
	                 │ notification events            │guard.Navigator│
	          ┌──────┴────────────┐                   └──────────────┘
	          │ notify.Inbox      │
	          └───────────────────┘

While the session is authenticated the realtime channel runs and the
inbox is attached to it. Logout or an unrecoverable 401 stops the channel,
clears the inbox and sends the navigator to the login screen. Stop only
disconnects; the persisted session survives for the next process.
*/
package console
