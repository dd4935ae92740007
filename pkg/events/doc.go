/*
Package events provides the in-process publish/subscribe registry used by the
realtime channel.

Handlers are kept per event type in registration order. Subscribe returns a
Subscription handle and Unsubscribe removes exactly that registration, so
the same function may be registered twice and removed once.

# Dispatch

Publish is synchronous: every handler for the event type runs on the
publisher's goroutine, in subscription order, before Publish returns.

	Publish(notification)
	    │
	    ├─► handler 1
	    ├─► handler 2  (panics: recovered, logged, counted)
	    └─► handler 3

A panicking handler never prevents the remaining handlers from running.
Recovered panics increment swms_realtime_handler_panics_total{event}.

Clear drops every registration; the realtime channel calls it on Stop.
*/
package events
