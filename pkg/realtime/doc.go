/*
Package realtime maintains the persistent push connection to the backend's
notification hub.

The channel speaks the JSON hub protocol over a websocket, without a
negotiation round trip. Every record is a JSON object terminated by the
0x1E record separator.

	client                                    hub
	  │  GET /hubs/notification?access_token=…  │
	  │ ───────────────────────────────────────►│  websocket upgrade
	  │  {"protocol":"json","version":1}␞       │
	  │ ───────────────────────────────────────►│
	  │  {}␞                                    │  handshake accepted
	  │ ◄───────────────────────────────────────│
	  │  {"type":1,"target":"ReceiveNotification","arguments":[…]}␞
	  │ ◄───────────────────────────────────────│
	  │  {"type":6}␞  (keep-alive, both ways)   │
	  │  {"type":7,"error":"…"}␞  (close)       │

# States

	Disconnected ──Start──► Connecting ──ok──► Connected
	     ▲                      │                  │ drop
	     │◄──── fail (retry) ───┘                  ▼
	     │◄────────── no token / gave up ──── Reconnecting ──ok──► Connected

Start reads the access token at call time and every reconnect reads it
again, because the hub authenticates only when the socket opens. Without a
token Start logs and returns. A failed initial connect schedules one more
Start after the retry delay. A dropped connection is redialled every
reconnect delay until it succeeds, the token disappears, the attempt limit
is hit, or Stop is called.

# Events

Pushed notifications are published locally as events.EventNotification
with a types.Notification payload. State changes are published as
events.EventStateChanged. Handlers run synchronously in subscription
order; see package events.

Stop closes the socket, cancels a pending retry and removes every
subscriber. Pushes still in flight are dropped.
*/
package realtime
