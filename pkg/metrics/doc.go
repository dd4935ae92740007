/*
Package metrics provides Prometheus metrics and a health registry for swms.

All collectors are registered on the default Prometheus registry at package init.
The console exposes them together with /health and /ready when started with
--metrics-addr, which is mostly useful when `swms notifications watch` runs as a
long-lived process.

# Metrics

API:
  - swms_api_requests_total{method,status}
  - swms_api_request_duration_seconds{method}

Token lifecycle:
  - swms_token_refresh_total{outcome}: success, failure, no_refresh_token
  - swms_token_refresh_waiters: requests suspended behind an in-flight refresh
  - swms_access_token_ttl_seconds: sampled by Collector

Realtime and notifications:
  - swms_realtime_state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting
  - swms_realtime_reconnects_total
  - swms_realtime_handler_panics_total{event}
  - swms_notifications_pushed_total
  - swms_notifications_unread

# Health

Components report through UpdateComponent (required: store, backend) and
UpdateOptionalComponent (realtime). A failed optional component turns the overall
status "degraded" instead of "unhealthy". Readiness only looks at required
components.

# Usage

	timer := metrics.NewTimer()
	resp, err := httpClient.Do(req)
	timer.ObserveDurationVec(metrics.APIRequestDuration, req.Method)

	go http.ListenAndServe(addr, metrics.Mux())
*/
package metrics
