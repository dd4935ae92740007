/*
Package log provides structured logging for swms using zerolog.

The package wraps a single global zerolog.Logger with component-specific child
loggers and a few helpers for common patterns. Logs go to stderr by default so the
CLI's stdout stays clean for command output.

# Architecture

	┌──────────────────── LOGGING ─────────────────────────────┐
	│                                                            │
	│  log.Init(Config) ──► global zerolog.Logger               │
	│                           │                                │
	│        ┌──────────────────┼───────────────────┐           │
	│        ▼                  ▼                   ▼           │
	│  WithComponent("client")  WithUserID(7)  WithNotificationID(42)
	│                                                            │
	│  Output: JSON (automation) or ConsoleWriter (terminal)     │
	└────────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

	logger := log.WithComponent("realtime")
	logger.Info().Str("hub", hubURL).Msg("Connected to notification hub")

	log.Errorf("Failed to refresh notifications", err)

Levels: debug, info, warn, error. Unknown levels fall back to info.
*/
package log
