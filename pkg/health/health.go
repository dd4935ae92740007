package health

import (
	"context"
	"time"

	"github.com/cuemby/swms/pkg/log"
	"github.com/cuemby/swms/pkg/metrics"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeReachability CheckType = "reachability"
	CheckTypeLogin        CheckType = "login"
)

// Result represents the outcome of a health check
type Result struct {
	Check      CheckType
	Healthy    bool
	StatusCode int
	Message    string
	CheckedAt  time.Time
	Duration   time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// Config controls a Monitor
type Config struct {
	// Interval is the time between health checks
	Interval time.Duration

	// Retries is the number of consecutive failures before marking as unhealthy
	Retries int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Retries:  3,
	}
}

// Status tracks the current health of the backend
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that starts healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds a new result into the status and reports whether Healthy flipped
func (s *Status) Update(result Result, config Config) bool {
	was := s.Healthy
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
	return was != s.Healthy
}

// Monitor runs checker every config.Interval until ctx is done, publishing the
// result as the component named name in the metrics health registry.
func Monitor(ctx context.Context, name string, checker Checker, config Config) {
	logger := log.WithComponent("health")
	status := NewStatus()

	probe := func() {
		result := checker.Check(ctx)
		if status.Update(result, config) {
			logger.Warn().
				Str("check", string(checker.Type())).
				Bool("healthy", status.Healthy).
				Str("message", result.Message).
				Msg("Backend health changed")
		}
		metrics.UpdateComponent(name, status.Healthy, result.Message)
	}

	probe()
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
