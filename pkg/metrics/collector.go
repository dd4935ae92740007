package metrics

import (
	"time"
)

// TokenSource exposes the stored access token expiry
type TokenSource interface {
	AccessTokenExpiry() (time.Time, bool)
}

// Collector samples values that are not updated inline by other packages
type Collector struct {
	tokens   TokenSource
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(tokens TokenSource) *Collector {
	return &Collector{
		tokens:   tokens,
		interval: 15 * time.Second,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectTokenMetrics()
}

func (c *Collector) collectTokenMetrics() {
	exp, ok := c.tokens.AccessTokenExpiry()
	if !ok {
		AccessTokenTTL.Set(0)
		return
	}

	ttl := exp.Sub(c.now())
	if ttl < 0 {
		ttl = 0
	}
	AccessTokenTTL.Set(ttl.Seconds())
}
