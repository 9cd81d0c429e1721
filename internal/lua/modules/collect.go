package modules

import (
	"sync"
	"time"
)

// Collector batches events for a handler and flushes them by some strategy.
type Collector interface {
	Add(event map[string]any)
	Close()
}

// CountCollector flushes every n events.
type CountCollector struct {
	mu      sync.Mutex
	events  []map[string]any
	n       int
	onFlush func([]map[string]any)
}

// NewCountCollector creates a collector flushing every n events.
func NewCountCollector(n int, onFlush func([]map[string]any)) *CountCollector {
	return &CountCollector{n: n, onFlush: onFlush}
}

// Add appends an event and flushes once n are pending.
func (c *CountCollector) Add(event map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, event)
	var events []map[string]any
	if len(c.events) >= c.n {
		events, c.events = c.events, nil
	}
	c.mu.Unlock()

	if events != nil {
		c.onFlush(events)
	}
}

// Close drops pending events.
func (c *CountCollector) Close() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

// QuietCollector batches events and flushes them once no new event
// arrived for the quiet period. Used to tame the touch telemetry stream.
type QuietCollector struct {
	mu      sync.Mutex
	events  []map[string]any
	timer   *time.Timer
	quiet   time.Duration
	onFlush func([]map[string]any)
}

// NewQuietCollector creates a collector flushing to onFlush.
func NewQuietCollector(quiet time.Duration, onFlush func([]map[string]any)) *QuietCollector {
	return &QuietCollector{
		quiet:   quiet,
		onFlush: onFlush,
	}
}

// Add appends an event and restarts the quiet timer.
func (c *QuietCollector) Add(event map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.quiet, c.flush)
}

func (c *QuietCollector) flush() {
	c.mu.Lock()
	events := c.events
	c.events = nil
	c.mu.Unlock()

	if len(events) > 0 {
		c.onFlush(events)
	}
}

// Close stops the timer and drops pending events.
func (c *QuietCollector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.events = nil
}
