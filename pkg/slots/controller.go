// Package slots bounds how many enrichment calls run concurrently. The
// gate's capacity is re-read on every acquisition attempt, so a live
// quota change takes effect without restarting in-flight work, and the
// whole gate can be frozen the instant throttling is observed.
package slots

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how long Acquire waits between capacity checks.
const DefaultPollInterval = 100 * time.Millisecond

// Prometheus metrics for slot gating.
var (
	slotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papersync_slots_in_use",
		Help: "Number of enrichment calls currently holding a slot",
	})

	slotFreezesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papersync_slot_freezes_total",
		Help: "Total number of times the slot gate was frozen by throttling",
	})
)

// Controller is a counting gate with mutable capacity and a frozen
// flag. The running counter is only touched under the mutex; frozen is
// an atomic read without the lock - a brief delay in observing true is
// harmless since the flag only flips back on an explicit Thaw.
type Controller struct {
	mu       sync.Mutex
	running  int
	frozen   atomic.Bool
	capacity func() int
	poll     time.Duration
	logger   zerolog.Logger
}

// NewController creates a controller whose capacity is read from the
// given function at each acquisition attempt. A typical capacity source
// is ratelimit.Advisor.RecommendedConcurrency.
func NewController(capacity func() int, logger zerolog.Logger) *Controller {
	return &Controller{
		capacity: capacity,
		poll:     DefaultPollInterval,
		logger:   logger,
	}
}

// Acquire blocks until a slot is granted or the gate is frozen. It
// returns true with a held slot, or false when the gate is frozen or
// the context is cancelled - the caller must not proceed in that case.
func (c *Controller) Acquire(ctx context.Context) bool {
	for {
		if c.frozen.Load() {
			return false
		}

		if c.tryAcquire() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.poll):
		}
	}
}

// tryAcquire grabs a slot if the current capacity allows one.
func (c *Controller) tryAcquire() bool {
	limit := c.capacity()
	if limit < 1 {
		limit = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running >= limit {
		return false
	}

	c.running++
	slotsInUse.Set(float64(c.running))
	return true
}

// Release returns a held slot.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running > 0 {
		c.running--
	}
	slotsInUse.Set(float64(c.running))
}

// Freeze stops the gate from granting any further slots. Pending and
// future Acquire calls return without a slot; in-flight work finishes
// normally. The gate stays frozen until Thaw is called.
func (c *Controller) Freeze() {
	if c.frozen.CompareAndSwap(false, true) {
		slotFreezesTotal.Inc()
		c.logger.Warn().Msg("Slot gate frozen - no new enrichment calls will start")
	}
}

// Thaw reopens a frozen gate. Callers invoke it at the start of a new
// work batch, after the throttling that caused the freeze has passed.
func (c *Controller) Thaw() {
	if c.frozen.CompareAndSwap(true, false) {
		c.logger.Info().Msg("Slot gate thawed - enrichment calls may start again")
	}
}

// Frozen reports whether the gate has been frozen.
func (c *Controller) Frozen() bool {
	return c.frozen.Load()
}

// Running returns how many slots are currently held.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetPollInterval overrides the acquire poll interval (for testing).
func (c *Controller) SetPollInterval(d time.Duration) {
	c.poll = d
}
