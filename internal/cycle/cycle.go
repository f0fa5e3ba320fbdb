// Package cycle sequences page loads for one consumer.
//
// Every navigation begins a new Cycle and cancels the one before it. Work
// finishing after its cycle was superseded must drop its result; WhileActive
// lets it check and mutate without a newer Begin slipping in between.
package cycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Cycle is one load of one slug. Once cancelled it never becomes active again.
type Cycle struct {
	ID         string
	Slug       string
	Generation uint64

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Context is cancelled when the cycle is superseded or released. Pass it to
// any network call the cycle owns.
func (c *Cycle) Context() context.Context {
	return c.ctx
}

// Cancelled reports whether the cycle was cancelled.
func (c *Cycle) Cancelled() bool {
	return c.cancelled.Load()
}

func (c *Cycle) stop() {
	if c.cancelled.CompareAndSwap(false, true) {
		c.cancel()
	}
}

// Controller holds the active cycle for a single consumer
type Controller struct {
	mu     sync.RWMutex
	parent context.Context
	active *Cycle
	gen    uint64
}

// NewController creates a Controller whose cycle contexts derive from parent.
func NewController(parent context.Context) *Controller {
	if parent == nil {
		parent = context.Background()
	}
	return &Controller{parent: parent}
}

// Begin cancels the active cycle, if any, and returns a new active cycle
// for slug. Beginning the slug already being loaded still starts a new cycle.
func (c *Controller) Begin(slug string) *Cycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(slug)
}

// Restart supersedes the active cycle with a new one for the same slug. It
// does nothing and reports false when no live cycle is loading slug.
func (c *Controller) Restart(slug string) (*Cycle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.Cancelled() || c.active.Slug != slug {
		return nil, false
	}
	return c.beginLocked(slug), true
}

func (c *Controller) beginLocked(slug string) *Cycle {
	if c.active != nil {
		c.active.stop()
	}

	c.gen++
	ctx, cancel := context.WithCancel(c.parent)
	next := &Cycle{
		ID:         uuid.NewString(),
		Slug:       slug,
		Generation: c.gen,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.active = next
	return next
}

// IsActive reports whether cy is the controller's current cycle.
func (c *Controller) IsActive(cy *Cycle) bool {
	if cy == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active == cy && !cy.Cancelled()
}

// Active returns the current cycle, or nil.
func (c *Controller) Active() *Cycle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil || c.active.Cancelled() {
		return nil
	}
	return c.active
}

// WhileActive runs fn if cy is active and reports whether it ran. Begin
// cannot run concurrently with fn, so fn must not call Begin.
func (c *Controller) WhileActive(cy *Cycle, fn func()) bool {
	if cy == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active != cy || cy.Cancelled() {
		return false
	}
	fn()
	return true
}

// Cancel cancels cy. Cancelling twice is a no-op.
func (c *Controller) Cancel(cy *Cycle) {
	if cy == nil {
		return
	}
	cy.stop()
}

// Release cancels cy only if it is still the active cycle. It is the
// teardown hook for a consumer going away.
func (c *Controller) Release(cy *Cycle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cy != nil && c.active == cy {
		cy.stop()
		c.active = nil
	}
}
