// Package xact provides transaction lifecycle hooks. Callbacks registered
// for an event run when the surrounding unit of work commits or aborts.
package xact

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Event is a transaction lifecycle event.
type Event int

const (
	Commit Event = iota
	Abort
)

func (e Event) String() string {
	switch e {
	case Commit:
		return "commit"
	case Abort:
		return "abort"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Registration is a callback registered with Hooks.
type Registration struct {
	hooks *Hooks
	event Event
	fn    func()
	live  bool
}

// Unregister removes the callback. It is a no-op once the callback ran or
// was already unregistered.
func (r *Registration) Unregister() {
	r.hooks.mu.Lock()
	defer r.hooks.mu.Unlock()
	r.live = false
}

// Hooks is a registry of lifecycle callbacks. It is safe for concurrent use.
type Hooks struct {
	mu      sync.Mutex
	pending map[Event][]*Registration
	logger  hclog.Logger
}

// NewHooks returns an empty registry. logger may be nil.
func NewHooks(logger hclog.Logger) *Hooks {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hooks{
		pending: make(map[Event][]*Registration),
		logger:  logger.Named("xact"),
	}
}

// Register adds fn to the callbacks run on event.
func (h *Hooks) Register(event Event, fn func()) *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := &Registration{hooks: h, event: event, fn: fn, live: true}
	h.pending[event] = append(h.pending[event], r)
	return r
}

// Fire runs every live callback registered for event, in registration
// order, and returns how many ran. Each callback runs at most once. A
// panicking callback is logged and does not stop the others.
func (h *Hooks) Fire(event Event) int {
	h.mu.Lock()
	regs := h.pending[event]
	delete(h.pending, event)

	var fns []func()
	for _, r := range regs {
		if r.live {
			r.live = false
			fns = append(fns, r.fn)
		}
	}
	h.mu.Unlock()

	for _, fn := range fns {
		h.run(event, fn)
	}

	h.logger.Trace("fired transaction hooks", "event", event.String(), "callbacks", len(fns))
	return len(fns)
}

func (h *Hooks) run(event Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("transaction hook panicked", "event", event.String(), "panic", r)
		}
	}()
	fn()
}
