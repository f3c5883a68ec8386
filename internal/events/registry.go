package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// StreamPublisher forwards bus traffic to connected stream subscribers.
// Publish failures never affect hook outcomes.
type StreamPublisher interface {
	Publish(event string, payload map[string]any) error
}

// Registry is the event bus. Handlers are kept per event name in
// (priority ascending, insertion order) order; Emit runs the chain and
// reduces the collected results.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]*Handler
	known    map[string]struct{}
	seq      uint64

	publisher    StreamPublisher
	streamEvents map[string]struct{}
}

// NewRegistry creates a registry seeded with the reserved event universe.
func NewRegistry() *Registry {
	known := make(map[string]struct{})
	for _, name := range ReservedEvents() {
		known[name] = struct{}{}
	}
	return &Registry{
		handlers:     make(map[string][]*Handler),
		known:        known,
		streamEvents: make(map[string]struct{}),
	}
}

// Register adds a handler for event and returns an unregister handle.
// Registration against an event outside the known universe fails; extend
// the universe first via AddKnownEvents.
func (r *Registry) Register(event string, handler *Handler) (func(), error) {
	if handler == nil || handler.Fn == nil {
		return nil, ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.known[event]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}

	r.seq++
	h := &Handler{
		Name:     handler.Name,
		Priority: handler.Priority,
		Fn:       handler.Fn,
		seq:      r.seq,
	}

	r.handlers[event] = append(r.handlers[event], h)
	sort.SliceStable(r.handlers[event], func(i, j int) bool {
		a, b := r.handlers[event][i], r.handlers[event][j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.seq < b.seq
	})

	return func() { r.unregister(event, h) }, nil
}

func (r *Registry) unregister(event string, h *Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.handlers[event]
	for i, cur := range chain {
		if cur == h {
			r.handlers[event] = append(chain[:i], chain[i+1:]...)
			return
		}
	}
}

// AddKnownEvents extends the event universe, typically from a module's
// observability.events capability. Already-known names are ignored.
func (r *Registry) AddKnownEvents(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if n != "" {
			r.known[n] = struct{}{}
		}
	}
}

// Known reports whether event is inside the known universe.
func (r *Registry) Known(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.known[event]
	return ok
}

// HasHandlers reports whether any handler is registered for event.
func (r *Registry) HasHandlers(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event]) > 0
}

// HandlerCount returns the number of handlers registered for event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// SetStreamPublisher installs the stream overlay target.
func (r *Registry) SetStreamPublisher(p StreamPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publisher = p
}

// SetStreamEvents marks event names whose emission is mirrored to the
// stream publisher as hook:<name> / hook:<name>:result frames.
func (r *Registry) SetStreamEvents(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.streamEvents[n] = struct{}{}
	}
}

// Emit runs every handler registered for event against the mutable data
// payload and returns the reduced verdict. Handler errors and panics are
// logged and treated as continue. Emitting an event with no handlers
// returns continue.
func (r *Registry) Emit(ctx context.Context, event string, data map[string]any) *HookResult {
	if data == nil {
		data = make(map[string]any)
	}

	r.mu.RLock()
	chain := make([]*Handler, len(r.handlers[event]))
	copy(chain, r.handlers[event])
	publisher := r.publisher
	_, streamed := r.streamEvents[event]
	r.mu.RUnlock()

	if publisher != nil && streamed {
		r.publish(publisher, "hook:"+event, data)
	}

	e := &Event{Name: event, Data: data}
	results := make([]*HookResult, 0, len(chain))
	for _, h := range chain {
		result := r.runHandler(ctx, h, e)
		if result != nil && result.Action == ActionModify {
			// Later handlers observe modifications.
			for k, v := range result.Data {
				e.Data[k] = v
			}
		}
		results = append(results, result)
	}

	reduced := Reduce(results)

	if publisher != nil && streamed {
		payload := map[string]any{
			"action": string(reduced.Action),
		}
		if reduced.Reason != "" {
			payload["reason"] = reduced.Reason
		}
		r.publish(publisher, "hook:"+event+":result", payload)
	}

	return reduced
}

// runHandler invokes one handler, converting errors and panics into
// continue so a misbehaving hook cannot break the pipeline.
func (r *Registry) runHandler(ctx context.Context, h *Handler, e *Event) (result *HookResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Debug().
				Str("handler", h.Name).
				Str("event", e.Name).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("hook handler panicked")
			result = Continue()
		}
	}()

	result, err := h.Fn(ctx, e)
	if err != nil {
		log.Debug().
			Err(err).
			Str("handler", h.Name).
			Str("event", e.Name).
			Msg("hook handler failed")
		return Continue()
	}
	if result == nil {
		return Continue()
	}
	return result
}

func (r *Registry) publish(p StreamPublisher, name string, payload map[string]any) {
	if err := p.Publish(name, payload); err != nil {
		log.Debug().Err(err).Str("event", name).Msg("stream publish failed")
	}
}
