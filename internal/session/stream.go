package session

import (
	"sync"
	"sync/atomic"

	"ampd/internal/events"
)

// DefaultQueueSize bounds each subscriber queue.
const DefaultQueueSize = 256

// StreamEvent is one frame delivered to stream subscribers. Type maps
// to the SSE event name, Payload to its JSON data.
type StreamEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Subscriber is one bounded queue on a stream. A slow consumer loses
// its oldest buffered events, never blocks the producer.
type Subscriber struct {
	ch          chan StreamEvent
	dropped     atomic.Int64
	pendingDrop bool
}

func newSubscriber(size int) *Subscriber {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Subscriber{ch: make(chan StreamEvent, size)}
}

// Events is the subscriber's receive channel. It is never closed while
// the subscription is live; consumers stop on terminal frames or after
// unsubscribing.
func (s *Subscriber) Events() <-chan StreamEvent {
	return s.ch
}

// Dropped returns how many events this subscriber has lost.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// push delivers one event, dropping the oldest buffered event when the
// queue is full. Callers serialize pushes per subscriber.
func (s *Subscriber) push(ev StreamEvent) {
	if s.pendingDrop {
		notice := StreamEvent{
			Type:    events.StreamDropped,
			Payload: map[string]any{"dropped": s.dropped.Load()},
		}
		select {
		case s.ch <- notice:
			s.pendingDrop = false
		default:
		}
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)
	s.pendingDrop = true

	select {
	case s.ch <- ev:
	default:
	}
}

// StreamManager fans session events out to subscribers. Emission is
// single-producer per manager, so each subscriber observes events in
// emission order.
type StreamManager struct {
	sessionID string
	queueSize int

	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	executing bool
	run       *runner
}

func newStreamManager(sessionID string, queueSize int) *StreamManager {
	return &StreamManager{
		sessionID: sessionID,
		queueSize: queueSize,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Publish implements events.StreamPublisher, mirroring bus traffic to
// stream subscribers.
func (sm *StreamManager) Publish(event string, payload map[string]any) error {
	sm.Broadcast(StreamEvent{Type: event, Payload: payload})
	return nil
}

// Broadcast delivers one event to every subscriber.
func (sm *StreamManager) Broadcast(ev StreamEvent) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for sub := range sm.subs {
		sub.push(ev)
	}
}

func (sm *StreamManager) subscribe() *Subscriber {
	sub := newSubscriber(sm.queueSize)
	sm.mu.Lock()
	sm.subs[sub] = struct{}{}
	sm.mu.Unlock()
	return sub
}

func (sm *StreamManager) unsubscribe(sub *Subscriber) {
	sm.mu.Lock()
	delete(sm.subs, sub)
	sm.mu.Unlock()
}

// acquire takes the single-writer gate.
func (sm *StreamManager) acquire() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.executing {
		return ErrSessionBusy
	}
	sm.executing = true
	return nil
}

func (sm *StreamManager) release() {
	sm.mu.Lock()
	sm.executing = false
	sm.mu.Unlock()
}

// idle reports whether the manager can be collected.
func (sm *StreamManager) idle() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return !sm.executing && len(sm.subs) == 0
}

// Hub is the daemon-wide event stream: session lifecycle plus mirrored
// hook frames, fanned out to global subscribers.
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	queueSize int
}

// NewHub creates a global event hub.
func NewHub() *Hub {
	return &Hub{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: DefaultQueueSize,
	}
}

// Subscribe registers a new global subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber(h.queueSize)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a global subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Broadcast delivers one event to every global subscriber.
func (h *Hub) Broadcast(ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.push(ev)
	}
}

// Publish implements events.StreamPublisher.
func (h *Hub) Publish(event string, payload map[string]any) error {
	h.Broadcast(StreamEvent{Type: event, Payload: payload})
	return nil
}
