// Package event provides a synchronous in-process event bus.
//
// Each event is a concrete struct with named fields; there are no
// open-ended payload maps. Listeners run on the publisher's goroutine,
// in registration order. A panicking listener is recovered and logged;
// it never takes down the publisher or suppresses later listeners.
// Publishes are serialized, so listeners observe a single global event
// order.
package event

import (
	"log/slog"
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

// Engine lifecycle and knowledge-base events.
const (
	TypeStateLoaded     Type = "engine.state_loaded"
	TypeEnabledChanged  Type = "engine.enabled_changed"
	TypeModeChanged     Type = "engine.mode_changed"
	TypeKBAdded         Type = "kb.added"
	TypeKBRemoved       Type = "kb.removed"
	TypeKBSwitched      Type = "kb.switched"
	TypeSystemKBsLoaded Type = "system_kbs.loaded"
)

// Event is a published notification. Concrete types below carry the
// per-event fields.
type Event interface {
	EventType() Type
	// When returns the publish timestamp.
	When() time.Time
}

// meta carries the fields shared by every event.
type meta struct {
	Time time.Time
}

func (m meta) When() time.Time { return m.Time }

// StateLoaded reports the persisted state applied at startup.
type StateLoaded struct {
	meta
	Enabled    bool
	Mode       string
	ActiveName string
}

func (StateLoaded) EventType() Type { return TypeStateLoaded }

// EnabledChanged reports a flip of the retrieval-enabled flag.
type EnabledChanged struct {
	meta
	Old bool
	New bool
}

func (EnabledChanged) EventType() Type { return TypeEnabledChanged }

// ModeChanged reports a query-mode transition.
type ModeChanged struct {
	meta
	Old string
	New string
}

func (ModeChanged) EventType() Type { return TypeModeChanged }

// KBAdded reports a newly ingested knowledge base.
type KBAdded struct {
	meta
	Name       string
	Path       string
	ChunkCount int
	Origin     string
}

func (KBAdded) EventType() Type { return TypeKBAdded }

// KBRemoved reports a knowledge base leaving the registry.
type KBRemoved struct {
	meta
	Name string
}

func (KBRemoved) EventType() Type { return TypeKBRemoved }

// KBSwitched reports the active knowledge base changing.
type KBSwitched struct {
	meta
	Name string
	Path string
}

func (KBSwitched) EventType() Type { return TypeKBSwitched }

// SystemKBsLoaded reports completion of the one-shot system scan.
type SystemKBsLoaded struct {
	meta
	Count int
}

func (SystemKBsLoaded) EventType() Type { return TypeSystemKBsLoaded }

// Listener handles a published event. Listeners registered for a type
// receive only events of that type and may assert the concrete struct.
type Listener func(Event)

// Bus dispatches events to subscribed listeners.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[Type][]subscription
	logger   *slog.Logger
}

type subscription struct {
	id int
	fn Listener
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type][]subscription),
		logger:   logger,
	}
}

// Subscribe registers a listener for an event type. The returned function
// removes the subscription; calling it more than once is safe.
func (b *Bus) Subscribe(t Type, fn Listener) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.handlers[t]
			for i, s := range subs {
				if s.id == id {
					b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers an event to all listeners for its type, in
// registration order.
func (b *Bus) Publish(ev Event) {
	ev = stamp(ev)

	// Holding the lock through dispatch keeps event order global. Listeners
	// must not publish from within a callback.
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.handlers[ev.EventType()] {
		b.dispatch(s, ev)
	}
}

// stamp fills in the publish timestamp when the caller left it zero.
func stamp(ev Event) Event {
	if !ev.When().IsZero() {
		return ev
	}
	now := time.Now()

	switch e := ev.(type) {
	case StateLoaded:
		e.Time = now
		return e
	case EnabledChanged:
		e.Time = now
		return e
	case ModeChanged:
		e.Time = now
		return e
	case KBAdded:
		e.Time = now
		return e
	case KBRemoved:
		e.Time = now
		return e
	case KBSwitched:
		e.Time = now
		return e
	case SystemKBsLoaded:
		e.Time = now
		return e
	default:
		return ev
	}
}

func (b *Bus) dispatch(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				slog.String("event", string(ev.EventType())),
				slog.Int("subscription", s.id),
				slog.Any("panic", r))
		}
	}()
	s.fn(ev)
}
