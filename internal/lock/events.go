package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmfairley/applock/internal/models"
)

// EventKind is the type of a lock lifecycle notification.
type EventKind string

const (
	EventLocked   EventKind = "locked"
	EventUnlocked EventKind = "unlocked"
)

// Event is a typed, fire-and-forget notification. Method is set only on
// unlocked events.
type Event struct {
	ID     string
	Kind   EventKind
	Method models.LockMethod
	At     time.Time
}

// Notifier fans events out to registered observers. Zero subscribers is fine;
// observers are invoked synchronously and must not block.
type Notifier struct {
	mu        sync.RWMutex
	observers []func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers an observer for all future events.
func (n *Notifier) Subscribe(fn func(Event)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, fn)
}

func (n *Notifier) publish(kind EventKind, method models.LockMethod, at time.Time) {
	event := Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Method: method,
		At:     at,
	}

	n.mu.RLock()
	observers := make([]func(Event), len(n.observers))
	copy(observers, n.observers)
	n.mu.RUnlock()

	for _, fn := range observers {
		fn(event)
	}
}
