package shell

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Event names a driver lifecycle notification.
type Event string

const (
	EventInitialized     Event = "initialized"
	EventCommandStarted  Event = "commandStarted"
	EventCommandFinished Event = "commandFinished"
	EventError           Event = "error"
)

// Notification is what handlers receive. Which fields are set depends on
// the event: SessionID and Command for commandStarted, SessionID and Result
// for commandFinished, Err for error. An error that ends a command also
// carries its partial Result when there is one.
type Notification struct {
	Event     Event
	SessionID string
	Command   string
	Result    *Result
	Err       error
}

// Handler reacts to a notification. A panicking handler is logged and
// skipped; the remaining handlers still run.
type Handler func(n Notification)

// HandlerID identifies a registration for RemoveEventHandler.
type HandlerID uint64

type subscription struct {
	id       HandlerID
	priority int
	fn       Handler
}

// emitter keeps each event's subscriptions sorted by descending priority.
// New subscriptions go after existing ones of equal priority, so ties fire
// in registration order. Lists are copy-on-write: emit iterates a snapshot.
type emitter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID HandlerID
	subs   map[Event][]subscription
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{
		logger: logger,
		subs:   make(map[Event][]subscription),
	}
}

func (e *emitter) add(event Event, fn Handler, priority int) HandlerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	sub := subscription{id: e.nextID, priority: priority, fn: fn}

	list := e.subs[event]
	i := sort.Search(len(list), func(i int) bool { return list[i].priority < priority })
	next := make([]subscription, 0, len(list)+1)
	next = append(next, list[:i]...)
	next = append(next, sub)
	next = append(next, list[i:]...)
	e.subs[event] = next
	return sub.id
}

func (e *emitter) remove(event Event, id HandlerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.subs[event]
	for i, sub := range list {
		if sub.id == id {
			e.subs[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// emit calls the handlers synchronously. The list is snapshotted first so a
// handler may register or remove handlers without deadlocking.
func (e *emitter) emit(n Notification) {
	e.mu.RLock()
	list := e.subs[n.Event]
	e.mu.RUnlock()

	for _, sub := range list {
		e.call(sub, n)
	}
}

func (e *emitter) call(sub subscription, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "event", n.Event, "handler", sub.id, "panic", fmt.Sprint(r))
		}
	}()
	sub.fn(n)
}
