// Package emitter provides a named-event subscription primitive.
//
// An Emitter is a value that other types own and delegate to; it is never
// embedded into data types to give them behavior. Handlers run synchronously
// on the goroutine that calls Emit, in subscription order.
package emitter

import (
	"sort"
	"sync"
)

// Reserved meta-events.
const (
	// NewListener is emitted before a handler is added, with the event name
	// and the new ListenerID.
	NewListener = "newListener"

	// RemoveListener is emitted after a handler is removed, with the event
	// name and the removed ListenerID.
	RemoveListener = "removeListener"
)

// Listener handles an emitted event.
type Listener func(args ...interface{})

// ListenerID identifies a registered handler so it can be removed again.
type ListenerID uint64

type entry struct {
	id   ListenerID
	fn   Listener
	once bool
}

// Emitter dispatches named events to registered handlers.
// The zero value is ready to use.
type Emitter struct {
	mu     sync.Mutex
	nextID ListenerID
	events map[string][]entry
}

// New creates an empty emitter.
func New() *Emitter {
	return &Emitter{}
}

// On registers fn for event.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	return e.add(event, fn, false)
}

// Once registers fn for event. It is removed before its first invocation.
func (e *Emitter) Once(event string, fn Listener) ListenerID {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Listener, once bool) ListenerID {
	if fn == nil {
		return 0
	}

	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.mu.Unlock()

	e.Emit(NewListener, event, id)

	e.mu.Lock()
	if e.events == nil {
		e.events = make(map[string][]entry)
	}
	e.events[event] = append(e.events[event], entry{id: id, fn: fn, once: once})
	e.mu.Unlock()

	return id
}

// Off removes the handlers with the given ids from event.
// Without ids every handler for event is removed.
func (e *Emitter) Off(event string, ids ...ListenerID) {
	if len(ids) == 0 {
		e.removeEvent(event)
		return
	}
	for _, id := range ids {
		if e.remove(event, id) {
			e.Emit(RemoveListener, event, id)
		}
	}
}

func (e *Emitter) remove(event string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.events[event]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].id != id {
			continue
		}
		if len(list) == 1 {
			delete(e.events, event)
		} else {
			e.events[event] = append(list[:i:i], list[i+1:]...)
		}
		return true
	}
	return false
}

// removeEvent drops every handler for event, newest first, notifying
// removeListener observers for each.
func (e *Emitter) removeEvent(event string) {
	e.mu.Lock()
	list := e.events[event]
	ids := make([]ListenerID, len(list))
	for i, ent := range list {
		ids[i] = ent.id
	}
	e.mu.Unlock()

	for i := len(ids) - 1; i >= 0; i-- {
		if e.remove(event, ids[i]) {
			e.Emit(RemoveListener, event, ids[i])
		}
	}
}

// RemoveAllListeners removes every handler for the named events, or for all
// events when none are given. RemoveListener handlers are dropped last so
// they observe every other removal.
func (e *Emitter) RemoveAllListeners(events ...string) {
	if len(events) > 0 {
		for _, event := range events {
			e.removeEvent(event)
		}
		return
	}

	for _, event := range e.EventNames() {
		if event != RemoveListener {
			e.removeEvent(event)
		}
	}
	e.removeEvent(RemoveListener)

	e.mu.Lock()
	e.events = nil
	e.mu.Unlock()
}

// Emit invokes every handler registered for event with args and reports
// whether any existed.
func (e *Emitter) Emit(event string, args ...interface{}) bool {
	e.mu.Lock()
	list := e.events[event]
	if len(list) == 0 {
		e.mu.Unlock()
		return false
	}

	handlers := make([]Listener, len(list))
	var fired []ListenerID
	kept := list[:0:0]
	for i, ent := range list {
		handlers[i] = ent.fn
		if ent.once {
			fired = append(fired, ent.id)
		} else {
			kept = append(kept, ent)
		}
	}
	if len(fired) > 0 {
		if len(kept) == 0 {
			delete(e.events, event)
		} else {
			e.events[event] = kept
		}
	}
	e.mu.Unlock()

	for _, id := range fired {
		e.Emit(RemoveListener, event, id)
	}
	for _, fn := range handlers {
		fn(args...)
	}
	return true
}

// ListenerCount returns the number of handlers registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events[event])
}

// EventNames returns the events that currently have handlers, sorted.
func (e *Emitter) EventNames() []string {
	e.mu.Lock()
	names := make([]string, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	e.mu.Unlock()

	sort.Strings(names)
	return names
}
