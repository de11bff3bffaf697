// Package events provides the synchronous publish/subscribe bus used by the
// application, models, and collections.
package events

import (
	"fmt"
	"reflect"
	"sync"
)

// All is the wildcard event name. Handlers bound to it run after the named
// handlers of every Trigger and see the triggered name in Event.Name.
const All = "all"

// Event is delivered to a Handler.
type Event struct {
	Name string
	Args []any
}

// Arg returns the i-th argument or nil when out of range.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Handler receives triggered events.
type Handler func(Event)

// Subscription identifies a registered handler. Pass it to Bus.Off to remove it.
type Subscription struct {
	id    uint64
	name  string
	owner any
	once  bool
	fn    Handler
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Bus is a named-event channel. Trigger dispatches synchronously in the
// calling goroutine, in registration order, before returning.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]*Subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]*Subscription)}
}

// On registers h for the named event.
func (b *Bus) On(name string, h Handler) *Subscription {
	return b.add(name, nil, false, h)
}

// Bind registers h for the named event on behalf of owner. Every handler bound
// to the same owner can be removed at once with Release. Owner must be
// comparable; pointers are the usual choice. Bind panics if it is not.
func (b *Bus) Bind(owner any, name string, h Handler) *Subscription {
	if !isComparable(owner) {
		panic(fmt.Sprintf("events: Bind owner of type %T is not comparable", owner))
	}
	return b.add(name, owner, false, h)
}

func isComparable(owner any) bool {
	return owner == nil || reflect.TypeOf(owner).Comparable()
}

// Once registers h for a single delivery of the named event.
func (b *Bus) Once(name string, h Handler) *Subscription {
	return b.add(name, nil, true, h)
}

func (b *Bus) add(name string, owner any, once bool, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string][]*Subscription)
	}
	b.nextID++
	s := &Subscription{id: b.nextID, name: name, owner: owner, once: once, fn: h}
	b.handlers[name] = append(b.handlers[name], s)
	return s
}

// Off removes a single subscription. Removing an unknown or already removed
// subscription is a no-op.
func (b *Bus) Off(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.name, func(x *Subscription) bool { return x.id == s.id })
}

// Release removes every subscription bound to owner. A non-comparable owner
// owns nothing.
func (b *Bus) Release(owner any) {
	if owner == nil || !isComparable(owner) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range b.handlers {
		b.removeLocked(name, func(x *Subscription) bool { return x.owner == owner })
	}
}

func (b *Bus) removeLocked(name string, match func(*Subscription) bool) {
	subs := b.handlers[name]
	kept := subs[:0:0]
	for _, s := range subs {
		if !match(s) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.handlers, name)
		return
	}
	b.handlers[name] = kept
}

// Count returns the number of handlers registered for name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

// Trigger invokes the handlers registered for name at the time of the call,
// then the All handlers. Subscriptions added or removed by a handler take
// effect on later triggers only.
func (b *Bus) Trigger(name string, args ...any) {
	named := b.snapshot(name)
	var wildcard []*Subscription
	if name != All {
		wildcard = b.snapshot(All)
	}

	ev := Event{Name: name, Args: args}
	for _, s := range named {
		s.fn(ev)
	}
	for _, s := range wildcard {
		s.fn(ev)
	}
}

func (b *Bus) snapshot(name string) []*Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[name]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	for _, s := range out {
		if s.once {
			b.removeLocked(name, func(x *Subscription) bool { return x.id == s.id })
		}
	}
	return out
}
