// Package bus delivers lifecycle and moderation notifications to in-process
// observers. One Bus is constructed per process and passed by reference;
// there is no package-level instance.
package bus

import (
	"log"
	"sync"
)

// Kind identifies a notification stream.
type Kind string

const (
	PromiseCreated        Kind = "promise.created"
	PromiseUpdated        Kind = "promise.updated"
	PromiseDeleted        Kind = "promise.deleted"
	DeleteRequestCreated  Kind = "delete_request.created"
	DeleteRequestResolved Kind = "delete_request.resolved"
	UserUpdated           Kind = "user.updated"
	StatsUpdated          Kind = "stats.updated"
)

// Handler receives the published value. Handlers run on a per-subscriber
// goroutine; a slow or panicking handler never blocks other subscribers or
// the publisher.
type Handler func(payload any)

const subscriberBuffer = 64

type subscriber struct {
	ch      chan any
	handler Handler
	done    chan struct{}
}

type Bus struct {
	mu     sync.Mutex
	subs   map[Kind]map[int]*subscriber
	nextID int
	closed bool
	logf   func(format string, args ...any)
}

// New returns an empty bus. Close must be called on shutdown.
func New() *Bus {
	return &Bus{
		subs: make(map[Kind]map[int]*subscriber),
		logf: log.Printf,
	}
}

// Subscribe registers a handler for one event kind and returns an unsubscribe
// function. Delivery is FIFO per subscriber within a kind; no ordering is
// guaranteed across kinds.
func (b *Bus) Subscribe(kind Kind, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		ch:      make(chan any, subscriberBuffer),
		handler: handler,
		done:    make(chan struct{}),
	}
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[int]*subscriber)
	}
	b.subs[kind][id] = sub
	go b.deliver(kind, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[kind]; ok {
			if s, ok := subs[id]; ok {
				delete(subs, id)
				close(s.ch)
			}
		}
	}
}

// Publish sends the payload to every subscriber of kind. Best effort: if a
// subscriber's buffer is full the payload is dropped for that subscriber and
// logged, so a stuck handler cannot stall a write that already committed.
// The sends happen under the mutex; they never block, and unsubscribe and
// Close also close channels under the mutex, so a send can never race a
// close.
func (b *Bus) Publish(kind Kind, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs[kind] {
		select {
		case s.ch <- payload:
		default:
			b.logf("bus: subscriber buffer full, dropping %s notification", kind)
		}
	}
}

// Close tears down all subscribers and waits for their goroutines to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for kind, subs := range b.subs {
		for id, s := range subs {
			all = append(all, s)
			delete(subs, id)
		}
		delete(b.subs, kind)
	}
	b.mu.Unlock()

	for _, s := range all {
		close(s.ch)
		<-s.done
	}
}

func (b *Bus) deliver(kind Kind, s *subscriber) {
	defer close(s.done)
	for payload := range s.ch {
		b.invoke(kind, s.handler, payload)
	}
}

func (b *Bus) invoke(kind Kind, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("bus: %s handler panicked: %v", kind, r)
		}
	}()
	h(payload)
}
