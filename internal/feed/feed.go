// Package feed implements the change-notification channel: every
// insert/update/delete against the chat store is published as an event
// and fanned out to all matching subscriptions. Delivery is
// at-least-once and unordered across tables; subscribers deduplicate
// by row id.
package feed

import (
	"sync"

	"github.com/starglow-chat/backend/internal/model/chat"
)

// Action classifies a row-level mutation.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Table names mirror the store schema.
const (
	TableSessions = "chat_sessions"
	TableMessages = "chat_messages"
)

// Event carries the full new row of a mutation. UserID identifies the
// owning user for both tables so subscriptions can be scoped without a
// store lookup. For deletes only OldID is set.
type Event struct {
	Table   string        `json:"table"`
	Action  Action        `json:"action"`
	UserID  string        `json:"userId,omitempty"`
	Session *chat.Session `json:"session,omitempty"`
	Message *chat.Message `json:"message,omitempty"`
	OldID   string        `json:"oldId,omitempty"`
}

// Filter decides whether a subscription wants an event. A nil filter
// matches everything.
type Filter func(Event) bool

// SessionsOfUser matches session-table events owned by userID.
func SessionsOfUser(userID string) Filter {
	return func(ev Event) bool {
		return ev.Table == TableSessions && ev.UserID == userID
	}
}

// MessagesInSession matches message inserts for one session.
func MessagesInSession(sessionID string) Filter {
	return func(ev Event) bool {
		return ev.Table == TableMessages && ev.Message != nil && ev.Message.SessionID == sessionID
	}
}

// Any matches events accepted by at least one of the given filters.
func Any(filters ...Filter) Filter {
	return func(ev Event) bool {
		for _, f := range filters {
			if f != nil && f(ev) {
				return true
			}
		}
		return false
	}
}

// Broker fans events out to subscriptions. Publishing never blocks on
// a slow consumer: each subscription owns a queue drained by its own
// goroutine.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscription delivering events that pass the
// filter. The caller must drain Events and call Close when done.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		broker: b,
		filter: filter,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	closed := b.closed
	if !closed {
		b.subs[sub] = struct{}{}
	}
	b.mu.Unlock()

	// The pump always starts so Events is closed through the one
	// teardown path, even when the broker is already gone.
	go sub.pump()
	if closed {
		sub.Close()
	}
	return sub
}

// Publish delivers the event to every matching subscription.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.filter == nil || sub.filter(ev) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.enqueue(ev)
	}
}

// Close tears down the broker and every live subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

// Subscribers reports the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one consumer of the feed.
type Subscription struct {
	broker *Broker
	filter Filter
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

// Events returns the delivery channel. It is closed after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops delivery and detaches the subscription from the broker.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	close(s.done)
	s.broker.remove(s)
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// pump drains the queue into the events channel so Publish never
// blocks. Owns the events channel close.
func (s *Subscription) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
