// Package broadcaster fans committed index mutations out to subscribers.
//
// Delivery is blocking: when a subscriber's buffer is full the publisher
// waits, so a slow consumer shows up as backpressure (see Pending) rather
// than as silently dropped notifications.
package broadcaster

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// DefaultBuffer is the subscription channel capacity used when none is given.
const DefaultBuffer = 64

// MutationBatch is one committed set of index mutations.
type MutationBatch struct {
	// Generation is the index generation produced by this batch.
	Generation uint64

	Added   []types.IndexEntry
	Updated []types.IndexEntry
	Removed []types.IndexEntry
}

// Len returns the total number of mutations in the batch.
func (b MutationBatch) Len() int {
	return len(b.Added) + len(b.Updated) + len(b.Removed)
}

// Filter returns the part of b at or below the relative path prefix.
// An empty prefix matches everything.
func (b MutationBatch) Filter(prefix string) MutationBatch {
	if prefix == "" {
		return b
	}
	return MutationBatch{
		Generation: b.Generation,
		Added:      filterEntries(b.Added, prefix),
		Updated:    filterEntries(b.Updated, prefix),
		Removed:    filterEntries(b.Removed, prefix),
	}
}

func filterEntries(entries []types.IndexEntry, prefix string) []types.IndexEntry {
	var out []types.IndexEntry
	for _, e := range entries {
		if e.RelPath == prefix || types.IsUnder(e.RelPath, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Subscriber receives the mutation batches under Prefix.
type Subscriber struct {
	ID     string
	Prefix string

	// Events delivers batches in commit order. It is closed on Unsubscribe
	// or when the broadcaster is closed.
	Events <-chan MutationBatch

	events    chan MutationBatch
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex // held while sending and while closing events
	closed bool
}

func (s *Subscriber) send(ctx context.Context, batch MutationBatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.events <- batch:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// shutdown unblocks any sender, then closes the events channel.
func (s *Subscriber) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// Broadcaster manages subscribers and distributes mutation batches.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	pending   atomic.Int64
	delivered atomic.Int64
}

// New creates a new Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
	}
}

// Subscribe registers a subscriber for batches touching prefix.
// A non-positive buffer uses DefaultBuffer. It returns nil after Close.
func (b *Broadcaster) Subscribe(prefix string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	events := make(chan MutationBatch, buffer)
	sub := &Subscriber{
		ID:     uuid.New().String(),
		Prefix: types.NormalizeRelPath(prefix),
		Events: events,
		events: events,
		done:   make(chan struct{}),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
// A publisher blocked on this subscriber is released.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()

	if ok {
		sub.shutdown()
	}
}

// Publish delivers batch to every subscriber whose prefix it touches and
// returns once each has accepted it, been unsubscribed, or ctx is done.
// It must not be called with locks held that subscribers might need.
func (b *Broadcaster) Publish(ctx context.Context, batch MutationBatch) {
	if batch.Len() == 0 {
		return
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		part := batch.Filter(sub.Prefix)
		if part.Len() == 0 {
			continue
		}
		b.pending.Add(1)
		if sub.send(ctx, part) {
			b.delivered.Add(1)
		}
		b.pending.Add(-1)
	}
}

// Pending returns the number of deliveries currently waiting on a full
// subscriber buffer.
func (b *Broadcaster) Pending() int64 {
	return b.pending.Load()
}

// Delivered returns the number of batches accepted by subscribers.
func (b *Broadcaster) Delivered() int64 {
	return b.delivered.Load()
}

// Close closes the broadcaster and all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
