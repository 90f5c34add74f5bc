package store

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/marketmind/decisioncore/internal/domain"
)

// snapshotBufferDepth is the per-subscriber back-pressure buffer. A consumer
// that falls further behind loses its oldest events first.
const snapshotBufferDepth = 64

// SnapshotBroadcaster fans persisted-decision snapshots out to SSE
// subscribers. Single producer (the store's save path), many consumers.
type SnapshotBroadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber is one consumer's handle on the snapshot stream. Close it to
// unsubscribe; C is closed afterwards.
type Subscriber struct {
	C chan domain.DecisionSnapshot

	b    *SnapshotBroadcaster
	once sync.Once
}

// NewSnapshotBroadcaster creates an empty broadcaster.
func NewSnapshotBroadcaster() *SnapshotBroadcaster {
	return &SnapshotBroadcaster{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new consumer.
func (b *SnapshotBroadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{
		C: make(chan domain.DecisionSnapshot, snapshotBufferDepth),
		b: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close unsubscribes and closes the event channel. Safe to call twice.
func (s *Subscriber) Close() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s)
		s.b.mu.Unlock()
		close(s.C)
	})
}

// Publish delivers a snapshot to every subscriber. A full subscriber buffer
// drops its oldest event to make room; publish order is preserved per
// subscriber.
func (b *SnapshotBroadcaster) Publish(snap domain.DecisionSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.C <- snap:
		default:
			select {
			case dropped := <-sub.C:
				log.Debug().
					Str("symbol", dropped.Symbol).
					Str("trace_id", dropped.TraceID).
					Msg("Snapshot subscriber overflow, dropped oldest event")
			default:
			}
			select {
			case sub.C <- snap:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (b *SnapshotBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Shutdown closes all subscriber channels and rejects future subscriptions.
func (b *SnapshotBroadcaster) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.C) })
	}
}
