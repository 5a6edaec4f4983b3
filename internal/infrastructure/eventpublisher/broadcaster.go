package eventpublisher

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
)

// MaxBuffer caps the snapshot buffer of a single subscriber.
const MaxBuffer = 1024

// Subscription receives balance snapshots in publication order. A slow
// reader loses intermediate snapshots, never the latest one.
type Subscription struct {
	ch     chan domain.BalanceSnapshot
	b      *Broadcaster
	ID     string
	closed bool
}

// C returns the snapshot channel. It is closed by Close.
func (s *Subscription) C() <-chan domain.BalanceSnapshot {
	return s.ch
}

// Close stops delivery and closes the channel.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
}

// Broadcaster fans committed snapshots out to in-process subscribers.
// Publish never blocks on a subscriber.
type Broadcaster struct {
	subs    map[string]*Subscription
	last    *domain.BalanceSnapshot
	metrics *metrics.Metrics
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(logger zerolog.Logger, m *metrics.Metrics) *Broadcaster {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Broadcaster{
		subs:    make(map[string]*Subscription),
		metrics: m,
		logger:  logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a subscriber with room for buffer snapshots, clamped
// to [1, MaxBuffer]. The most recent snapshot, if any, is delivered
// immediately.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	buffer = max(1, min(buffer, MaxBuffer))

	s := &Subscription{
		ID: ulid.Make().String(),
		ch: make(chan domain.BalanceSnapshot, buffer),
		b:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[s.ID] = s
	if b.last != nil {
		s.ch <- *b.last
	}

	b.logger.Debug().Str("subscription_id", s.ID).Int("buffer", buffer).Msg("subscriber added")

	return s
}

// Publish delivers snap to every subscriber. When a subscriber's buffer is
// full its oldest snapshot is dropped to make room.
func (b *Broadcaster) Publish(_ context.Context, snap domain.BalanceSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &snap

	for _, s := range b.subs {
		select {
		case s.ch <- snap:
			continue
		default:
		}

		select {
		case <-s.ch:
			b.metrics.SnapshotsDropped.Inc()
		default:
		}

		select {
		case s.ch <- snap:
		default:
		}
	}

	b.metrics.SnapshotsPublished.Inc()

	return nil
}

// Last returns the most recently published snapshot.
func (b *Broadcaster) Last() (domain.BalanceSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return domain.BalanceSnapshot{}, false
	}
	return *b.last, true
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subs {
		s.closed = true
		close(s.ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	delete(b.subs, s.ID)

	b.logger.Debug().Str("subscription_id", s.ID).Msg("subscriber removed")
}
