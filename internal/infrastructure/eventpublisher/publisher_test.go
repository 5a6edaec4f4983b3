package eventpublisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
)

func snapshot(seq uint64) domain.BalanceSnapshot {
	return domain.BalanceSnapshot{
		Sequence: seq,
		Cause:    domain.CauseTransactionChanged,
		At:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Balances: map[string]decimal.Decimal{"a": decimal.NewFromInt(int64(seq))},
	}
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	sub := b.Subscribe(8)
	defer sub.Close()

	for i := uint64(1); i <= 3; i++ {
		if err := b.Publish(context.Background(), snapshot(i)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	for want := uint64(1); want <= 3; want++ {
		got := <-sub.C()
		if got.Sequence != want {
			t.Fatalf("expected sequence %d, got %d", want, got.Sequence)
		}
	}
}

func TestBroadcasterSlowSubscriberKeepsLatest(t *testing.T) {
	m := metrics.NewUnregistered()
	b := NewBroadcaster(zerolog.Nop(), m)
	sub := b.Subscribe(1)

	for i := uint64(1); i <= 5; i++ {
		_ = b.Publish(context.Background(), snapshot(i))
	}

	got := <-sub.C()
	if got.Sequence != 5 {
		t.Fatalf("expected latest snapshot 5, got %d", got.Sequence)
	}

	select {
	case extra := <-sub.C():
		t.Fatalf("expected empty buffer, got %d", extra.Sequence)
	default:
	}
}

func TestBroadcasterReplaysLastOnSubscribe(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	_ = b.Publish(context.Background(), snapshot(7))

	sub := b.Subscribe(1)
	got := <-sub.C()
	if got.Sequence != 7 {
		t.Fatalf("expected replay of 7, got %d", got.Sequence)
	}

	last, ok := b.Last()
	if !ok || last.Sequence != 7 {
		t.Fatalf("expected last snapshot 7, got %+v", last)
	}
}

func TestBroadcasterCloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	sub := b.Subscribe(1)

	sub.Close()
	sub.Close()
	b.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Subscribers())
	}

	// publishing after all subscribers left must not panic
	_ = b.Publish(context.Background(), snapshot(1))
}

func TestBroadcasterConcurrentPublishers(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	sub := b.Subscribe(1000)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				_ = b.Publish(context.Background(), snapshot(uint64(i*50+j)))
			}
		}()
	}
	wg.Wait()

	if got := len(sub.C()); got != 500 {
		t.Fatalf("expected 500 buffered snapshots, got %d", got)
	}
}

type stubPublisher struct {
	mu        sync.Mutex
	err       error
	published []domain.BalanceSnapshot
}

func (p *stubPublisher) Publish(_ context.Context, snap domain.BalanceSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, snap)
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func TestRelayForwardsAndContinuesOnError(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	failing := &stubPublisher{err: errors.New("fail")}
	ok := &stubPublisher{}

	relay := NewRelay(b.Subscribe(4), zerolog.Nop(), failing, ok)

	done := make(chan error, 1)
	go func() { done <- relay.Start(context.Background()) }()

	_ = b.Publish(context.Background(), snapshot(1))
	_ = b.Publish(context.Background(), snapshot(2))

	deadline := time.After(2 * time.Second)
	for ok.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("relay did not forward snapshots, got %d", ok.count())
		case <-time.After(5 * time.Millisecond):
		}
	}

	b.Close()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop on closed source, got %v", err)
	}
}

func TestRelayStopsOnContextCancellation(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	relay := NewRelay(b.Subscribe(1), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := relay.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLogPublisherWritesSnapshot(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))

	snap := snapshot(3)
	snap.Degraded = []string{"a"}
	if err := p.Publish(context.Background(), snap); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json log line: %v", err)
	}
	if line["level"] != "warn" || line["cause"] != domain.CauseTransactionChanged {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redislib.NewClient(&redislib.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "balances")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	p := NewRedisPublisher(client, "")
	if err := p.Publish(ctx, snapshot(9)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var evt domain.BalanceChangedEvent
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if evt.Sequence != 9 || evt.Balances["a"] != "9" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}

func TestMultiPublisherJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := &stubPublisher{}
	m := MultiPublisher{&stubPublisher{err: boom}, ok}

	if err := m.Publish(context.Background(), snapshot(1)); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if ok.count() != 1 {
		t.Fatalf("expected second publisher to run")
	}
}

func TestBroadcasterClampsBuffer(t *testing.T) {
	b := NewBroadcaster(zerolog.Nop(), nil)
	defer b.Close()

	if huge := b.Subscribe(1 << 40); cap(huge.C()) != MaxBuffer {
		t.Fatalf("expected buffer %d, got %d", MaxBuffer, cap(huge.C()))
	}
	if tiny := b.Subscribe(-5); cap(tiny.C()) != 1 {
		t.Fatalf("expected buffer 1, got %d", cap(tiny.C()))
	}
}
