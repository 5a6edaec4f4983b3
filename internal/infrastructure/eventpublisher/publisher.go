// Package eventpublisher delivers committed balance snapshots to observers:
// in-process subscribers, the log and external sinks.
package eventpublisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/balancekeeper/internal/domain"
)

// Publisher defines the interface for publishing snapshots to external systems.
type Publisher interface {
	Publish(ctx context.Context, snap domain.BalanceSnapshot) error
}

// Relay forwards snapshots from a subscription to external publishers.
// External sinks run off the commit path, so a slow sink cannot stall
// balance updates.
type Relay struct {
	source *Subscription
	logger zerolog.Logger
	sinks  []Publisher
}

// NewRelay creates a Relay reading from source.
func NewRelay(source *Subscription, logger zerolog.Logger, sinks ...Publisher) *Relay {
	return &Relay{
		source: source,
		sinks:  sinks,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Start forwards snapshots until ctx is cancelled or the subscription closes.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info().Int("sinks", len(r.sinks)).Msg("snapshot relay started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("snapshot relay shutting down")
			return ctx.Err()
		case snap, ok := <-r.source.C():
			if !ok {
				r.logger.Info().Msg("snapshot relay source closed")
				return nil
			}
			r.forward(ctx, snap)
		}
	}
}

func (r *Relay) forward(ctx context.Context, snap domain.BalanceSnapshot) {
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			// keep going, other sinks still get the snapshot
			r.logger.Error().
				Err(err).
				Uint64("sequence", snap.Sequence).
				Msg("failed to publish snapshot")
		}
	}
}

// LogPublisher is a simple publisher that logs snapshots.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the snapshot.
func (p *LogPublisher) Publish(_ context.Context, snap domain.BalanceSnapshot) error {
	var evt *zerolog.Event
	if len(snap.Degraded) > 0 {
		evt = p.logger.Warn().Strs("degraded", snap.Degraded)
	} else {
		evt = p.logger.Info()
	}

	evt.
		Uint64("sequence", snap.Sequence).
		Str("cause", snap.Cause).
		Int("accounts", len(snap.Balances)).
		Msg("balances published")

	return nil
}

// RedisPublisher publishes snapshots as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "balances"
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends the snapshot to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, snap domain.BalanceSnapshot) error {
	payload, err := json.Marshal(domain.NewBalanceChangedEvent(snap))
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	return nil
}

// MultiPublisher publishes to several publishers in order.
type MultiPublisher []Publisher

// Publish calls every publisher and joins their errors.
func (m MultiPublisher) Publish(ctx context.Context, snap domain.BalanceSnapshot) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
