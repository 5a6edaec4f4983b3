package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/engine"
	"github.com/iho/balancekeeper/internal/infrastructure/eventpublisher"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
	"github.com/iho/balancekeeper/internal/infrastructure/queue"
)

// Coordinator is the single entry point for balance work. Every mutation of
// an account runs on that account's queue lane, commits with a version
// check, invalidates the cache, persists and is published once per call.
//
// Operations that commit several accounts as one unit hold view for reading
// until they resolve. Snapshots hold it for writing, so they never observe
// such an operation half done.
type Coordinator struct {
	store       LedgerStore
	cache       AggregateCache
	queue       Queue
	broadcaster SnapshotBroadcaster
	repo        EntryRepository
	source      TransactionSource
	journal     TransactionJournal
	retrier     Retrier
	engine      *engine.Engine
	metrics     *metrics.Metrics
	now         func() time.Time
	logger      zerolog.Logger
	view        sync.RWMutex
	pubMu       sync.Mutex
	sequence    uint64
	cacheMu     sync.Mutex
	generation  uint64
}

// Config wires a Coordinator.
type Config struct {
	Store       LedgerStore
	Cache       AggregateCache
	Queue       Queue
	Broadcaster SnapshotBroadcaster
	Engine      *engine.Engine
	Retrier     Retrier
	Metrics     *metrics.Metrics
	// Repository is optional; without it entries live only in memory.
	Repository EntryRepository
	// Source is optional; without it only balance aggregates are available.
	Source TransactionSource
	// Journal is optional. When set it receives every committed change and
	// serves as the Source unless one is given.
	Journal TransactionJournal
	Logger  zerolog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Engine == nil {
		cfg.Engine = engine.New(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewUnregistered()
	}
	if cfg.Retrier == nil {
		cfg.Retrier = noRetry{}
	}
	if cfg.Source == nil && cfg.Journal != nil {
		cfg.Source = cfg.Journal
	}

	return &Coordinator{
		store:       cfg.Store,
		cache:       cfg.Cache,
		queue:       cfg.Queue,
		broadcaster: cfg.Broadcaster,
		repo:        cfg.Repository,
		source:      cfg.Source,
		journal:     cfg.Journal,
		retrier:     cfg.Retrier,
		engine:      cfg.Engine,
		metrics:     cfg.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      cfg.Logger.With().Str("component", "coordinator").Logger(),
	}
}

type noRetry struct{}

func (noRetry) Retry(_ context.Context, operation func() error) error { return operation() }

// joinContexts returns a context cancelled when either parent is.
func joinContexts(lane, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(lane)
	if caller.Err() != nil {
		cancel(context.Cause(caller))
	}
	stop := context.AfterFunc(caller, func() { cancel(context.Cause(caller)) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// Snapshot returns the current balances without publishing them.
func (c *Coordinator) Snapshot() domain.BalanceSnapshot {
	c.view.Lock()
	defer c.view.Unlock()

	c.pubMu.Lock()
	seq := c.sequence
	c.pubMu.Unlock()

	return domain.BalanceSnapshot{
		Sequence: seq,
		Balances: c.store.Snapshot(),
		Degraded: c.store.Degraded(),
		At:       c.now(),
	}
}

// Subscribe registers an observer of committed snapshots.
func (c *Coordinator) Subscribe(buffer int) *eventpublisher.Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return c.broadcaster.Subscribe(min(buffer, MaxSubscriptionBuffer))
}

// Entry returns the ledger entry of an account.
func (c *Coordinator) Entry(accountID string) (domain.LedgerEntry, error) {
	e, ok := c.store.Get(accountID)
	if !ok {
		return domain.LedgerEntry{}, fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
	}
	return e, nil
}

// Entries returns every ledger entry ordered by account ID.
func (c *Coordinator) Entries() []domain.LedgerEntry {
	return c.store.Entries()
}

// Status returns the last known status of an account.
func (c *Coordinator) Status(accountID string) (domain.Status, error) {
	e, err := c.Entry(accountID)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

// Restore loads persisted entries into the ledger store.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}

	entries, err := c.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger entries: %w", err)
	}

	for _, e := range entries {
		c.store.Restore(e)
	}
	c.updateGauges()

	c.logger.Info().Int("entries", len(entries)).Msg("ledger restored")

	return nil
}

// Close waits for queued work and stops the queue.
func (c *Coordinator) Close(ctx context.Context) error {
	return c.queue.Close(ctx)
}

// mutation commits the entry returned by mutate on the account's lane.
type mutation func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error)

// commit applies mutate to the stored entry under an optimistic version
// check, retrying when the entry changed underneath. It must run on the
// account's lane.
func (c *Coordinator) commit(ctx context.Context, accountID string, mutate mutation) (domain.OperationResult, error) {
	var (
		stored  domain.LedgerEntry
		before  domain.LedgerEntry
		skipped []domain.SkippedTransaction
	)

	err := c.retrier.Retry(ctx, func() error {
		cur, ok := c.store.Get(accountID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAccount, accountID)
		}

		next, s, err := mutate(cur)
		if err != nil {
			return err
		}

		// A cancelled account keeps its previous state.
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrCancelledAccount, err)
		}

		saved, err := c.store.CompareAndSwap(next, cur.Version)
		if err != nil {
			if errors.Is(err, domain.ErrStaleVersion) {
				c.metrics.StaleRetries.Inc()
			}
			return err
		}

		stored, before, skipped = saved, cur, s
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleVersion) {
			c.metrics.RecomputeConflicts.Inc()
			return domain.OperationResult{AccountID: accountID}, fmt.Errorf("%w: account %s: %w", domain.ErrRecomputeConflict, accountID, err)
		}
		return domain.OperationResult{AccountID: accountID}, err
	}

	c.cache.Invalidate([]string{accountID}, nil)
	c.persist(ctx, stored)

	return resultOf(before, stored, skipped), nil
}

func resultOf(before, after domain.LedgerEntry, skipped []domain.SkippedTransaction) domain.OperationResult {
	status := domain.StatusCompleted
	if len(skipped) > 0 {
		status = domain.StatusPartial
	}

	return domain.OperationResult{
		AccountID: after.AccountID,
		Status:    status,
		Skipped:   skipped,
		Balance:   after.CurrentBalance,
		Version:   after.Version,
		Changed:   !before.CurrentBalance.Equal(after.CurrentBalance) || before.Status != after.Status,
	}
}

// persist writes the entry through to the repository. Failures are logged
// and counted; the in-memory ledger stays authoritative.
func (c *Coordinator) persist(ctx context.Context, entry domain.LedgerEntry) {
	if c.repo == nil {
		return
	}
	if err := c.repo.Save(context.WithoutCancel(ctx), entry); err != nil {
		c.metrics.PersistenceErrors.WithLabelValues("save").Inc()
		c.logger.Error().Err(err).Str("account_id", entry.AccountID).Msg("failed to persist ledger entry")
	}
}

func (c *Coordinator) unpersist(ctx context.Context, accountID string) {
	if c.repo == nil {
		return
	}
	if err := c.repo.Delete(context.WithoutCancel(ctx), accountID); err != nil {
		c.metrics.PersistenceErrors.WithLabelValues("delete").Inc()
		c.logger.Error().Err(err).Str("account_id", accountID).Msg("failed to delete persisted ledger entry")
	}
}

// record journals committed changes, then drops the aggregates of the
// touched accounts and categories.
func (c *Coordinator) record(ctx context.Context, accounts, categories []string, changes ...domain.TransactionChange) {
	defer c.refreshAggregates(accounts, categories)

	if c.journal == nil {
		return
	}
	for _, change := range changes {
		if err := c.journal.Record(context.WithoutCancel(ctx), change); err != nil {
			c.metrics.PersistenceErrors.WithLabelValues("journal").Inc()
			c.logger.Error().Err(err).Str("operation", string(change.Operation)).Msg("failed to journal transaction change")
		}
	}
}

// replaceHistory makes txs the journaled history of accounts. Dropped
// transfers may touch accounts and categories outside the new set, so every
// cached aggregate goes.
func (c *Coordinator) replaceHistory(ctx context.Context, accounts []string, txs []domain.Transaction) {
	if len(accounts) == 0 {
		return
	}
	defer c.resetAggregates()

	if c.journal == nil {
		return
	}
	if err := c.journal.Replace(context.WithoutCancel(ctx), accounts, txs); err != nil {
		c.metrics.PersistenceErrors.WithLabelValues("journal").Inc()
		c.logger.Error().Err(err).Int("accounts", len(accounts)).Msg("failed to replace journaled transactions")
	}
}

// refreshAggregates starts a new journal generation and drops the affected
// aggregates. A value computed during an older generation is never cached.
func (c *Coordinator) refreshAggregates(accounts, categories []string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.generation++
	c.cache.Invalidate(accounts, categories)
}

func (c *Coordinator) resetAggregates() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	c.generation++
	c.cache.Purge()
}

func (c *Coordinator) journalGeneration() uint64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.generation
}

// cacheAggregate stores value unless the ledger entry or the journal moved
// on since it was computed.
func (c *Coordinator) cacheAggregate(key domain.AggregateKey, value decimal.Decimal, version, generation uint64) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if c.generation != generation || c.store.Version(key.AccountID) != version {
		return
	}
	c.cache.Put(key, value, version)
}

// markDegraded records that a task for the account failed, so reads surface
// a warning until the next successful recompute. It reports whether the
// entry changed.
func (c *Coordinator) markDegraded(ctx context.Context, accountID string, cause error) bool {
	switch {
	case errors.Is(cause, domain.ErrUnknownAccount),
		errors.Is(cause, domain.ErrCancelledAccount),
		errors.Is(cause, domain.ErrQueueClosed),
		errors.Is(cause, context.Canceled),
		errors.Is(cause, context.DeadlineExceeded):
		return false
	}

	h := c.queue.Submit(accountID, queue.Task{Kind: queue.KindMutation, Run: func(ctx context.Context) (domain.OperationResult, error) {
		return c.commit(ctx, accountID, func(cur domain.LedgerEntry) (domain.LedgerEntry, []domain.SkippedTransaction, error) {
			cur.Status = domain.StatusDegraded
			return cur, nil, nil
		})
	}})

	res, err := h.Wait(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("account_id", accountID).Msg("failed to mark account degraded")
		return false
	}
	return res.Changed
}

// publish pushes one snapshot when something changed.
func (c *Coordinator) publish(ctx context.Context, cause string, changed bool) {
	c.updateGauges()
	if !changed {
		return
	}

	c.view.Lock()
	defer c.view.Unlock()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.sequence++
	snap := domain.BalanceSnapshot{
		Sequence: c.sequence,
		Balances: c.store.Snapshot(),
		Degraded: c.store.Degraded(),
		Cause:    cause,
		At:       c.now(),
	}

	if err := c.broadcaster.Publish(ctx, snap); err != nil {
		c.logger.Error().Err(err).Uint64("sequence", snap.Sequence).Msg("failed to publish snapshot")
	}
}

func (c *Coordinator) updateGauges() {
	c.metrics.TrackedAccounts.Set(float64(len(c.store.Entries())))
	c.metrics.DegradedAccounts.Set(float64(len(c.store.Degraded())))
}

// awaitAll waits for every handle. Results and errors are positional; the
// returned error is the first failure.
func awaitAll(ctx context.Context, handles []*queue.Handle) ([]domain.OperationResult, []error, error) {
	results := make([]domain.OperationResult, len(handles))
	errs := make([]error, len(handles))

	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			results[i], errs[i] = h.Wait(ctx)
			return errs[i]
		})
	}

	return results, errs, g.Wait()
}

func anyChanged(results []domain.OperationResult) bool {
	for _, r := range results {
		if r.Changed {
			return true
		}
	}
	return false
}

// observe records the outcome of a coordinator call.
func (c *Coordinator) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.Operations.WithLabelValues(operation, status).Inc()
	c.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
