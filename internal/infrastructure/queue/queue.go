// Package queue serializes work per account while running different accounts
// in parallel on a bounded pool of workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/iho/balancekeeper/internal/domain"
	"github.com/iho/balancekeeper/internal/infrastructure/metrics"
)

// ErrTaskPanicked wraps a recovered panic.
var ErrTaskPanicked = errors.New("queued task panicked")

// Kind tells the queue how a task may be scheduled.
type Kind int

const (
	// KindMutation runs exactly once, in submission order.
	KindMutation Kind = iota
	// KindRecomputeHint asks for a full recompute; pending hints for the same
	// account collapse into the newest one.
	KindRecomputeHint
)

func (k Kind) String() string {
	if k == KindRecomputeHint {
		return "recompute"
	}
	return "mutation"
}

// Task is one unit of account work.
type Task struct {
	Run  func(ctx context.Context) (domain.OperationResult, error)
	Kind Kind
}

// Handle resolves when the submitted task, or the task that superseded it,
// has finished.
type Handle struct {
	done      chan struct{}
	err       error
	ID        string
	AccountID string
	result    domain.OperationResult
	once      sync.Once
}

func newHandle(accountID string) *Handle {
	return &Handle{
		ID:        ulid.Make().String(),
		AccountID: accountID,
		done:      make(chan struct{}),
	}
}

// Done is closed once the handle is resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) (domain.OperationResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return domain.OperationResult{}, ctx.Err()
	}
}

func (h *Handle) resolve(res domain.OperationResult, err error) {
	h.once.Do(func() {
		h.result = res
		h.err = err
		close(h.done)
	})
}

type item struct {
	enqueued  time.Time
	task      Task
	handle    *Handle
	followers []*Handle
}

func (it *item) fail(err error) {
	it.handle.resolve(domain.OperationResult{AccountID: it.handle.AccountID}, err)
	for _, f := range it.followers {
		f.resolve(domain.OperationResult{AccountID: f.AccountID}, err)
	}
}

type lane struct {
	ctx     context.Context
	cancel  context.CancelFunc
	idle    chan struct{}
	id      string
	pending []*item
	running bool
}

// Config configures a Queue.
type Config struct {
	// Workers bounds how many accounts compute at the same time.
	Workers int
	// Debounce delays a recompute hint at the head of a lane so that a burst
	// of hints collapses into one pass. Zero disables it.
	Debounce time.Duration
}

// Queue implements usecase.Queue.
type Queue struct {
	base    context.Context
	stop    context.CancelFunc
	lanes   map[string]*lane
	sem     chan struct{}
	metrics *metrics.Metrics
	logger  zerolog.Logger
	wg      sync.WaitGroup
	cfg     Config
	mu      sync.Mutex
	closed  bool
}

// New creates a Queue.
func New(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}

	base, stop := context.WithCancel(context.Background())

	return &Queue{
		base:    base,
		stop:    stop,
		lanes:   make(map[string]*lane),
		sem:     make(chan struct{}, cfg.Workers),
		metrics: m,
		logger:  logger.With().Str("component", "queue").Logger(),
		cfg:     cfg,
	}
}

// Submit enqueues task on the account's lane and returns immediately.
func (q *Queue) Submit(accountID string, task Task) *Handle {
	h := newHandle(accountID)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		h.resolve(domain.OperationResult{AccountID: accountID}, domain.ErrQueueClosed)
		return h
	}

	l := q.laneLocked(accountID)
	it := &item{task: task, handle: h, enqueued: time.Now()}

	if task.Kind == KindRecomputeHint {
		kept := l.pending[:0]
		for _, p := range l.pending {
			if p.task.Kind != KindRecomputeHint {
				kept = append(kept, p)
				continue
			}
			it.followers = append(it.followers, p.handle)
			it.followers = append(it.followers, p.followers...)
			q.metrics.QueueCoalesced.Inc()
			q.metrics.QueueDepth.Dec()
		}
		l.pending = kept
	}

	l.pending = append(l.pending, it)
	q.metrics.QueueDepth.Inc()

	if !l.running {
		l.running = true
		q.wg.Add(1)
		go q.drain(l)
	}
	q.mu.Unlock()

	return h
}

func (q *Queue) laneLocked(accountID string) *lane {
	if l, ok := q.lanes[accountID]; ok {
		return l
	}
	ctx, cancel := context.WithCancel(q.base)
	l := &lane{
		id:     accountID,
		ctx:    ctx,
		cancel: cancel,
		idle:   make(chan struct{}),
	}
	q.lanes[accountID] = l
	return l
}

// drain runs a lane's tasks one at a time until the lane is empty.
func (q *Queue) drain(l *lane) {
	defer q.wg.Done()

	for {
		select {
		case q.sem <- struct{}{}:
		case <-q.base.Done():
			q.abandon(l, domain.ErrQueueClosed)
			return
		}

		q.mu.Lock()
		if len(l.pending) == 0 {
			q.retireLocked(l)
			q.mu.Unlock()
			<-q.sem
			return
		}

		head := l.pending[0]
		if wait := q.debounceFor(head); wait > 0 {
			ctx := l.ctx
			q.mu.Unlock()
			<-q.sem
			sleep(ctx, wait)
			continue
		}

		l.pending = l.pending[1:]
		q.metrics.QueueDepth.Dec()
		ctx := l.ctx
		q.mu.Unlock()

		res, err := q.run(ctx, l.id, head)
		<-q.sem

		head.handle.resolve(res, err)
		if len(head.followers) > 0 {
			coalesced := res
			if err == nil {
				coalesced.Status = domain.StatusCoalesced
			}
			for _, f := range head.followers {
				f.resolve(coalesced, err)
			}
		}
	}
}

func (q *Queue) debounceFor(it *item) time.Duration {
	if q.cfg.Debounce <= 0 || it.task.Kind != KindRecomputeHint {
		return 0
	}
	return q.cfg.Debounce - time.Since(it.enqueued)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (q *Queue) run(ctx context.Context, accountID string, it *item) (res domain.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%w: %w", domain.ErrCancelledAccount, err)
		}
		if res.AccountID == "" {
			res.AccountID = accountID
		}
		q.metrics.QueueTaskErrors.WithLabelValues(it.task.Kind.String()).Inc()
		q.logger.Error().
			Err(err).
			Str("account_id", accountID).
			Str("task_id", it.handle.ID).
			Str("kind", it.task.Kind.String()).
			Msg("queued task failed")
	}()

	if cerr := ctx.Err(); cerr != nil {
		return domain.OperationResult{AccountID: accountID}, cerr
	}

	return it.task.Run(ctx)
}

// retireLocked removes an idle lane and wakes its flushers.
func (q *Queue) retireLocked(l *lane) {
	l.running = false
	l.cancel()
	close(l.idle)
	if q.lanes[l.id] == l {
		delete(q.lanes, l.id)
	}
}

func (q *Queue) abandon(l *lane, err error) {
	q.mu.Lock()
	pending := l.pending
	l.pending = nil
	q.metrics.QueueDepth.Sub(float64(len(pending)))
	q.retireLocked(l)
	q.mu.Unlock()

	for _, it := range pending {
		it.fail(err)
	}
}

// Cancel cancels the task running for accountID and fails every pending
// task with ErrCancelledAccount. It returns the number of discarded tasks.
func (q *Queue) Cancel(accountID string) int {
	q.mu.Lock()
	l, ok := q.lanes[accountID]
	if !ok {
		q.mu.Unlock()
		return 0
	}

	pending := l.pending
	l.pending = nil
	q.metrics.QueueDepth.Sub(float64(len(pending)))

	l.cancel()
	l.ctx, l.cancel = context.WithCancel(q.base)
	q.mu.Unlock()

	for _, it := range pending {
		it.fail(domain.ErrCancelledAccount)
	}
	q.metrics.QueueCancelled.Add(float64(len(pending)))

	if len(pending) > 0 {
		q.logger.Info().
			Str("account_id", accountID).
			Int("discarded", len(pending)).
			Msg("account work cancelled")
	}

	return len(pending)
}

// Flush waits until the account's lane has no pending or running work.
func (q *Queue) Flush(ctx context.Context, accountID string) error {
	q.mu.Lock()
	l, ok := q.lanes[accountID]
	q.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-l.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlushAll waits until every lane is idle.
func (q *Queue) FlushAll(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := make([]chan struct{}, 0, len(q.lanes))
		for _, l := range q.lanes {
			idle = append(idle, l.idle)
		}
		q.mu.Unlock()

		if len(idle) == 0 {
			return nil
		}

		for _, ch := range idle {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Pending returns the number of tasks waiting across all lanes.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, l := range q.lanes {
		n += len(l.pending)
	}
	return n
}

// Close stops accepting work and drains what is queued. If ctx ends first,
// running tasks are cancelled and pending ones fail with ErrQueueClosed.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.FlushAll(ctx)
	if err != nil {
		q.stop()
	}

	q.wg.Wait()
	q.stop()

	return err
}
