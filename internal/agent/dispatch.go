package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	u "github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
)

// Triggerer reports a match to the server.
type Triggerer interface {
	Trigger(ctx context.Context, caller u.UUID, combinationID string) (model.TriggerResult, error)
}

// Refresher reloads the registry.
type Refresher interface {
	Refresh(ctx context.Context) ([]model.Combination, error)
}

// Queue forwards matches to the server from a single worker so network latency never
// stalls event processing. When the queue is full the newest match is dropped.
//
// Trigger calls run on the queue's own context, not the caller's: a match that already
// fired is still delivered when the session stops. Close drains what is queued and
// bounds the drain by its ctx.
type Queue struct {
	caller  u.UUID
	trig    Triggerer
	reg     Refresher
	timeout time.Duration
	log     *zap.Logger

	ch chan capture.Matched

	base    context.Context
	kill    context.CancelFunc
	closed  atomic.Bool
	running atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

var _ capture.Dispatcher = (*Queue)(nil)

// NewQueue returns a dispatch queue of the given capacity. reg may be nil.
func NewQueue(caller u.UUID, trig Triggerer, reg Refresher, size int, timeout time.Duration, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 16
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	base, kill := context.WithCancel(context.Background())
	return &Queue{
		caller: caller, trig: trig, reg: reg, timeout: timeout, log: log,
		ch:   make(chan capture.Matched, size),
		base: base, kill: kill,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Dispatch enqueues m without blocking. After Close matches are dropped.
func (q *Queue) Dispatch(m capture.Matched) {
	if q.closed.Load() {
		q.log.Warn("dispatch queue closed, match dropped", zap.String("combination_id", m.CombinationID))
		return
	}
	select {
	case q.ch <- m:
	default:
		q.log.Warn("dispatch queue full, match dropped", zap.String("combination_id", m.CombinationID))
	}
}

// Run sends queued matches until Close is called or ctx is done, then drains the
// queue. Cancelling ctx does not abort a call in flight.
func (q *Queue) Run(ctx context.Context) {
	q.running.Store(true)
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-q.quit:
			q.drain()
			return
		case m := <-q.ch:
			q.send(q.base, m)
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case m := <-q.ch:
			q.send(q.base, m)
		default:
			return
		}
	}
}

// Close stops intake and waits for the worker to deliver what is queued. When ctx
// expires first the remaining calls are cancelled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer q.kill()
	stop := context.AfterFunc(ctx, q.kill)
	defer stop()

	close(q.quit)
	if !q.running.Load() {
		return nil
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) send(parent context.Context, m capture.Matched) {
	if parent.Err() != nil {
		q.log.Warn("dispatch stopped, match dropped", zap.String("combination_id", m.CombinationID))
		return
	}
	ctx, cancel := context.WithTimeout(parent, q.timeout)
	defer cancel()

	res, err := q.trig.Trigger(ctx, q.caller, m.CombinationID)
	if err != nil {
		q.log.Warn("trigger failed", zap.String("combination_id", m.CombinationID), zap.Error(err))
		// The combination is gone or its target is no longer a friend; the local set is stale.
		if q.reg != nil && (errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrForbidden)) {
			if _, rerr := q.reg.Refresh(ctx); rerr != nil {
				q.log.Debug("refresh after trigger failure", zap.Error(rerr))
			}
		}
		return
	}
	q.log.Info("alert delivered",
		zap.String("combination_id", m.CombinationID),
		zap.Bool("delivered", res.Delivered),
		zap.Int("recipients", res.RecipientCount),
		zap.Duration("latency", time.Since(m.Timestamp)),
	)
}
