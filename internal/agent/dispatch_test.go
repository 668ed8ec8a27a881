package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
)

type fakeTriggerer struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
	done  chan string
}

func (f *fakeTriggerer) Trigger(ctx context.Context, _ u.UUID, id string) (model.TriggerResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return model.TriggerResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- id
	}
	if f.err != nil {
		return model.TriggerResult{}, f.err
	}
	return model.TriggerResult{Delivered: true, RecipientCount: 1}, nil
}

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (r *countingRefresher) Refresh(context.Context) ([]model.Combination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil, nil
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func TestQueue_SendsInOrder(t *testing.T) {
	trig := &fakeTriggerer{done: make(chan string, 4)}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 4, time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Dispatch(capture.Matched{CombinationID: "a", Timestamp: time.Now()})
	q.Dispatch(capture.Matched{CombinationID: "b", Timestamp: time.Now()})
	require.Equal(t, "a", <-trig.done)
	require.Equal(t, "b", <-trig.done)
}

func TestQueue_FullDropsNewest(t *testing.T) {
	trig := &fakeTriggerer{}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 2, time.Second, zaptest.NewLogger(t))

	// No worker: the queue only fills.
	for i := 0; i < 5; i++ {
		q.Dispatch(capture.Matched{CombinationID: fmt.Sprint(i)})
	}
	require.Len(t, q.ch, 2)
	require.Equal(t, "0", (<-q.ch).CombinationID)
	require.Equal(t, "1", (<-q.ch).CombinationID)
}

func TestQueue_StaleCombinationRefreshesRegistry(t *testing.T) {
	for _, sentinel := range []error{errs.ErrNotFound, errs.ErrForbidden} {
		trig := &fakeTriggerer{err: fmt.Errorf("trigger: %w", sentinel), done: make(chan string, 1)}
		reg := &countingRefresher{}
		q := NewQueue(u.Must(u.NewV4()), trig, reg, 1, time.Second, zaptest.NewLogger(t))

		q.send(context.Background(), capture.Matched{CombinationID: "gone"})
		require.Equal(t, 1, reg.count(), sentinel.Error())
	}

	trig := &fakeTriggerer{err: fmt.Errorf("dial: connection refused"), done: make(chan string, 1)}
	reg := &countingRefresher{}
	q := NewQueue(u.Must(u.NewV4()), trig, reg, 1, time.Second, zaptest.NewLogger(t))
	q.send(context.Background(), capture.Matched{CombinationID: "c"})
	require.Zero(t, reg.count(), "transport errors do not refresh")
}

func TestQueue_SendHonorsTimeout(t *testing.T) {
	trig := &fakeTriggerer{block: make(chan struct{})}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 1, 20*time.Millisecond, zaptest.NewLogger(t))

	start := time.Now()
	q.send(context.Background(), capture.Matched{CombinationID: "slow"})
	require.Less(t, time.Since(start), time.Second)
}

type slowTriggerer struct {
	delay time.Duration

	mu      sync.Mutex
	started chan string
	results map[string]error
}

func (f *slowTriggerer) Trigger(ctx context.Context, _ u.UUID, id string) (model.TriggerResult, error) {
	f.started <- id
	var err error
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		err = ctx.Err()
	}
	f.mu.Lock()
	f.results[id] = err
	f.mu.Unlock()
	if err != nil {
		return model.TriggerResult{}, err
	}
	return model.TriggerResult{Delivered: true, RecipientCount: 1}, nil
}

func (f *slowTriggerer) result(id string) (error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.results[id]
	return err, ok
}

func TestQueue_CloseDeliversFiredMatches(t *testing.T) {
	trig := &slowTriggerer{delay: 100 * time.Millisecond, started: make(chan string, 4), results: map[string]error{}}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 4, time.Second, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(runCtx); close(done) }()

	q.Dispatch(capture.Matched{CombinationID: "a"})
	q.Dispatch(capture.Matched{CombinationID: "b"})
	require.Equal(t, "a", <-trig.started)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelClose()
	require.NoError(t, q.Close(closeCtx))
	cancel()
	<-done

	for _, id := range []string{"a", "b"} {
		err, ok := trig.result(id)
		require.True(t, ok, id)
		require.NoError(t, err, id)
	}

	q.Dispatch(capture.Matched{CombinationID: "late"})
	require.Len(t, q.ch, 0, "closed queue takes no more matches")
	require.NoError(t, q.Close(closeCtx))
}

func TestQueue_CancelledRunStillFinishesInFlight(t *testing.T) {
	trig := &slowTriggerer{delay: 50 * time.Millisecond, started: make(chan string, 1), results: map[string]error{}}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 1, time.Second, zaptest.NewLogger(t))

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Run(runCtx); close(done) }()

	q.Dispatch(capture.Matched{CombinationID: "a"})
	<-trig.started
	cancel()
	<-done

	err, ok := trig.result("a")
	require.True(t, ok)
	require.NoError(t, err)
}

func TestQueue_CloseBoundedByCtx(t *testing.T) {
	trig := &slowTriggerer{delay: time.Hour, started: make(chan string, 4), results: map[string]error{}}
	q := NewQueue(u.Must(u.NewV4()), trig, nil, 4, time.Hour, zaptest.NewLogger(t))
	go q.Run(context.Background())

	q.Dispatch(capture.Matched{CombinationID: "a"})
	q.Dispatch(capture.Matched{CombinationID: "b"})
	<-trig.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)

	err, _ := trig.result("a")
	require.ErrorIs(t, err, context.Canceled)
	_, sent := trig.result("b")
	require.False(t, sent, "expired drain drops the rest")
}

func TestQueue_CloseWithoutRun(t *testing.T) {
	q := NewQueue(u.Must(u.NewV4()), &fakeTriggerer{}, nil, 1, time.Second, nil)
	require.NoError(t, q.Close(context.Background()))
}
