package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/model"
)

// DefaultStartCooldown absorbs duplicate start requests from the UI.
const DefaultStartCooldown = 500 * time.Millisecond

// ErrKeepAliveRefused is returned by Start when the platform refuses to keep the
// capture process alive. It is retryable; the liveness probe retries on its next tick.
var ErrKeepAliveRefused = errors.New("keep-alive refused")

// EventSource produces discrete button events. The channel is closed when the
// subscription ends, either because ctx is done or because the device went away.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan model.ButtonEvent, error)
}

// KeepAlive asks the platform to keep the capture process alive while running.
type KeepAlive interface {
	Acquire(ctx context.Context) error
	Release()
}

// Acknowledger delivers a lightweight per-event acknowledgment (haptic, bell, ...).
type Acknowledger interface {
	Ack(ctx context.Context, ev model.ButtonEvent) error
}

// Snapshotter exposes a read-only view of the registered combinations.
type Snapshotter interface {
	Snapshot() []model.Combination
}

// Dispatcher forwards matches to the trigger path. Dispatch must not block.
type Dispatcher interface {
	Dispatch(m Matched)
}

// Matched is emitted once per successful match.
type Matched struct {
	CombinationID string
	Timestamp     time.Time
}

// RawEvent is emitted for every accepted button event.
type RawEvent struct {
	Symbol    model.Symbol
	Timestamp time.Time
}

// Config holds the capture tunables.
type Config struct {
	MaxLen        int
	Timeout       time.Duration
	StartCooldown time.Duration
	Debounce      time.Duration // 0 disables
}

// Deps are the collaborators of a Service. Only Source and Registry are required.
type Deps struct {
	Source     EventSource
	Registry   Snapshotter
	KeepAlive  KeepAlive
	Ack        Acknowledger
	Dispatcher Dispatcher
}

type nopKeepAlive struct{}

func (nopKeepAlive) Acquire(context.Context) error { return nil }
func (nopKeepAlive) Release()                      {}

type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns the EventSource subscription, the SequenceBuffer and the state machine.
//
// Events are processed one at a time on a single goroutine, so the buffer needs no
// locking. Start/Stop/Restart may be called concurrently from the UI and the liveness
// probe; transitions are serialized by compare-and-swap on the state.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	buf *Buffer

	state     atomic.Int32
	want      atomic.Bool
	alive     atomic.Bool
	lastStart atomic.Int64
	run       atomic.Pointer[runHandle]

	lastEvent time.Time // loop-owned

	raw     *Signal[RawEvent]
	matched *Signal[Matched]
}

// NewService constructs a stopped capture service.
func NewService(cfg Config, deps Deps, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.KeepAlive == nil {
		deps.KeepAlive = nopKeepAlive{}
	}
	if cfg.StartCooldown < 0 {
		cfg.StartCooldown = 0
	}
	return &Service{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		buf:     NewBuffer(cfg.MaxLen, cfg.Timeout),
		raw:     NewSignal[RawEvent](64),
		matched: NewSignal[Matched](16),
	}
}

// OnRawEvent returns the signal fired for every accepted button event.
func (s *Service) OnRawEvent() *Signal[RawEvent] { return s.raw }

// OnMatched returns the signal fired for every match.
func (s *Service) OnMatched() *Signal[Matched] { return s.matched }

// State returns the current lifecycle state.
func (s *Service) State() State { return State(s.state.Load()) }

// IsRunning reports whether the service is running and its subscription is alive.
func (s *Service) IsRunning() bool {
	return s.State() == StateRunning && s.alive.Load()
}

// Wanted reports whether the user asked for capture to run.
func (s *Service) Wanted() bool { return s.want.Load() }

// Start requests capture. Requests while starting or running, or within the start
// cooldown of a run that is still up, are no-ops. Once the service is stopped the
// cooldown no longer applies. A keep-alive refusal leaves the service stopped and
// returns an error wrapping ErrKeepAliveRefused.
func (s *Service) Start(ctx context.Context) error {
	s.want.Store(true)
	return s.start(ctx, true)
}

// Stop ends capture: the subscription is dropped, the pending timeout cancelled and
// the keep-alive released. A match that already fired is not retracted.
func (s *Service) Stop() {
	s.want.Store(false)
	s.stop(StateStopping)
}

// Restart tears the current run down (if any) and starts again without the cooldown.
func (s *Service) Restart(ctx context.Context) error {
	s.stop(StateStoppingForRestart)
	return s.start(ctx, false)
}

func (s *Service) start(ctx context.Context, cooldown bool) error {
	now := time.Now().UnixNano()
	if cooldown && s.cfg.StartCooldown > 0 {
		if last := s.lastStart.Load(); last != 0 && time.Duration(now-last) < s.cfg.StartCooldown {
			return nil
		}
	}
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return nil
	}
	s.lastStart.Store(now)

	if err := s.deps.KeepAlive.Acquire(ctx); err != nil {
		s.toStopped()
		s.log.Warn("keep-alive refused", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrKeepAliveRefused, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := s.deps.Source.Subscribe(runCtx)
	if err != nil {
		cancel()
		s.deps.KeepAlive.Release()
		s.toStopped()
		s.log.Warn("subscribe failed", zap.Error(err))
		return fmt.Errorf("subscribe: %w", err)
	}

	h := &runHandle{cancel: cancel, done: make(chan struct{})}
	s.run.Store(h)
	s.alive.Store(true)
	go s.loop(runCtx, events, h.done)

	s.state.Store(int32(StateRunning))
	s.log.Info("capture started",
		zap.Duration("timeout", s.buf.Timeout()),
		zap.Int("combinations", len(s.deps.Registry.Snapshot())),
	)

	// Stop raced this start while it was in progress.
	if !s.want.Load() {
		s.stop(StateStopping)
	}
	return nil
}

func (s *Service) stop(via State) bool {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(via)) {
		return false
	}
	if h := s.run.Swap(nil); h != nil {
		h.cancel()
		<-h.done
	}
	s.alive.Store(false)
	s.deps.KeepAlive.Release()
	s.toStopped()
	s.log.Info("capture stopped", zap.Stringer("via", via))
	return true
}

// toStopped clears the cooldown so the next Start is honored.
func (s *Service) toStopped() {
	s.lastStart.Store(0)
	s.state.Store(int32(StateStopped))
}

func (s *Service) loop(ctx context.Context, events <-chan model.ButtonEvent, done chan<- struct{}) {
	defer close(done)

	var (
		timer  *time.Timer
		expiry <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		s.buf.Reset()
		s.lastEvent = time.Time{}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.alive.Store(false)
				s.log.Warn("event source closed")
				return
			}
			s.handle(ctx, ev)
		case now := <-expiry:
			if s.buf.Expire(now) {
				s.log.Debug("sequence timed out")
			}
		}

		if deadline, ok := s.buf.Deadline(); ok {
			wait := time.Until(deadline)
			if timer == nil {
				timer = time.NewTimer(wait)
			} else {
				timer.Reset(wait)
			}
			expiry = timer.C
		} else if timer != nil {
			timer.Stop()
			expiry = nil
		}
	}
}

func (s *Service) handle(ctx context.Context, ev model.ButtonEvent) {
	if !ev.Symbol.Valid() {
		s.log.Debug("unknown symbol dropped", zap.String("symbol", string(ev.Symbol)))
		return
	}
	now := time.Now()
	if s.cfg.Debounce > 0 && !s.lastEvent.IsZero() && now.Sub(s.lastEvent) < s.cfg.Debounce {
		return
	}
	s.lastEvent = now
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	s.raw.Emit(RawEvent{Symbol: ev.Symbol, Timestamp: ev.Timestamp})
	s.acknowledge(ctx, ev)

	s.buf.Append(ev.Symbol, now)
	c, ok := Match(s.buf, s.deps.Registry.Snapshot())
	if !ok {
		return
	}

	m := Matched{CombinationID: c.ID, Timestamp: ev.Timestamp}
	s.log.Info("combination matched", zap.String("combination_id", c.ID), zap.String("name", c.Name))
	s.matched.Emit(m)
	if s.deps.Dispatcher != nil {
		s.deps.Dispatcher.Dispatch(m)
	}
}

func (s *Service) acknowledge(ctx context.Context, ev model.ButtonEvent) {
	if s.deps.Ack == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Debug("ack panic", zap.Any("reason", r))
			}
		}()
		if err := s.deps.Ack.Ack(ctx, ev); err != nil {
			s.log.Debug("ack failed", zap.Error(err))
		}
	}()
}
