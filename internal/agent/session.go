package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/registry"
)

// Remote is the server as seen by a session.
type Remote interface {
	registry.Remote
	Triggerer
}

// SessionDeps are the collaborators of a Session. Cache, KeepAlive and Ack are optional.
type SessionDeps struct {
	Source    capture.EventSource
	Remote    Remote
	Cache     registry.Cache
	KeepAlive capture.KeepAlive
	Ack       capture.Acknowledger
}

// Session owns the capture pipeline of one authenticated user: registry, capture
// service, liveness probe and dispatch queue. It is built at login and torn down at
// logout, so nothing leaks between users.
//
// The registry is kept in sync by a background loop: a failed refresh is retried with
// capped exponential backoff and a good set is refreshed again every interval.
// CombinationsChanged refreshes at once.
type Session struct {
	creds Credentials
	log   *zap.Logger
	every RegistryConfig
	kick  chan struct{}

	Registry   *registry.Registry
	Capture    *capture.Service
	Supervisor *capture.Supervisor
	Queue      *Queue

	authed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wires a session for creds.
func NewSession(cfg *Config, creds Credentials, deps SessionDeps, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("user_id", creds.UserID.String()))

	every := cfg.Registry
	if every.RefreshInterval <= 0 {
		every.RefreshInterval = 5 * time.Minute
	}
	if every.RetryMin <= 0 {
		every.RetryMin = time.Second
	}
	if every.RetryMax < every.RetryMin {
		every.RetryMax = every.RetryMin
	}
	s := &Session{creds: creds, log: log, every: every, kick: make(chan struct{}, 1)}
	s.Registry = registry.New(creds.UserID, deps.Remote, deps.Cache, log.Named("registry"))
	s.Queue = NewQueue(creds.UserID, deps.Remote, s.Registry, cfg.Dispatch.Queue, cfg.Dispatch.Timeout, log.Named("dispatch"))
	s.Capture = capture.NewService(cfg.CaptureServiceConfig(), capture.Deps{
		Source:     deps.Source,
		Registry:   s.Registry,
		KeepAlive:  deps.KeepAlive,
		Ack:        deps.Ack,
		Dispatcher: s.Queue,
	}, log.Named("capture"))
	s.Supervisor = capture.NewSupervisor(s.Capture, s, cfg.Capture.LivenessInterval, log.Named("liveness"))
	s.authed.Store(creds.Valid(time.Now()))
	return s
}

// Authenticated reports whether the session's user is still signed in.
func (s *Session) Authenticated() bool {
	return s.authed.Load() && s.creds.Valid(time.Now())
}

// Open loads the cached registry, starts background workers and requests capture.
// The first remote refresh runs in the background; until it lands the cached set is used.
// A start failure is logged and left to the liveness probe.
func (s *Session) Open(ctx context.Context) {
	if err := s.Registry.LoadCached(ctx); err != nil {
		s.log.Warn("cache load failed", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.syncRegistry(runCtx) }()
	go func() { defer s.wg.Done(); s.Queue.Run(runCtx) }()
	go func() { defer s.wg.Done(); s.Supervisor.Run(runCtx) }()

	if err := s.Capture.Start(runCtx); err != nil {
		s.log.Warn("capture start failed; liveness probe will retry", zap.Error(err))
	}
}

// CombinationsChanged is the onCombinationsChanged hook of the running agent: it
// refreshes the registry now. On failure the background loop takes over the retries.
func (s *Session) CombinationsChanged(ctx context.Context) error {
	err := s.Registry.OnCombinationsChanged(ctx, s.creds.UserID)
	if err != nil {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return err
}

// syncRegistry refreshes until ctx is done. Each round retries until one refresh
// succeeds, then waits for the interval or a kick.
func (s *Session) syncRegistry(ctx context.Context) {
	for {
		if err := s.refreshWithRetry(ctx); err != nil {
			return
		}
		t := time.NewTimer(s.every.RefreshInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		case <-s.kick:
			t.Stop()
		}
	}
}

func (s *Session) refreshWithRetry(ctx context.Context) error {
	b := retry.WithCappedDuration(s.every.RetryMax, retry.NewExponential(s.every.RetryMin))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if _, err := s.Registry.Refresh(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Close stops capture, delivers matches that already fired and stops background
// workers. ctx bounds the whole teardown. With logout the user is signed out and the
// cached combinations are purged.
func (s *Session) Close(ctx context.Context, logout bool) error {
	if logout {
		s.authed.Store(false)
	}
	s.Capture.Stop()
	qerr := s.Queue.Close(ctx)
	if qerr != nil {
		s.log.Warn("dispatch queue not drained", zap.Error(qerr))
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return errors.Join(qerr, s.Registry.Teardown(ctx, logout))
}
