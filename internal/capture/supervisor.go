package capture

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultLivenessInterval is how often the supervisor probes the service.
const DefaultLivenessInterval = 30 * time.Second

// Authenticator reports whether the owning user is still signed in.
type Authenticator interface {
	Authenticated() bool
}

// Supervisor is the periodic liveness probe. It restarts the service when the user
// wants capture running, is still authenticated, and the service is not alive.
type Supervisor struct {
	svc      *Service
	auth     Authenticator
	interval time.Duration
	log      *zap.Logger
}

// NewSupervisor constructs a liveness probe for svc.
func NewSupervisor(svc *Service, auth Authenticator, interval time.Duration, log *zap.Logger) *Supervisor {
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{svc: svc, auth: auth, interval: interval, log: log}
}

// Check runs one probe and reports whether it (re)started the service.
func (p *Supervisor) Check(ctx context.Context) bool {
	if !p.svc.Wanted() {
		return false
	}
	if p.auth != nil && !p.auth.Authenticated() {
		return false
	}
	if p.svc.IsRunning() {
		return false
	}

	p.log.Warn("capture not alive, restarting", zap.Stringer("state", p.svc.State()))
	if err := p.svc.Restart(ctx); err != nil {
		p.log.Warn("restart failed", zap.Error(err))
		return false
	}
	return p.svc.IsRunning()
}

// Run probes every interval until ctx is done.
func (p *Supervisor) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Check(ctx)
		}
	}
}
