// Package keepalive implements capture.KeepAlive for the agent.
package keepalive

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/capture"
)

// Modes accepted by New.
const (
	ModeNone   = "none"
	ModeLogind = "logind"
)

// Nop never refuses and holds nothing.
type Nop struct{}

func (Nop) Acquire(context.Context) error { return nil }
func (Nop) Release()                      {}

// inhibitFunc takes an inhibitor lock and returns its file descriptor.
type inhibitFunc func(ctx context.Context, what, who, why, mode string) (*os.File, error)

// Logind holds a systemd-logind inhibitor lock while capture runs, so the machine does
// not suspend or go idle underneath the agent. Closing the descriptor releases the lock.
type Logind struct {
	What string // e.g. "sleep:idle"
	Why  string

	inhibit inhibitFunc
	log     *zap.Logger

	mu sync.Mutex
	fd *os.File
}

// NewLogind returns a logind keep-alive on the system bus.
func NewLogind(log *zap.Logger) *Logind {
	return newLogind(dbusInhibit, log)
}

func newLogind(fn inhibitFunc, log *zap.Logger) *Logind {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logind{What: "sleep:idle", Why: "button capture running", inhibit: fn, log: log}
}

// Acquire takes the lock. A second Acquire without Release is a no-op.
func (l *Logind) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd != nil {
		return nil
	}
	fd, err := l.inhibit(ctx, l.What, "alertme", l.Why, "block")
	if err != nil {
		return fmt.Errorf("logind inhibit: %w", err)
	}
	l.fd = fd
	l.log.Debug("inhibitor lock taken", zap.String("what", l.What))
	return nil
}

// Release drops the lock, if held.
func (l *Logind) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd == nil {
		return
	}
	if err := l.fd.Close(); err != nil {
		l.log.Debug("inhibitor close", zap.Error(err))
	}
	l.fd = nil
}

// Held reports whether the lock is currently held.
func (l *Logind) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd != nil
}

func dbusInhibit(ctx context.Context, what, who, why, mode string) (*os.File, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1")
	var fd dbus.UnixFD
	if err := obj.CallWithContext(ctx, "org.freedesktop.login1.Manager.Inhibit", 0, what, who, why, mode).Store(&fd); err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), "logind-inhibit"), nil
}

// New picks an implementation by mode.
func New(mode string, log *zap.Logger) (capture.KeepAlive, error) {
	switch mode {
	case "", ModeNone:
		return Nop{}, nil
	case ModeLogind:
		return NewLogind(log), nil
	}
	return nil, fmt.Errorf("unknown keepalive mode %q", mode)
}
