// Package capture implements the on-device pipeline that turns raw button presses
// into matched combinations: a sliding SequenceBuffer, the suffix Matcher and the
// long-lived CaptureService with its liveness probe.
package capture

import (
	"time"

	"github.com/and161185/alertme/internal/model"
)

// Default tunables observed on the capture path.
const (
	DefaultMaxLen  = 10
	DefaultTimeout = 3 * time.Second
)

// Buffer accumulates the most recent symbols with a single sliding timeout.
//
// Buffer is not safe for concurrent use; it is owned by the service event loop.
// Time is passed in explicitly so the owner decides which clock drives it.
type Buffer struct {
	symbols  model.Sequence
	max      int
	timeout  time.Duration
	deadline time.Time // zero iff symbols is empty
}

// NewBuffer returns an empty buffer holding at most max symbols.
func NewBuffer(max int, timeout time.Duration) *Buffer {
	if max <= 0 {
		max = DefaultMaxLen
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Buffer{max: max, timeout: timeout, symbols: make(model.Sequence, 0, max)}
}

// Append adds s at the tail, drops the oldest symbol when the bound is exceeded
// and restarts the timeout from now. A timeout that elapsed before now clears the
// buffer first.
func (b *Buffer) Append(s model.Symbol, now time.Time) {
	b.Expire(now)
	if len(b.symbols) == b.max {
		copy(b.symbols, b.symbols[1:])
		b.symbols = b.symbols[:b.max-1]
	}
	b.symbols = append(b.symbols, s)
	b.deadline = now.Add(b.timeout)
}

// Expire clears the buffer if its timeout has elapsed at now. It reports whether it cleared.
func (b *Buffer) Expire(now time.Time) bool {
	if len(b.symbols) == 0 || now.Before(b.deadline) {
		return false
	}
	b.Reset()
	return true
}

// Reset clears the buffer and cancels the pending timeout.
func (b *Buffer) Reset() {
	b.symbols = b.symbols[:0]
	b.deadline = time.Time{}
}

// Len returns the number of buffered symbols.
func (b *Buffer) Len() int { return len(b.symbols) }

// Symbols returns a copy of the buffered symbols, oldest first.
func (b *Buffer) Symbols() model.Sequence {
	return append(model.Sequence(nil), b.symbols...)
}

// Deadline returns when the pending timeout fires; ok is false when nothing is pending.
func (b *Buffer) Deadline() (deadline time.Time, ok bool) {
	if len(b.symbols) == 0 {
		return time.Time{}, false
	}
	return b.deadline, true
}

// Timeout returns the configured sliding timeout.
func (b *Buffer) Timeout() time.Duration { return b.timeout }

func (b *Buffer) view() model.Sequence { return b.symbols }
