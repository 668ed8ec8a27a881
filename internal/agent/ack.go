package agent

import (
	"context"
	"io"
	"sync"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/model"
)

// Bell acknowledges each press with a terminal bell.
type Bell struct {
	mu sync.Mutex
	w  io.Writer
}

var _ capture.Acknowledger = (*Bell)(nil)

// NewBell writes BEL to w.
func NewBell(w io.Writer) *Bell { return &Bell{w: w} }

func (b *Bell) Ack(_ context.Context, _ model.ButtonEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.w.Write([]byte{'\a'})
	return err
}
