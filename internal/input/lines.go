package input

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/model"
)

// Lines reads whitespace-separated symbols ("up", "down", "volumeUp", "+", ...) from a
// reader, one or more per line. The reader is scanned by a single goroutine shared by
// successive subscriptions, so a restarted service keeps reading the same stream.
// EOF ends the current subscription and every later one.
//
// A press taken from the reader by a subscription that ends before forwarding it is
// parked in a one-slot back channel and handed to the next subscription.
type Lines struct {
	r   io.Reader
	log *zap.Logger

	once sync.Once
	evs  chan model.ButtonEvent
	back chan model.ButtonEvent
}

// NewLines returns a text source reading from r.
func NewLines(r io.Reader, log *zap.Logger) *Lines {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lines{r: r, log: log, evs: make(chan model.ButtonEvent), back: make(chan model.ButtonEvent, 1)}
}

// Subscribe forwards parsed presses until ctx is done or the reader is exhausted.
func (l *Lines) Subscribe(ctx context.Context) (<-chan model.ButtonEvent, error) {
	l.once.Do(func() { go l.pump() })

	out := make(chan model.ButtonEvent)
	go func() {
		defer close(out)
		for {
			var ev model.ButtonEvent
			select {
			case ev = <-l.back:
			default:
				var ok bool
				select {
				case <-ctx.Done():
					return
				case ev = <-l.back:
				case ev, ok = <-l.evs:
					if !ok {
						return
					}
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				l.park(ev)
				return
			}
		}
	}()
	return out, nil
}

func (l *Lines) park(ev model.ButtonEvent) {
	select {
	case l.back <- ev:
	default:
		l.log.Warn("press dropped between subscriptions", zap.String("symbol", string(ev.Symbol)))
	}
}

func (l *Lines) pump() {
	defer close(l.evs)
	sc := bufio.NewScanner(l.r)
	for sc.Scan() {
		for _, tok := range strings.Fields(sc.Text()) {
			sym, err := model.ParseSymbol(tok)
			if err != nil {
				l.log.Debug("unknown token", zap.String("token", tok))
				continue
			}
			l.evs <- model.ButtonEvent{Symbol: sym, Timestamp: time.Now()}
		}
	}
	if err := sc.Err(); err != nil {
		l.log.Warn("input read failed", zap.Error(err))
	}
}
