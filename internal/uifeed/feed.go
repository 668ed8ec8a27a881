// Package uifeed republishes capture signals to local UI clients over WebSocket.
package uifeed

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/capture"
	"github.com/and161185/alertme/internal/model"
)

// Message types.
const (
	TypeRaw     = "raw"
	TypeMatched = "matched"
)

const writeTimeout = 5 * time.Second

// Message is one feed frame. Timestamp is Unix milliseconds.
type Message struct {
	Type          string       `json:"type"`
	Symbol        model.Symbol `json:"symbol,omitempty"`
	CombinationID string       `json:"combinationId,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}

// Source exposes the capture signals.
type Source interface {
	OnRawEvent() *capture.Signal[capture.RawEvent]
	OnMatched() *capture.Signal[capture.Matched]
}

// Feed serves GET /events and, once OnChanged is set, POST /combinations-changed.
type Feed struct {
	src            Source
	originPatterns []string
	log            *zap.Logger
	changed        func(context.Context) error
}

// New returns a feed over src. originPatterns are passed to websocket.Accept.
func New(src Source, originPatterns []string, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{src: src, originPatterns: originPatterns, log: log}
}

// OnChanged sets the hook run by POST /combinations-changed, for a local editor UI
// that mutated combinations. Call it before Serve.
func (f *Feed) OnChanged(fn func(context.Context) error) { f.changed = fn }

// Routes returns the feed router.
func (f *Feed) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/events", f.ServeHTTP)
	if f.changed != nil {
		r.Post("/combinations-changed", f.handleChanged)
	}
	return r
}

func (f *Feed) handleChanged(w http.ResponseWriter, r *http.Request) {
	if err := f.changed(r.Context()); err != nil {
		f.log.Warn("refresh on change failed", zap.Error(err))
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeHTTP upgrades the request and streams messages until the peer goes away.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: f.originPatterns})
	if err != nil {
		f.log.Warn("feed accept failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	// The feed is write-only; CloseRead handles control frames and cancels on peer close.
	ctx := conn.CloseRead(r.Context())

	raw, cancelRaw := f.src.OnRawEvent().Subscribe()
	defer cancelRaw()
	matched, cancelMatched := f.src.OnMatched().Subscribe()
	defer cancelMatched()

	f.log.Debug("feed client connected", zap.String("remote", r.RemoteAddr))
	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case ev := <-raw:
			msg = Message{Type: TypeRaw, Symbol: ev.Symbol, Timestamp: ev.Timestamp.UnixMilli()}
		case m := <-matched:
			msg = Message{Type: TypeMatched, CombinationID: m.CombinationID, Timestamp: m.Timestamp.UnixMilli()}
		}
		if err := write(ctx, conn, msg); err != nil {
			f.log.Debug("feed write failed", zap.Error(err))
			return
		}
	}
}

func write(parent context.Context, conn *websocket.Conn, msg Message) error {
	ctx, cancel := context.WithTimeout(parent, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// Serve listens on addr until ctx is done.
func (f *Feed) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           f.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()
	f.log.Info("ui feed listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
