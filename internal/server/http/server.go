// Package httpserver exposes the alertme JSON API over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/auth"
	"github.com/and161185/alertme/internal/convert"
	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/metrics"
	"github.com/and161185/alertme/internal/service"
)

const maxBodyBytes = 64 << 10

// Options tune the router.
type Options struct {
	// RateLimit is the number of requests allowed per client IP per minute. 0 disables it.
	RateLimit int
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Server wires services into HTTP handlers.
type Server struct {
	combos    service.CombinationService
	triggers  service.TriggerService
	endpoints service.EndpointService
	issuer    *auth.Issuer
	metrics   *metrics.Metrics
	log       *zap.Logger
	opts      Options
}

// New constructs the HTTP server with injected services.
func New(
	combos service.CombinationService,
	triggers service.TriggerService,
	endpoints service.EndpointService,
	issuer *auth.Issuer,
	m *metrics.Metrics,
	log *zap.Logger,
	opts Options,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		combos: combos, triggers: triggers, endpoints: endpoints,
		issuer: issuer, metrics: m, log: log, opts: opts,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Recover(s.log))
	r.Use(Logging(s.log))
	r.Use(Instrument(s.metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(pr chi.Router) {
		if s.opts.RateLimit > 0 {
			pr.Use(httprate.LimitByIP(s.opts.RateLimit, time.Minute))
		}
		pr.Use(Authenticate(s.issuer, s.log))

		pr.Post("/trigger-combination", s.handleTrigger)
		pr.Post("/get-combinations", s.handleGetCombinations)
		pr.Post("/add-combination", s.handleAddCombination)
		pr.Post("/update-combination", s.handleUpdateCombination)
		pr.Post("/delete-combination", s.handleDeleteCombination)
		pr.Post("/register-endpoint", s.handleRegisterEndpoint)
		pr.Post("/list-endpoints", s.handleListEndpoints)
	})
	return r
}

// Serve runs the HTTP server until ctx is done, then shuts it down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	tls := s.opts.CertFile != "" && s.opts.KeyFile != ""
	go func() {
		if tls {
			errCh <- srv.ListenAndServeTLS(s.opts.CertFile, s.opts.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("http listening", zap.String("addr", addr), zap.Bool("tls", tls))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("%w: bad json: %v", errs.ErrInvalid, err)
	}
	return nil
}

// actingUser parses the body's user id and requires it to match the token subject.
func actingUser(r *http.Request, field, raw string) (uuid.UUID, error) {
	id, err := convert.ParseID(field, raw)
	if err != nil {
		return uuid.Nil, err
	}
	sub, ok := auth.UserIDFromCtx(r.Context())
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: no auth", errs.ErrUnauthorized)
	}
	if sub != id {
		return uuid.Nil, fmt.Errorf("%w: %s does not match token", errs.ErrForbidden, field)
	}
	return id, nil
}
