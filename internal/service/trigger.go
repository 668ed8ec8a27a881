package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/metrics"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/push"
	"github.com/and161185/alertme/internal/repository"
)

// Fan-out defaults.
const (
	DefaultFanoutTimeout     = 10 * time.Second
	DefaultFanoutConcurrency = 8
)

// Trigger result labels.
const (
	resultDelivered = "delivered"
	resultNotFound  = "not_found"
	resultForbidden = "forbidden"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// TriggerService fires a caller's combination at its target.
type TriggerService interface {
	// Trigger returns NotFound when the combination or its target is gone
	// and Forbidden when the two are no longer mutual friends.
	Trigger(ctx context.Context, callerID uuid.UUID, combinationID string) (model.TriggerResult, error)
}

// TriggerOptions bound the per-endpoint fan-out.
type TriggerOptions struct {
	Timeout     time.Duration
	Concurrency int
}

type TriggerServiceImpl struct {
	combos    repository.CombinationRepository
	users     repository.UserRepository
	endpoints repository.EndpointRepository
	provider  push.Provider
	opts      TriggerOptions
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// NewTriggerService constructs TriggerService. Zero options take the defaults.
func NewTriggerService(
	combos repository.CombinationRepository,
	users repository.UserRepository,
	endpoints repository.EndpointRepository,
	provider push.Provider,
	opts TriggerOptions,
	m *metrics.Metrics,
	log *zap.Logger,
) *TriggerServiceImpl {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFanoutTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultFanoutConcurrency
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TriggerServiceImpl{
		combos: combos, users: users, endpoints: endpoints,
		provider: provider, opts: opts, metrics: m, log: log,
	}
}

// Trigger resolves the combination, re-checks friendship, probes and prunes
// the target's endpoints and sends the alert to the survivors.
func (s *TriggerServiceImpl) Trigger(ctx context.Context, callerID uuid.UUID, combinationID string) (model.TriggerResult, error) {
	res, err := s.trigger(ctx, callerID, combinationID)
	switch {
	case err == nil:
		s.metrics.Trigger(resultDelivered)
	case errors.Is(err, errs.ErrNotFound):
		s.metrics.Trigger(resultNotFound)
	case errors.Is(err, errs.ErrInvalid):
		s.metrics.Trigger(resultInvalid)
	case errors.Is(err, errs.ErrForbidden):
		s.metrics.Trigger(resultForbidden)
	default:
		s.metrics.Trigger(resultError)
	}
	return res, err
}

func (s *TriggerServiceImpl) trigger(ctx context.Context, callerID uuid.UUID, combinationID string) (model.TriggerResult, error) {
	if callerID == uuid.Nil || combinationID == "" {
		return model.TriggerResult{}, fmt.Errorf("%w: empty caller/combination", errs.ErrInvalid)
	}
	c, err := s.combos.Get(ctx, callerID, combinationID)
	if err != nil {
		return model.TriggerResult{}, fmt.Errorf("combination: %w", err)
	}
	caller, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		return model.TriggerResult{}, fmt.Errorf("caller: %w", err)
	}
	if _, err := s.users.GetByID(ctx, c.TargetID); err != nil {
		return model.TriggerResult{}, fmt.Errorf("target: %w", err)
	}
	ok, err := s.users.AreMutualFriends(ctx, callerID, c.TargetID)
	if err != nil {
		return model.TriggerResult{}, err
	}
	if !ok {
		return model.TriggerResult{}, fmt.Errorf("%w: no longer friends", errs.ErrForbidden)
	}

	eps, err := s.endpoints.ListByUser(ctx, c.TargetID)
	if err != nil {
		return model.TriggerResult{}, fmt.Errorf("endpoints: %w", err)
	}

	fanCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var pruned atomic.Int32
	live := s.probe(fanCtx, ctx, eps, &pruned)
	sent := s.send(fanCtx, ctx, live, push.CombinationAlert(caller, c), &pruned)

	s.metrics.Pruned(int(pruned.Load()))
	s.log.Info("trigger",
		zap.String("combination", c.ID),
		zap.String("caller", callerID.String()),
		zap.Int("endpoints", len(eps)),
		zap.Int("delivered", sent),
		zap.Int32("pruned", pruned.Load()),
	)
	return model.TriggerResult{Delivered: true, RecipientCount: sent, Pruned: int(pruned.Load())}, nil
}

// probe returns the endpoints that survived the liveness probe.
// Endpoints the provider reports invalid are pruned; transient probe failures keep the endpoint.
func (s *TriggerServiceImpl) probe(fanCtx, ctx context.Context, eps []model.Endpoint, pruned *atomic.Int32) []model.Endpoint {
	alive := make([]bool, len(eps))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for i := range eps {
		g.Go(func() error {
			err := s.provider.Probe(fanCtx, eps[i].Token)
			switch {
			case err == nil:
				alive[i] = true
			case errors.Is(err, push.ErrInvalidEndpoint):
				s.prune(ctx, eps[i].Token, pruned)
			default:
				s.log.Warn("probe failed", zap.String("token", push.ShortToken(eps[i].Token)), zap.Error(err))
				alive[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.Endpoint, 0, len(eps))
	for i, ok := range alive {
		if ok {
			out = append(out, eps[i])
		}
	}
	return out
}

// send delivers a to every endpoint and returns how many the provider accepted.
func (s *TriggerServiceImpl) send(fanCtx, ctx context.Context, eps []model.Endpoint, a push.Alert, pruned *atomic.Int32) int {
	var accepted atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for i := range eps {
		g.Go(func() error {
			err := s.provider.Send(fanCtx, eps[i].Token, a)
			switch {
			case err == nil:
				accepted.Add(1)
				s.metrics.Delivery("sent")
			case errors.Is(err, push.ErrInvalidEndpoint):
				s.metrics.Delivery("invalid")
				s.prune(ctx, eps[i].Token, pruned)
			default:
				s.metrics.Delivery("failed")
				s.log.Warn("send failed", zap.String("token", push.ShortToken(eps[i].Token)), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(accepted.Load())
}

// prune runs outside the fan-out deadline so the removal persists.
func (s *TriggerServiceImpl) prune(ctx context.Context, token string, pruned *atomic.Int32) {
	if err := s.endpoints.Delete(context.WithoutCancel(ctx), token); err != nil {
		s.log.Warn("prune failed", zap.String("token", push.ShortToken(token)), zap.Error(err))
		return
	}
	pruned.Add(1)
	s.log.Info("endpoint pruned", zap.String("token", push.ShortToken(token)))
}
