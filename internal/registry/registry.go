// Package registry mirrors the owner's combinations on the device.
//
// The in-memory set is published through an atomic pointer so the matcher can read it
// while a refresh is in flight. The durable cache lets capture work right after a
// process restart, before the first remote refresh completes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
)

// Remote is the authoritative combination store.
type Remote interface {
	Combinations(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error)
}

// Cache is the durable last-known-good copy, one entry per owner.
type Cache interface {
	Load(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error)
	Save(ctx context.Context, ownerID uuid.UUID, combos []model.Combination) error
	Delete(ctx context.Context, ownerID uuid.UUID) error
}

// Registry is the CombinationRegistry of one authenticated owner.
type Registry struct {
	owner  uuid.UUID
	remote Remote
	cache  Cache
	log    *zap.Logger

	snap atomic.Pointer[[]model.Combination]
	mu   sync.Mutex // serializes Refresh
}

// New returns an empty registry for owner. cache may be nil.
func New(owner uuid.UUID, remote Remote, cache Cache, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{owner: owner, remote: remote, cache: cache, log: log}
	empty := []model.Combination{}
	r.snap.Store(&empty)
	return r
}

// Owner returns the owner this registry is scoped to.
func (r *Registry) Owner() uuid.UUID { return r.owner }

// Snapshot returns the current read-only set. Callers must not mutate it.
func (r *Registry) Snapshot() []model.Combination { return *r.snap.Load() }

// Len returns the number of combinations in the current set.
func (r *Registry) Len() int { return len(r.Snapshot()) }

// Get looks a combination up by id in the current set.
func (r *Registry) Get(id string) (model.Combination, bool) {
	for _, c := range r.Snapshot() {
		if c.ID == id {
			return c, true
		}
	}
	return model.Combination{}, false
}

// LoadCached publishes the cached set, if any. A missing entry leaves the registry empty.
func (r *Registry) LoadCached(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	combos, err := r.cache.Load(ctx, r.owner)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	r.publish(combos)
	r.log.Info("registry loaded from cache", zap.Int("combinations", r.Len()))
	return nil
}

// Refresh replaces the registry with the remote set. On failure the current set is
// kept untouched. A cache write failure is logged; the in-memory set is still swapped.
func (r *Registry) Refresh(ctx context.Context) ([]model.Combination, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	combos, err := r.remote.Combinations(ctx, r.owner)
	if err != nil {
		r.log.Warn("registry refresh failed", zap.Error(err))
		return r.Snapshot(), fmt.Errorf("refresh: %w", err)
	}
	cur := r.publish(combos)

	if r.cache != nil {
		if err := r.cache.Save(ctx, r.owner, cur); err != nil {
			r.log.Warn("cache write failed", zap.Error(err))
		}
	}
	r.log.Info("registry refreshed", zap.Int("combinations", len(cur)))
	return cur, nil
}

// OnCombinationsChanged is the hook called by the combination editor after every
// mutation. Changes for other owners are ignored.
func (r *Registry) OnCombinationsChanged(ctx context.Context, ownerID uuid.UUID) error {
	if ownerID != r.owner {
		return nil
	}
	_, err := r.Refresh(ctx)
	return err
}

// Teardown empties the registry. With purge the owner's cache entry is deleted too.
func (r *Registry) Teardown(ctx context.Context, purge bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	empty := []model.Combination{}
	r.snap.Store(&empty)
	if purge && r.cache != nil {
		if err := r.cache.Delete(ctx, r.owner); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("purge cache: %w", err)
		}
	}
	return nil
}

// publish keeps only valid combinations of this owner, orders them by id and swaps them in.
func (r *Registry) publish(combos []model.Combination) []model.Combination {
	out := make([]model.Combination, 0, len(combos))
	for _, c := range combos {
		if c.OwnerID != uuid.Nil && c.OwnerID != r.owner {
			r.log.Warn("foreign combination dropped", zap.String("combination_id", c.ID))
			continue
		}
		if err := c.Sequence.Validate(); err != nil {
			r.log.Warn("invalid combination dropped", zap.String("combination_id", c.ID), zap.Error(err))
			continue
		}
		c.OwnerID = r.owner
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	r.snap.Store(&out)
	return out
}
