package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/push"
	"github.com/and161185/alertme/internal/repository"
)

type fakeUsers struct {
	byID    map[uuid.UUID]*model.User
	friends map[[2]uuid.UUID]bool // directed edges
	getErr  error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers(users ...*model.User) *fakeUsers {
	f := &fakeUsers{byID: map[uuid.UUID]*model.User{}, friends: map[[2]uuid.UUID]bool{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) befriend(a, b uuid.UUID) {
	f.friends[[2]uuid.UUID{a, b}] = true
	f.friends[[2]uuid.UUID{b, a}] = true
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) AreMutualFriends(_ context.Context, a, b uuid.UUID) (bool, error) {
	return f.friends[[2]uuid.UUID{a, b}] && f.friends[[2]uuid.UUID{b, a}], nil
}

type comboKey struct {
	owner uuid.UUID
	id    string
}

type fakeCombos struct {
	items     map[comboKey]model.Combination
	createErr error
}

var _ repository.CombinationRepository = (*fakeCombos)(nil)

func newFakeCombos(cs ...model.Combination) *fakeCombos {
	f := &fakeCombos{items: map[comboKey]model.Combination{}}
	for _, c := range cs {
		f.items[comboKey{c.OwnerID, c.ID}] = c
	}
	return f
}

func (f *fakeCombos) List(_ context.Context, owner uuid.UUID) ([]model.Combination, error) {
	out := []model.Combination{}
	for k, c := range f.items {
		if k.owner == owner {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCombos) Get(_ context.Context, owner uuid.UUID, id string) (*model.Combination, error) {
	c, ok := f.items[comboKey{owner, id}]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCombos) Create(_ context.Context, c *model.Combination) error {
	if f.createErr != nil {
		return f.createErr
	}
	k := comboKey{c.OwnerID, c.ID}
	if _, ok := f.items[k]; ok {
		return errs.ErrAlreadyExists
	}
	c.CreatedAt = time.Unix(1700000000, 0)
	f.items[k] = *c
	return nil
}

func (f *fakeCombos) Update(_ context.Context, c *model.Combination) error {
	k := comboKey{c.OwnerID, c.ID}
	old, ok := f.items[k]
	if !ok {
		return errs.ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	f.items[k] = *c
	return nil
}

func (f *fakeCombos) Delete(_ context.Context, owner uuid.UUID, id string) error {
	k := comboKey{owner, id}
	if _, ok := f.items[k]; !ok {
		return errs.ErrNotFound
	}
	delete(f.items, k)
	return nil
}

type fakeEndpoints struct {
	mu      sync.Mutex
	byToken map[string]model.Endpoint
	deleted []string
}

var _ repository.EndpointRepository = (*fakeEndpoints)(nil)

func newFakeEndpoints(user uuid.UUID, tokens ...string) *fakeEndpoints {
	f := &fakeEndpoints{byToken: map[string]model.Endpoint{}}
	for i, t := range tokens {
		f.byToken[t] = model.Endpoint{Token: t, UserID: user, CreatedAt: time.Unix(int64(i), 0)}
	}
	return f
}

func (f *fakeEndpoints) ListByUser(_ context.Context, user uuid.UUID) ([]model.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Endpoint{}
	for _, e := range f.byToken {
		if e.UserID == user {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (f *fakeEndpoints) Upsert(_ context.Context, e *model.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.CreatedAt = time.Unix(1700000000, 0)
	f.byToken[e.Token] = *e
	return nil
}

func (f *fakeEndpoints) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byToken, token)
	f.deleted = append(f.deleted, token)
	return nil
}

type fakeProvider struct {
	mu       sync.Mutex
	probeErr map[string]error
	sendErr  map[string]error
	sent     map[string]push.Alert
	probed   []string
	block    chan struct{} // when set, Send waits on it or ctx
}

var _ push.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{probeErr: map[string]error{}, sendErr: map[string]error{}, sent: map[string]push.Alert{}}
}

func (p *fakeProvider) Probe(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, token)
	return p.probeErr[token]
}

func (p *fakeProvider) Send(ctx context.Context, token string, a push.Alert) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendErr[token]; err != nil {
		return err
	}
	p.sent[token] = a
	return nil
}

func seq(s string) model.Sequence {
	out := make(model.Sequence, 0, len(s))
	for _, r := range s {
		if r == 'U' {
			out = append(out, model.SymbolUp)
		} else {
			out = append(out, model.SymbolDown)
		}
	}
	return out
}

func newUser(name string) *model.User {
	return &model.User{ID: uuid.Must(uuid.NewV4()), Username: name}
}
