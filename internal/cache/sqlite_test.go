package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/registry"
)

var _ registry.Cache = (*SQLite)(nil)

func openTemp(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLite_SaveLoadRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	target := uuid.Must(uuid.NewV4())
	created := time.UnixMilli(1714564800123).UTC()

	in := []model.Combination{{
		ID:        "c1",
		OwnerID:   owner,
		Name:      "help",
		TargetID:  target,
		Sequence:  model.Sequence{model.SymbolUp, model.SymbolUp, model.SymbolDown},
		Message:   "call me",
		CreatedAt: created,
	}}
	require.NoError(t, s.Save(ctx, owner, in))

	out, err := s.Load(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSQLite_SaveReplacesAll(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	seq := model.Sequence{model.SymbolDown, model.SymbolDown, model.SymbolUp}

	require.NoError(t, s.Save(ctx, owner, []model.Combination{{ID: "a", Sequence: seq}, {ID: "b", Sequence: seq}}))
	require.NoError(t, s.Save(ctx, owner, []model.Combination{{ID: "c", Sequence: seq}}))

	out, err := s.Load(ctx, owner)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "c", out[0].ID)
}

func TestSQLite_OwnersAreIsolated(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	alice := uuid.Must(uuid.NewV4())
	bob := uuid.Must(uuid.NewV4())
	seq := model.Sequence{model.SymbolUp, model.SymbolDown, model.SymbolUp}

	require.NoError(t, s.Save(ctx, alice, []model.Combination{{ID: "a", Sequence: seq}}))
	_, err := s.Load(ctx, bob)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.Delete(ctx, alice))
	require.NoError(t, s.Delete(ctx, alice))
	_, err = s.Load(ctx, alice)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, owner, []model.Combination{{
		ID: "a", Sequence: model.Sequence{model.SymbolUp, model.SymbolUp, model.SymbolUp},
	}}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	out, err := s.Load(ctx, owner)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
