package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var (
	_ repository.CombinationRepository = (*CombinationRepo)(nil)
	_ repository.UserRepository        = (*UserRepo)(nil)
	_ repository.EndpointRepository    = (*EndpointRepo)(nil)
)

var comboCols = []string{"id", "name", "target_id", "sequence", "message", "created_at"}

func sampleCombination() *model.Combination {
	return &model.Combination{
		ID:       "c1",
		OwnerID:  uuid.Must(uuid.NewV4()),
		Name:     "help",
		TargetID: uuid.Must(uuid.NewV4()),
		Sequence: model.Sequence{model.SymbolUp, model.SymbolUp, model.SymbolDown},
		Message:  "call me",
	}
}

func TestCombinationRepo_List(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombinationRepo(db)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	target := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, target_id, sequence, message, created_at FROM combinations WHERE owner_id=\$1 ORDER BY id`).
		WithArgs(owner).
		WillReturnRows(pgxmock.NewRows(comboCols).
			AddRow("a", "first", target, []string{"volumeUp", "volumeUp", "volumeDown"}, "", now).
			AddRow("b", "second", target, []string{"volumeDown", "volumeDown", "volumeUp"}, "hi", now))

	got, err := r.List(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, owner, got[0].OwnerID)
	require.Equal(t, "UUD", got[0].Sequence.String())
	require.Equal(t, "hi", got[1].Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCombinationRepo_List_EmptyIsNotNil(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	owner := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM combinations WHERE owner_id=\$1`).
		WithArgs(owner).
		WillReturnRows(pgxmock.NewRows(comboCols))

	got, err := NewCombinationRepo(db).List(context.Background(), owner)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestCombinationRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombinationRepo(db)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())
	target := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM combinations WHERE owner_id=\$1 AND id=\$2`).
		WithArgs(owner, "c1").
		WillReturnRows(pgxmock.NewRows(comboCols).
			AddRow("c1", "help", target, []string{"volumeUp", "volumeDown", "volumeUp"}, "", time.Now()))
	c, err := r.Get(ctx, owner, "c1")
	require.NoError(t, err)
	require.Equal(t, target, c.TargetID)

	mock.ExpectQuery(`FROM combinations WHERE owner_id=\$1 AND id=\$2`).
		WithArgs(owner, "gone").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, owner, "gone")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCombinationRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombinationRepo(db)
	ctx := context.Background()
	c := sampleCombination()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	insert := `INSERT INTO combinations \(owner_id, id, name, target_id, sequence, message\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) RETURNING created_at`
	args := []any{c.OwnerID, c.ID, c.Name, c.TargetID, []string{"volumeUp", "volumeUp", "volumeDown"}, c.Message}

	mock.ExpectQuery(insert).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	require.NoError(t, r.Create(ctx, c))
	require.Equal(t, created, c.CreatedAt)

	mock.ExpectQuery(insert).WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraintCombinationPK})
	require.ErrorIs(t, r.Create(ctx, c), errs.ErrAlreadyExists)

	mock.ExpectQuery(insert).WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraintOwnerSequence})
	require.ErrorIs(t, r.Create(ctx, c), errs.ErrInvalid)

	mock.ExpectQuery(insert).WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: codeForeignKeyViolation})
	require.ErrorIs(t, r.Create(ctx, c), errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCombinationRepo_Update(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombinationRepo(db)
	ctx := context.Background()
	c := sampleCombination()

	update := `UPDATE combinations SET name=\$3, target_id=\$4, sequence=\$5, message=\$6 WHERE owner_id=\$1 AND id=\$2 RETURNING created_at`

	mock.ExpectQuery(update).
		WithArgs(c.OwnerID, c.ID, c.Name, c.TargetID, c.Sequence.Strings(), c.Message).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	require.NoError(t, r.Update(ctx, c))

	mock.ExpectQuery(update).
		WithArgs(c.OwnerID, c.ID, c.Name, c.TargetID, c.Sequence.Strings(), c.Message).
		WillReturnError(pgx.ErrNoRows)
	require.ErrorIs(t, r.Update(ctx, c), errs.ErrNotFound)

	mock.ExpectQuery(update).
		WithArgs(c.OwnerID, c.ID, c.Name, c.TargetID, c.Sequence.Strings(), c.Message).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraintOwnerSequence})
	require.ErrorIs(t, r.Update(ctx, c), errs.ErrInvalid)
}

func TestCombinationRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewCombinationRepo(db)
	ctx := context.Background()
	owner := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM combinations WHERE owner_id=\$1 AND id=\$2`).
		WithArgs(owner, "c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, owner, "c1"))

	mock.ExpectExec(`DELETE FROM combinations WHERE owner_id=\$1 AND id=\$2`).
		WithArgs(owner, "c1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, owner, "c1"), errs.ErrNotFound)
}
