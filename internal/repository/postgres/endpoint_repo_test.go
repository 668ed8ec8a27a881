package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestEndpointRepo_ListByUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())
	now := time.Now()

	mock.ExpectQuery(`SELECT token, user_id, created_at FROM delivery_endpoints WHERE user_id=\$1 ORDER BY created_at, token`).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"token", "user_id", "created_at"}).
			AddRow("tok-a", user, now).
			AddRow("tok-b", user, now))

	got, err := NewEndpointRepo(db).ListByUser(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "tok-b", got[1].Token)
}

func TestEndpointRepo_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEndpointRepo(db)
	ctx := context.Background()
	e := &model.Endpoint{Token: "tok", UserID: uuid.Must(uuid.NewV4())}
	q := `INSERT INTO delivery_endpoints \(token, user_id\) VALUES \(\$1, \$2\) ON CONFLICT \(token\) DO UPDATE SET user_id=EXCLUDED.user_id, created_at=now\(\) RETURNING created_at`

	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q).WithArgs(e.Token, e.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	require.NoError(t, r.Upsert(ctx, e))
	require.Equal(t, created, e.CreatedAt)

	mock.ExpectQuery(q).WithArgs(e.Token, e.UserID).
		WillReturnError(&pgconn.PgError{Code: codeForeignKeyViolation})
	require.ErrorIs(t, r.Upsert(ctx, e), errs.ErrNotFound)
}

func TestEndpointRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM delivery_endpoints WHERE token=\$1`).
		WithArgs("tok").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.NoError(t, NewEndpointRepo(db).Delete(context.Background(), "tok"))
	require.NoError(t, mock.ExpectationsWereMet())
}
