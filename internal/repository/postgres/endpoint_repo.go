package postgres

import (
	"context"
	"fmt"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EndpointRepo implements EndpointRepository using PostgreSQL.
type EndpointRepo struct{ db *DB }

// NewEndpointRepo constructs an endpoint repository.
func NewEndpointRepo(db *DB) *EndpointRepo { return &EndpointRepo{db: db} }

// ListByUser returns the user's endpoints, oldest first.
func (r *EndpointRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Endpoint, error) {
	const q = `
SELECT token, user_id, created_at
FROM delivery_endpoints
WHERE user_id=$1
ORDER BY created_at, token`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Endpoint{}
	for rows.Next() {
		var e model.Endpoint
		if err := rows.Scan(&e.Token, &e.UserID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert registers the token under e.UserID, moving it if another user held it.
func (r *EndpointRepo) Upsert(ctx context.Context, e *model.Endpoint) error {
	const q = `
INSERT INTO delivery_endpoints (token, user_id)
VALUES ($1, $2)
ON CONFLICT (token) DO UPDATE SET user_id=EXCLUDED.user_id, created_at=now()
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, e.Token, e.UserID).Scan(&e.CreatedAt)
	if code, _ := pgError(err); code == codeForeignKeyViolation {
		return fmt.Errorf("user: %w", errs.ErrNotFound)
	}
	return err
}

// Delete removes a token. Missing tokens are ignored.
func (r *EndpointRepo) Delete(ctx context.Context, token string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM delivery_endpoints WHERE token=$1`, token)
	return err
}
