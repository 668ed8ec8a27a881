package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

const (
	constraintCombinationPK  = "combinations_pkey"
	constraintOwnerSequence  = "combinations_owner_sequence_key"
	combinationColumns       = `id, name, target_id, sequence, message, created_at`
	combinationSelectByOwner = `SELECT ` + combinationColumns + ` FROM combinations WHERE owner_id=$1`
)

// CombinationRepo implements CombinationRepository using PostgreSQL.
type CombinationRepo struct{ db *DB }

// NewCombinationRepo constructs a combination repository.
func NewCombinationRepo(db *DB) *CombinationRepo { return &CombinationRepo{db: db} }

func scanCombination(row pgx.Row, owner uuid.UUID) (*model.Combination, error) {
	var (
		c   model.Combination
		seq []string
		ts  time.Time
	)
	if err := row.Scan(&c.ID, &c.Name, &c.TargetID, &seq, &c.Message, &ts); err != nil {
		return nil, err
	}
	s, err := model.ParseSequence(seq)
	if err != nil {
		return nil, fmt.Errorf("combination %s: %w", c.ID, err)
	}
	c.OwnerID = owner
	c.Sequence = s
	c.CreatedAt = ts
	return &c, nil
}

// List returns all combinations of the owner ordered by id.
func (r *CombinationRepo) List(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error) {
	rows, err := r.db.Pool.Query(ctx, combinationSelectByOwner+` ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Combination{}
	for rows.Next() {
		c, err := scanCombination(rows, ownerID)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Get returns a single combination of the owner.
func (r *CombinationRepo) Get(ctx context.Context, ownerID uuid.UUID, id string) (*model.Combination, error) {
	row := r.db.Pool.QueryRow(ctx, combinationSelectByOwner+` AND id=$2`, ownerID, id)
	c, err := scanCombination(row, ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return c, err
}

// Create inserts a new combination and fills CreatedAt.
func (r *CombinationRepo) Create(ctx context.Context, c *model.Combination) error {
	const q = `
INSERT INTO combinations (owner_id, id, name, target_id, sequence, message)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, c.OwnerID, c.ID, c.Name, c.TargetID, c.Sequence.Strings(), c.Message).
		Scan(&c.CreatedAt)
	return mapWriteError(err)
}

// Update replaces the mutable fields of an existing combination.
func (r *CombinationRepo) Update(ctx context.Context, c *model.Combination) error {
	const q = `
UPDATE combinations
SET name=$3, target_id=$4, sequence=$5, message=$6
WHERE owner_id=$1 AND id=$2
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, c.OwnerID, c.ID, c.Name, c.TargetID, c.Sequence.Strings(), c.Message).
		Scan(&c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	return mapWriteError(err)
}

// Delete removes a combination of the owner.
func (r *CombinationRepo) Delete(ctx context.Context, ownerID uuid.UUID, id string) error {
	const q = `DELETE FROM combinations WHERE owner_id=$1 AND id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, ownerID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	code, constraint := pgError(err)
	switch {
	case code == codeUniqueViolation && constraint == constraintOwnerSequence:
		return fmt.Errorf("%w: sequence already used by another combination", errs.ErrInvalid)
	case code == codeUniqueViolation:
		return errs.ErrAlreadyExists
	case code == codeCheckViolation:
		return fmt.Errorf("%w: sequence too short", errs.ErrInvalid)
	case code == codeForeignKeyViolation:
		return fmt.Errorf("owner: %w", errs.ErrNotFound)
	}
	return err
}
