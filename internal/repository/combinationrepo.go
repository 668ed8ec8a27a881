package repository

import (
	"context"

	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
)

// CombinationRepository stores combinations scoped by owner.
type CombinationRepository interface {
	// List returns the owner's combinations ordered by id.
	List(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error)

	// Get returns a single combination of the owner.
	Get(ctx context.Context, ownerID uuid.UUID, id string) (*model.Combination, error)

	// Create inserts a combination. A taken id yields ErrAlreadyExists,
	// a sequence the owner already uses yields ErrInvalid.
	Create(ctx context.Context, c *model.Combination) error

	// Update replaces name, target, sequence and message of an existing combination.
	Update(ctx context.Context, c *model.Combination) error

	// Delete removes a combination of the owner.
	Delete(ctx context.Context, ownerID uuid.UUID, id string) error
}
