// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository is the read-only view of accounts and the friendship graph.
// Both are owned by the account service; this module never mutates them.
type UserRepository interface {
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// AreMutualFriends reports whether a lists b and b lists a.
	AreMutualFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
}
