package repository

import (
	"context"

	"github.com/and161185/alertme/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EndpointRepository stores push delivery endpoints.
type EndpointRepository interface {
	// ListByUser returns the user's endpoints, oldest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Endpoint, error)

	// Upsert registers a token for a user; a token registered under another user moves.
	Upsert(ctx context.Context, e *model.Endpoint) error

	// Delete removes a token. Deleting a missing token is not an error.
	Delete(ctx context.Context, token string) error
}
