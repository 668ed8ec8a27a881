package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/repository"
)

// MaxTokenLen bounds delivery tokens accepted from devices.
const MaxTokenLen = 4096

// EndpointService registers and lists push delivery endpoints.
type EndpointService interface {
	Register(ctx context.Context, userID uuid.UUID, token string) (*model.Endpoint, error)
	List(ctx context.Context, userID uuid.UUID) ([]model.Endpoint, error)
}

type EndpointServiceImpl struct {
	endpoints repository.EndpointRepository
	users     repository.UserRepository
}

// NewEndpointService constructs EndpointService.
func NewEndpointService(endpoints repository.EndpointRepository, users repository.UserRepository) *EndpointServiceImpl {
	return &EndpointServiceImpl{endpoints: endpoints, users: users}
}

// Register stores token for userID, taking it over from any previous owner.
func (s *EndpointServiceImpl) Register(ctx context.Context, userID uuid.UUID, token string) (*model.Endpoint, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > MaxTokenLen {
		return nil, fmt.Errorf("%w: bad token", errs.ErrInvalid)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	e := &model.Endpoint{Token: token, UserID: userID}
	if err := s.endpoints.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns the user's endpoints.
func (s *EndpointServiceImpl) List(ctx context.Context, userID uuid.UUID) ([]model.Endpoint, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	return s.endpoints.ListByUser(ctx, userID)
}
