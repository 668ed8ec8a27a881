// Package service contains application services for combinations, triggers and delivery endpoints.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
	"github.com/and161185/alertme/internal/repository"
)

// Field bounds, in bytes. Name and message end up in the push payload, which the
// provider caps at 4 KiB.
const (
	MaxCombinationIDLen = 128
	MaxNameLen          = 100
	MaxMessageLen       = 1024
)

// CombinationService defines the combination editor operations.
type CombinationService interface {
	// List returns the owner's combinations.
	List(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error)
	// Add validates and stores a new combination.
	Add(ctx context.Context, c model.Combination) (*model.Combination, error)
	// Update validates and replaces an existing combination.
	Update(ctx context.Context, c model.Combination) (*model.Combination, error)
	// Delete removes a combination.
	Delete(ctx context.Context, ownerID uuid.UUID, id string) error
}

type CombinationServiceImpl struct {
	combos repository.CombinationRepository
	users  repository.UserRepository
}

// NewCombinationService constructs CombinationService.
func NewCombinationService(combos repository.CombinationRepository, users repository.UserRepository) *CombinationServiceImpl {
	return &CombinationServiceImpl{combos: combos, users: users}
}

// List checks that the owner exists and returns its combinations.
func (s *CombinationServiceImpl) List(ctx context.Context, ownerID uuid.UUID) ([]model.Combination, error) {
	if err := s.requireUser(ctx, "owner", ownerID); err != nil {
		return nil, err
	}
	return s.combos.List(ctx, ownerID)
}

// Add validates c, re-checks the social graph and inserts it.
// Validation rules:
// - id, name and target present
// - target is not the owner
// - sequence has at least MinSequenceLen known symbols
func (s *CombinationServiceImpl) Add(ctx context.Context, c model.Combination) (*model.Combination, error) {
	if err := s.prepare(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.combos.Create(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Update applies the same checks as Add to an existing combination.
func (s *CombinationServiceImpl) Update(ctx context.Context, c model.Combination) (*model.Combination, error) {
	if err := s.prepare(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.combos.Update(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete removes the owner's combination.
func (s *CombinationServiceImpl) Delete(ctx context.Context, ownerID uuid.UUID, id string) error {
	if ownerID == uuid.Nil || strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty owner/id", errs.ErrInvalid)
	}
	return s.combos.Delete(ctx, ownerID, id)
}

func (s *CombinationServiceImpl) prepare(ctx context.Context, c *model.Combination) error {
	if err := validateCombination(c); err != nil {
		return err
	}
	if err := s.requireUser(ctx, "owner", c.OwnerID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, "target", c.TargetID); err != nil {
		return err
	}
	ok, err := s.users.AreMutualFriends(ctx, c.OwnerID, c.TargetID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: target is not a friend", errs.ErrForbidden)
	}
	return nil
}

func (s *CombinationServiceImpl) requireUser(ctx context.Context, role string, id uuid.UUID) error {
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Errorf("%s: %w", role, errs.ErrNotFound)
		}
		return err
	}
	return nil
}

func validateCombination(c *model.Combination) error {
	c.ID = strings.TrimSpace(c.ID)
	c.Name = strings.TrimSpace(c.Name)
	switch {
	case c.OwnerID == uuid.Nil:
		return fmt.Errorf("%w: empty owner", errs.ErrInvalid)
	case c.ID == "":
		return fmt.Errorf("%w: empty id", errs.ErrInvalid)
	case len(c.ID) > MaxCombinationIDLen:
		return fmt.Errorf("%w: id too long", errs.ErrInvalid)
	case c.Name == "":
		return fmt.Errorf("%w: empty name", errs.ErrInvalid)
	case len(c.Name) > MaxNameLen:
		return fmt.Errorf("%w: name longer than %d bytes", errs.ErrInvalid, MaxNameLen)
	case len(c.Message) > MaxMessageLen:
		return fmt.Errorf("%w: message longer than %d bytes", errs.ErrInvalid, MaxMessageLen)
	case c.TargetID == uuid.Nil:
		return fmt.Errorf("%w: empty target", errs.ErrInvalid)
	case c.TargetID == c.OwnerID:
		return fmt.Errorf("%w: target is the owner", errs.ErrInvalid)
	}
	if err := c.Sequence.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	return nil
}
