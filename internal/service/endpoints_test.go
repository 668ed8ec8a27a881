package service

import (
	"context"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/alertme/internal/errs"
)

func TestEndpointService_RegisterAndList(t *testing.T) {
	u := newUser("alice")
	other := newUser("bob")
	eps := newFakeEndpoints(other.ID, "shared")
	svc := NewEndpointService(eps, newFakeUsers(u, other))
	ctx := context.Background()

	e, err := svc.Register(ctx, u.ID, "  tok-1 ")
	require.NoError(t, err)
	require.Equal(t, "tok-1", e.Token)

	// Re-registering a device under another user moves it.
	_, err = svc.Register(ctx, u.ID, "shared")
	require.NoError(t, err)

	list, err := svc.List(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = svc.List(ctx, other.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestEndpointService_Errors(t *testing.T) {
	u := newUser("alice")
	svc := NewEndpointService(newFakeEndpoints(u.ID), newFakeUsers(u))
	ctx := context.Background()

	_, err := svc.Register(ctx, u.ID, "   ")
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = svc.Register(ctx, u.ID, strings.Repeat("x", MaxTokenLen+1))
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = svc.Register(ctx, uuid.Must(uuid.NewV4()), "tok")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.List(ctx, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrNotFound)
}
