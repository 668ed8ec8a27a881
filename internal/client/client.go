// Package client is the agent's HTTP JSON client for the alertme server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/alertme/internal/convert"
	"github.com/and161185/alertme/internal/errs"
	"github.com/and161185/alertme/internal/model"
)

// Route paths of the server surface.
const (
	PathTrigger          = "/trigger-combination"
	PathGetCombinations  = "/get-combinations"
	PathAddCombination   = "/add-combination"
	PathUpdateCombo      = "/update-combination"
	PathDeleteCombo      = "/delete-combination"
	PathRegisterEndpoint = "/register-endpoint"
	PathListEndpoints    = "/list-endpoints"
)

// Client talks to the server on behalf of one signed-in user.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for baseURL authenticated with a bearer token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}
}

// Combinations fetches the owner's combinations. It satisfies registry.Remote.
func (c *Client) Combinations(ctx context.Context, owner u.UUID) ([]model.Combination, error) {
	var out convert.CombinationsResponse
	if err := c.post(ctx, PathGetCombinations, convert.OwnerRequest{OwnerID: owner.String()}, &out); err != nil {
		return nil, err
	}
	return convert.FromCombinations(owner, out.Combinations)
}

// Trigger reports a match to the server.
func (c *Client) Trigger(ctx context.Context, caller u.UUID, combinationID string) (model.TriggerResult, error) {
	var out convert.TriggerResponse
	req := convert.TriggerRequest{CallerID: caller.String(), CombinationID: combinationID}
	if err := c.post(ctx, PathTrigger, req, &out); err != nil {
		return model.TriggerResult{}, err
	}
	return model.TriggerResult{Delivered: out.Delivered, RecipientCount: out.RecipientCount}, nil
}

// RegisterEndpoint registers this device's push token for user.
func (c *Client) RegisterEndpoint(ctx context.Context, user u.UUID, token string) (convert.Endpoint, error) {
	var out convert.EndpointResponse
	req := convert.RegisterEndpointRequest{UserID: user.String(), Token: token}
	if err := c.post(ctx, PathRegisterEndpoint, req, &out); err != nil {
		return convert.Endpoint{}, err
	}
	return out.Endpoint, nil
}

// AddCombination creates a combination owned by owner.
func (c *Client) AddCombination(ctx context.Context, owner u.UUID, combo model.Combination) (model.Combination, error) {
	return c.writeCombination(ctx, PathAddCombination, owner, combo)
}

// UpdateCombination replaces an existing combination of owner.
func (c *Client) UpdateCombination(ctx context.Context, owner u.UUID, combo model.Combination) (model.Combination, error) {
	return c.writeCombination(ctx, PathUpdateCombo, owner, combo)
}

func (c *Client) writeCombination(ctx context.Context, path string, owner u.UUID, combo model.Combination) (model.Combination, error) {
	w := convert.ToCombination(combo)
	req := convert.WriteCombinationRequest{
		OwnerID:  owner.String(),
		ID:       w.ID,
		Name:     w.Name,
		Target:   w.Target,
		Sequence: w.Sequence,
		Message:  w.Message,
	}
	var out convert.CombinationResponse
	if err := c.post(ctx, path, req, &out); err != nil {
		return model.Combination{}, err
	}
	return convert.FromCombination(owner, out.Combination)
}

// DeleteCombination removes a combination of owner.
func (c *Client) DeleteCombination(ctx context.Context, owner u.UUID, id string) error {
	return c.post(ctx, PathDeleteCombo, convert.DeleteCombinationRequest{OwnerID: owner.String(), CombinationID: id}, nil)
}

// ListEndpoints returns the user's registered delivery endpoints (tokens abbreviated).
func (c *Client) ListEndpoints(ctx context.Context, user u.UUID) ([]convert.Endpoint, error) {
	var out convert.EndpointsResponse
	if err := c.post(ctx, PathListEndpoints, convert.UserRequest{UserID: user.String()}, &out); err != nil {
		return nil, err
	}
	return out.Endpoints, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return statusError(path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

// statusError maps an HTTP failure back to the shared sentinels.
func statusError(path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := resp.Status
	var er convert.MessageResponse
	if json.Unmarshal(data, &er) == nil && er.Message != "" {
		msg = er.Message
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = errs.ErrInvalid
	case http.StatusUnauthorized:
		sentinel = errs.ErrUnauthorized
	case http.StatusForbidden:
		sentinel = errs.ErrForbidden
	case http.StatusNotFound:
		sentinel = errs.ErrNotFound
	case http.StatusConflict:
		sentinel = errs.ErrAlreadyExists
	default:
		return fmt.Errorf("%s: server error %d: %s", path, resp.StatusCode, msg)
	}
	return fmt.Errorf("%s: %w: %s", path, sentinel, msg)
}
