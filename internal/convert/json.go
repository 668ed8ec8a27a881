// Package convert holds the JSON wire types of the HTTP surface and their
// conversions to and from domain models. Shared by the server and the agent client.
package convert

import (
	"fmt"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"

	"github.com/and161185/alertme/internal/errs"
	model "github.com/and161185/alertme/internal/model"
)

// --- helpers ---

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// ParseID parses a uuid field, reporting errs.ErrInvalid with the field name.
func ParseID(field, s string) (u.UUID, error) {
	id, err := u.FromString(strings.TrimSpace(s))
	if err != nil || id == u.Nil {
		return u.Nil, fmt.Errorf("%w: %s must be a uuid", errs.ErrInvalid, field)
	}
	return id, nil
}

// --- Combination ---

// Combination is the wire form of a combination. CreatedAt is Unix milliseconds.
type Combination struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Target    string   `json:"target"`
	Sequence  []string `json:"sequence"`
	Message   string   `json:"message"`
	CreatedAt int64    `json:"createdAt"`
}

// ToCombination converts a domain combination to its wire form.
func ToCombination(c model.Combination) Combination {
	return Combination{
		ID:        c.ID,
		Name:      c.Name,
		Target:    c.TargetID.String(),
		Sequence:  c.Sequence.Strings(),
		Message:   c.Message,
		CreatedAt: ms(c.CreatedAt),
	}
}

// ToCombinations converts a slice of domain combinations.
func ToCombinations(cs []model.Combination) []Combination {
	out := make([]Combination, 0, len(cs))
	for _, c := range cs {
		out = append(out, ToCombination(c))
	}
	return out
}

// FromCombination converts a wire combination received for owner.
func FromCombination(owner u.UUID, in Combination) (model.Combination, error) {
	target, err := ParseID("target", in.Target)
	if err != nil {
		return model.Combination{}, err
	}
	seq, err := model.ParseSequence(in.Sequence)
	if err != nil {
		return model.Combination{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	return model.Combination{
		ID:        in.ID,
		OwnerID:   owner,
		Name:      in.Name,
		TargetID:  target,
		Sequence:  seq,
		Message:   in.Message,
		CreatedAt: fromMS(in.CreatedAt),
	}, nil
}

// FromCombinations converts a slice of wire combinations for owner.
func FromCombinations(owner u.UUID, in []Combination) ([]model.Combination, error) {
	out := make([]model.Combination, 0, len(in))
	for i, c := range in {
		m, err := FromCombination(owner, c)
		if err != nil {
			return nil, fmt.Errorf("combination[%d]: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// --- Requests / responses ---

// TriggerRequest is the body of trigger-combination.
type TriggerRequest struct {
	CallerID      string `json:"callerId"`
	CombinationID string `json:"combinationId"`
}

// TriggerResponse is the success body of trigger-combination.
type TriggerResponse struct {
	Delivered      bool `json:"delivered"`
	RecipientCount int  `json:"recipientCount"`
}

// OwnerRequest is the body of get-combinations.
type OwnerRequest struct {
	OwnerID string `json:"ownerId"`
}

// CombinationsResponse is the success body of get-combinations.
type CombinationsResponse struct {
	Combinations []Combination `json:"combinations"`
}

// WriteCombinationRequest is the body of add-combination and update-combination.
// CombinationID is accepted as an alias of ID.
type WriteCombinationRequest struct {
	OwnerID       string   `json:"ownerId"`
	ID            string   `json:"id"`
	CombinationID string   `json:"combinationId,omitempty"`
	Name          string   `json:"name"`
	Target        string   `json:"target"`
	Sequence      []string `json:"sequence"`
	Message       string   `json:"message"`
}

// Combination returns the wire combination carried by the request.
func (r WriteCombinationRequest) Combination() Combination {
	id := r.ID
	if id == "" {
		id = r.CombinationID
	}
	return Combination{ID: id, Name: r.Name, Target: r.Target, Sequence: r.Sequence, Message: r.Message}
}

// CombinationResponse wraps a single combination.
type CombinationResponse struct {
	Combination Combination `json:"combination"`
}

// DeleteCombinationRequest is the body of delete-combination.
type DeleteCombinationRequest struct {
	OwnerID       string `json:"ownerId"`
	CombinationID string `json:"combinationId"`
}

// --- Endpoints ---

// Endpoint is the wire form of a delivery endpoint. The token is abbreviated.
type Endpoint struct {
	Token     string `json:"token"`
	CreatedAt int64  `json:"createdAt"`
}

// ToEndpoint converts a domain endpoint, abbreviating the token.
func ToEndpoint(e model.Endpoint) Endpoint {
	return Endpoint{Token: ShortToken(e.Token), CreatedAt: ms(e.CreatedAt)}
}

// ToEndpoints converts a slice of domain endpoints.
func ToEndpoints(es []model.Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(es))
	for _, e := range es {
		out = append(out, ToEndpoint(e))
	}
	return out
}

// ShortToken keeps the first 8 characters of a push token.
func ShortToken(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:8] + "…"
}

// RegisterEndpointRequest is the body of register-endpoint.
type RegisterEndpointRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// UserRequest is the body of list-endpoints.
type UserRequest struct {
	UserID string `json:"userId"`
}

// EndpointResponse wraps a single endpoint.
type EndpointResponse struct {
	Endpoint Endpoint `json:"endpoint"`
}

// EndpointsResponse is the success body of list-endpoints.
type EndpointsResponse struct {
	Endpoints []Endpoint `json:"endpoints"`
}

// MessageResponse is the body of every non-2xx answer and of delete-combination.
type MessageResponse struct {
	Message string `json:"message"`
}
