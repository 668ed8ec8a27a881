// Package model defines domain entities used by the capture pipeline, services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// MinSequenceLen is the shortest sequence a combination may carry.
const MinSequenceLen = 3

// ButtonEvent is a single discrete press produced by an EventSource. Never persisted.
type ButtonEvent struct {
	Symbol    Symbol
	Timestamp time.Time
}

// Combination is a secret button sequence registered by an owner against a friend.
type Combination struct {
	ID        string    // opaque, client-generated
	OwnerID   uuid.UUID // FK -> users.id
	Name      string
	TargetID  uuid.UUID // must be a mutual friend of OwnerID
	Sequence  Sequence  // len >= MinSequenceLen
	Message   string    // optional alert body
	CreatedAt time.Time
}

// User is the read-only view of an account needed by the trigger path.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// Endpoint is an opaque per-device push-delivery token associated with a user.
type Endpoint struct {
	Token     string
	UserID    uuid.UUID
	CreatedAt time.Time
}

// TriggerResult reports how many endpoints accepted an alert.
type TriggerResult struct {
	Delivered      bool
	RecipientCount int
	Pruned         int // endpoints removed during this trigger (diagnostics)
}
