// Package push defines the delivery provider used by the trigger path.
package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/alertme/internal/model"
	"go.uber.org/zap"
)

// ErrInvalidEndpoint is returned by a Provider when the token is unregistered or malformed.
// Endpoints failing with it are pruned.
var ErrInvalidEndpoint = errors.New("invalid delivery endpoint")

// Alert is a provider-neutral notification.
type Alert struct {
	Title string
	Body  string
	Data  map[string]string
}

// Provider delivers alerts to opaque device tokens.
type Provider interface {
	// Probe performs a lightweight validation send without notifying the device.
	Probe(ctx context.Context, token string) error
	// Send delivers the alert. Errors wrapping ErrInvalidEndpoint mean the token is dead.
	Send(ctx context.Context, token string, a Alert) error
}

// Data payload keys and values understood by the mobile client.
const (
	DataType          = "type"
	DataCombinationID = "combinationId"
	DataCallerID      = "callerId"
	DataCallerName    = "callerName"
	DataScreen        = "screen"

	TypeCombination = "combination"
	ScreenAlerts    = "Alerts"
)

// CombinationAlert builds the alert sent to the target when caller fires c.
func CombinationAlert(caller *model.User, c *model.Combination) Alert {
	body := c.Message
	if body == "" {
		body = fmt.Sprintf("%s needs your help!", caller.Username)
	}
	return Alert{
		Title: caller.Username,
		Body:  body,
		Data: map[string]string{
			DataType:          TypeCombination,
			DataCombinationID: c.ID,
			DataCallerID:      caller.ID.String(),
			DataCallerName:    caller.Username,
			DataScreen:        ScreenAlerts,
		},
	}
}

// ShortToken abbreviates a token for logs.
func ShortToken(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}

// LogProvider accepts every token and only logs. Used when no push credentials are configured.
type LogProvider struct{ log *zap.Logger }

// NewLogProvider returns a provider that logs alerts instead of sending them.
func NewLogProvider(log *zap.Logger) *LogProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogProvider{log: log}
}

// Probe always succeeds.
func (p *LogProvider) Probe(context.Context, string) error { return nil }

// Send logs the alert metadata.
func (p *LogProvider) Send(_ context.Context, token string, a Alert) error {
	p.log.Info("alert (log provider)",
		zap.String("token", ShortToken(token)),
		zap.String("title", a.Title),
		zap.String("combination", a.Data[DataCombinationID]),
	)
	return nil
}
