// Package fcm delivers alerts through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/and161185/alertme/internal/push"
)

const (
	androidPriority    = "high"
	androidClickAction = "OPEN_NOTIFICATION"
	apnsPriority       = "10"
	apnsSound          = "default"
)

// sender is the subset of *messaging.Client used here.
type sender interface {
	Send(ctx context.Context, m *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, m *messaging.Message) (string, error)
}

// Provider implements push.Provider on top of FCM.
type Provider struct {
	client sender
	// dead reports errors that always mean the token is gone.
	dead func(error) bool
	// badArgument reports INVALID_ARGUMENT. It condemns the token only on the dry run,
	// whose payload is fixed; on Send it may be the alert itself.
	badArgument func(error) bool
}

// New initializes a Firebase app from a service account file.
func New(ctx context.Context, credentialsFile string) (*Provider, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return newProvider(client), nil
}

func newProvider(c sender) *Provider {
	return &Provider{client: c, dead: isDeadToken, badArgument: messaging.IsInvalidArgument}
}

func isDeadToken(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err)
}

// Probe validates the token with a dry-run send of a tiny data message.
func (p *Provider) Probe(ctx context.Context, token string) error {
	_, err := p.client.SendDryRun(ctx, &messaging.Message{Token: token, Data: map[string]string{"probe": "1"}})
	return p.classify(err, true)
}

// Send delivers the alert as a high-priority notification.
func (p *Provider) Send(ctx context.Context, token string, a push.Alert) error {
	_, err := p.client.Send(ctx, buildMessage(token, a))
	return p.classify(err, false)
}

func (p *Provider) classify(err error, dryRun bool) error {
	if err == nil {
		return nil
	}
	if p.dead(err) || (dryRun && p.badArgument(err)) {
		return fmt.Errorf("%w: %v", push.ErrInvalidEndpoint, err)
	}
	return err
}

func buildMessage(token string, a push.Alert) *messaging.Message {
	badge := 1
	return &messaging.Message{
		Token: token,
		Data:  a.Data,
		Notification: &messaging.Notification{
			Title: a.Title,
			Body:  a.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ClickAction: androidClickAction,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: a.Title, Body: a.Body},
					Badge: &badge,
					Sound: apnsSound,
				},
			},
		},
	}
}
