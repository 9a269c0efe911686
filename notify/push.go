package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// PushSender is the subset of the Firebase messaging client used by Push.
type PushSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Push delivers codes as Firebase Cloud Messaging notifications.
type Push struct {
	sender PushSender
}

func NewPush(sender PushSender) *Push {
	return &Push{sender: sender}
}

// NewFirebasePush builds a Push channel from a service account credentials file.
func NewFirebasePush(ctx context.Context, credentialsFile string) (*Push, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}
	return NewPush(client), nil
}

func (p *Push) Name() string { return "push" }

func (p *Push) Send(ctx context.Context, to Recipient, msg Message) error {
	if to.PushToken == "" {
		return ErrNoDestination
	}

	_, err := p.sender.Send(ctx, &messaging.Message{
		Token: to.PushToken,
		Notification: &messaging.Notification{
			Title: msg.Subject,
			Body:  msg.Text(),
		},
		Data: map[string]string{"kind": string(msg.Kind())},
	})
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("push token unregistered: %w", err)
		}
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
