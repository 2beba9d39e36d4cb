package notifications

import (
	"context"
	"encoding/json"

	pubsub "cloud.google.com/go/pubsub/v2"

	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
)

type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// PubSubDispatcher publishes events to the notification topic where the
// delivery workers (email/SMS) consume them.
type PubSubDispatcher struct {
	publisher publisher
}

// NewPubSubDispatcher wires the dispatcher to a topic publisher.
func NewPubSubDispatcher(pub publisher) (*PubSubDispatcher, error) {
	if pub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification publisher required")
	}
	return &PubSubDispatcher{publisher: pub}, nil
}

func (d *PubSubDispatcher) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode notification event")
	}
	result := d.publisher.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type":   event.Type.String(),
			"order_number": event.OrderNumber,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish notification event")
	}
	return nil
}

// NoopDispatcher drops every event. Used when notifications are disabled and
// in tests.
type NoopDispatcher struct{}

func (NoopDispatcher) Notify(context.Context, Event) error {
	return nil
}
