package notifications

import (
	"context"
	"time"

	"github.com/briankimutai/dukalink-backend/pkg/enums"
)

// Event is one customer-facing status change. Dispatch is fire-and-forget:
// implementations must never block a state transition on delivery.
type Event struct {
	Type        enums.NotificationEventType `json:"type"`
	OrderID     string                      `json:"order_id"`
	OrderNumber string                      `json:"order_number"`
	Email       string                      `json:"email,omitempty"`
	Phone       string                      `json:"phone,omitempty"`
	Status      string                      `json:"status"`
	Message     string                      `json:"message"`
	OccurredAt  time.Time                   `json:"occurred_at"`
}

// Dispatcher hands status-change events to the delivery channels (email, SMS).
// Failures are the caller's to log and swallow.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}
