package enums

// NotificationEventType labels the domain events handed to the dispatcher.
type NotificationEventType string

const (
	NotificationEventPaymentConfirmed NotificationEventType = "payment.confirmed"
	NotificationEventPaymentFailed    NotificationEventType = "payment.failed"
	NotificationEventOrderStatus      NotificationEventType = "order.status_changed"
)

func (n NotificationEventType) String() string {
	return string(n)
}
