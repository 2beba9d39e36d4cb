package enums

import "fmt"

// FulfillmentStatus tracks the warehouse/shipping lifecycle of an order.
type FulfillmentStatus string

const (
	FulfillmentStatusPending             FulfillmentStatus = "pending"
	FulfillmentStatusProcessing          FulfillmentStatus = "processing"
	FulfillmentStatusFulfilled           FulfillmentStatus = "fulfilled"
	FulfillmentStatusReady               FulfillmentStatus = "ready"
	FulfillmentStatusPickedUp            FulfillmentStatus = "picked_up"
	FulfillmentStatusShipped             FulfillmentStatus = "shipped"
	FulfillmentStatusDelivered           FulfillmentStatus = "delivered"
	FulfillmentStatusCancelled           FulfillmentStatus = "cancelled"
	FulfillmentStatusPendingSplitPayment FulfillmentStatus = "pending_split_payment"
	FulfillmentStatusPendingBankTransfer FulfillmentStatus = "pending_bank_transfer"
)

var validFulfillmentStatuses = []FulfillmentStatus{
	FulfillmentStatusPending,
	FulfillmentStatusProcessing,
	FulfillmentStatusFulfilled,
	FulfillmentStatusReady,
	FulfillmentStatusPickedUp,
	FulfillmentStatusShipped,
	FulfillmentStatusDelivered,
	FulfillmentStatusCancelled,
	FulfillmentStatusPendingSplitPayment,
	FulfillmentStatusPendingBankTransfer,
}

// String implements fmt.Stringer.
func (f FulfillmentStatus) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FulfillmentStatus.
func (f FulfillmentStatus) IsValid() bool {
	for _, candidate := range validFulfillmentStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further fulfillment change.
func (f FulfillmentStatus) IsTerminal() bool {
	return f == FulfillmentStatusDelivered || f == FulfillmentStatusCancelled
}

// ParseFulfillmentStatus converts raw input into a FulfillmentStatus.
func ParseFulfillmentStatus(value string) (FulfillmentStatus, error) {
	for _, candidate := range validFulfillmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment status %q", value)
}
