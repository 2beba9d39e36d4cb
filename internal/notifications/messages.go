package notifications

import "github.com/briankimutai/dukalink-backend/pkg/enums"

// One lookup table per status family, shared by every trigger entry point.

var fulfillmentMessages = map[enums.FulfillmentStatus]string{
	enums.FulfillmentStatusPending:             "Your order has been received and is awaiting processing.",
	enums.FulfillmentStatusProcessing:          "Your order is being processed.",
	enums.FulfillmentStatusFulfilled:           "Your order has been packed and fulfilled.",
	enums.FulfillmentStatusReady:               "Your order is ready for pickup.",
	enums.FulfillmentStatusPickedUp:            "Your order has been picked up.",
	enums.FulfillmentStatusShipped:             "Your order has been shipped.",
	enums.FulfillmentStatusDelivered:           "Your order has been delivered. Thank you for shopping with us!",
	enums.FulfillmentStatusCancelled:           "Your order has been cancelled.",
	enums.FulfillmentStatusPendingSplitPayment: "Your order is awaiting the remaining installments.",
	enums.FulfillmentStatusPendingBankTransfer: "Your order is awaiting bank transfer confirmation.",
}

var paymentMessages = map[enums.PaymentStatus]string{
	enums.PaymentStatusPending:    "We are waiting for your payment to be confirmed.",
	enums.PaymentStatusProcessing: "Your payment is being processed.",
	enums.PaymentStatusPaid:       "Your payment has been confirmed. Thank you!",
	enums.PaymentStatusFailed:     "Your payment could not be completed. Please try again.",
	enums.PaymentStatusRefunded:   "Your payment has been refunded.",
}

// FulfillmentMessage returns the customer copy for a fulfillment status.
func FulfillmentMessage(status enums.FulfillmentStatus) string {
	if msg, ok := fulfillmentMessages[status]; ok {
		return msg
	}
	return "Your order status has been updated."
}

// PaymentMessage returns the customer copy for a payment status.
func PaymentMessage(status enums.PaymentStatus) string {
	if msg, ok := paymentMessages[status]; ok {
		return msg
	}
	return "Your payment status has been updated."
}
