package orders

import (
	"github.com/shopspring/decimal"

	"github.com/briankimutai/dukalink-backend/pkg/types"
)

// CheckoutFlow selects the order-creation variant. Split-payment and
// bank-transfer orders start in their own holding status but share the same
// fulfillment state machine afterward.
type CheckoutFlow string

const (
	CheckoutFlowStandard     CheckoutFlow = "standard"
	CheckoutFlowSplitPayment CheckoutFlow = "split_payment"
	CheckoutFlowBankTransfer CheckoutFlow = "bank_transfer"
)

// CreateInput captures everything required to open an order. The total is
// trusted as written, not recomputed from items.
type CreateInput struct {
	Items       types.OrderItems
	Destination types.ShippingDestination
	TotalAmount decimal.Decimal
	Currency    string
	Flow        CheckoutFlow
}

// OrderSummary echoes the identity and status fields after a mutation.
type OrderSummary struct {
	ID                string `json:"id"`
	OrderNumber       string `json:"order_number"`
	FulfillmentStatus string `json:"fulfillment_status"`
	PaymentStatus     string `json:"payment_status"`
	TrackingNumber    string `json:"tracking_number,omitempty"`
}
