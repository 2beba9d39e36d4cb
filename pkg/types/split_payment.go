package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitPayment records one installment of a split or bank-transfer flow. The
// sub-list is bookkeeping only; installments do not grow the fulfillment
// state machine.
type SplitPayment struct {
	TrackingID string          `json:"tracking_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// SplitPayments is the jsonb-serialized installment list.
type SplitPayments []SplitPayment
