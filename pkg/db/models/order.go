package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/briankimutai/dukalink-backend/pkg/enums"
	"github.com/briankimutai/dukalink-backend/pkg/types"
)

// Order is the root aggregate for a customer purchase. Fulfillment and payment
// status evolve independently; every status mutation bumps Version and appends
// one timeline entry.
type Order struct {
	ID                    uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber           string                    `gorm:"column:order_number;not null;uniqueIndex" json:"order_number"`
	Items                 types.OrderItems          `gorm:"column:items;type:jsonb;serializer:json" json:"items"`
	ShippingDestination   types.ShippingDestination `gorm:"column:shipping_destination;type:jsonb;serializer:json" json:"shipping_destination"`
	TotalAmount           decimal.Decimal           `gorm:"column:total_amount;type:numeric(14,2);not null" json:"total_amount"`
	Currency              string                    `gorm:"column:currency;not null;default:'KES'" json:"currency"`
	FulfillmentStatus     enums.FulfillmentStatus   `gorm:"column:fulfillment_status;not null;default:'pending'" json:"fulfillment_status"`
	PaymentStatus         enums.PaymentStatus       `gorm:"column:payment_status;not null;default:'pending'" json:"payment_status"`
	TrackingNumber        *string                   `gorm:"column:tracking_number" json:"tracking_number,omitempty"`
	TransactionTrackingID *string                   `gorm:"column:transaction_tracking_id;index" json:"transaction_tracking_id,omitempty"`
	TransactionStatus     *string                   `gorm:"column:transaction_status" json:"transaction_status,omitempty"`
	PaidAt                *time.Time                `gorm:"column:paid_at" json:"paid_at,omitempty"`
	PaymentCompletedAt    *time.Time                `gorm:"column:payment_completed_at" json:"payment_completed_at,omitempty"`
	LastPaymentCheck      *time.Time                `gorm:"column:last_payment_check" json:"last_payment_check,omitempty"`
	Timeline              types.Timeline            `gorm:"column:timeline;type:jsonb;serializer:json" json:"timeline"`
	SplitPayments         types.SplitPayments       `gorm:"column:split_payments;type:jsonb;serializer:json" json:"split_payments,omitempty"`
	Version               int64                     `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt             time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                 `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName pins the orders table name.
func (Order) TableName() string {
	return "orders"
}
