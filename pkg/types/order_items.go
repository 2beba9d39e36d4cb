package types

import "github.com/shopspring/decimal"

// OrderItem is one purchased line. Line items are immutable after order
// creation; there is no partial fulfillment at item level.
type OrderItem struct {
	ProductRef string          `json:"product_ref"`
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

// OrderItems is the jsonb-serialized line item list.
type OrderItems []OrderItem
