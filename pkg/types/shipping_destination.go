package types

// ShippingDestination is the delivery contact captured at checkout. Stored as
// jsonb alongside the order; immutable after creation.
type ShippingDestination struct {
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Address          string `json:"address"`
	City             string `json:"city"`
	Region           string `json:"region"`
	DeliveryLocation string `json:"delivery_location"`
}
