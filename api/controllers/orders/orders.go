package orders

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/briankimutai/dukalink-backend/api/responses"
	"github.com/briankimutai/dukalink-backend/api/validators"
	internalorders "github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
	"github.com/briankimutai/dukalink-backend/pkg/types"
)

type createItem struct {
	ProductRef string          `json:"product_ref" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	Quantity   int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type createDestination struct {
	FullName         string `json:"full_name" validate:"required"`
	Email            string `json:"email" validate:"required,email"`
	Phone            string `json:"phone" validate:"required"`
	Address          string `json:"address" validate:"required"`
	City             string `json:"city"`
	Region           string `json:"region"`
	DeliveryLocation string `json:"delivery_location"`
}

type createRequest struct {
	Items               []createItem      `json:"items" validate:"required,min=1,dive"`
	ShippingDestination createDestination `json:"shipping_destination" validate:"required"`
	TotalAmount         decimal.Decimal   `json:"total_amount"`
	Currency            string            `json:"currency"`
	Flow                string            `json:"flow"`
}

// Create opens a new order in the flow-appropriate holding status.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make(types.OrderItems, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, types.OrderItem{
				ProductRef: item.ProductRef,
				Name:       item.Name,
				Quantity:   item.Quantity,
				UnitPrice:  item.UnitPrice,
			})
		}

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			Items: items,
			Destination: types.ShippingDestination{
				FullName:         req.ShippingDestination.FullName,
				Email:            req.ShippingDestination.Email,
				Phone:            req.ShippingDestination.Phone,
				Address:          req.ShippingDestination.Address,
				City:             req.ShippingDestination.City,
				Region:           req.ShippingDestination.Region,
				DeliveryLocation: req.ShippingDestination.DeliveryLocation,
			},
			TotalAmount: req.TotalAmount,
			Currency:    req.Currency,
			Flow:        internalorders.CheckoutFlow(req.Flow),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// Detail returns the full order including its timeline.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Remove permanently deletes an unpaid order.
func Remove(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Delete(r.Context(), orderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": orderID.String(), "deleted": "true"})
	}
}
