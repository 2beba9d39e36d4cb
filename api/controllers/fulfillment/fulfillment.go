package fulfillment

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/briankimutai/dukalink-backend/api/responses"
	"github.com/briankimutai/dukalink-backend/api/validators"
	internalfulfillment "github.com/briankimutai/dukalink-backend/internal/fulfillment"
	internalorders "github.com/briankimutai/dukalink-backend/internal/orders"
	"github.com/briankimutai/dukalink-backend/pkg/enums"
	pkgerrors "github.com/briankimutai/dukalink-backend/pkg/errors"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
)

type transitionRequest struct {
	Note           string `json:"note"`
	TrackingNumber string `json:"tracking_number"`
}

// Transition applies the path action (process, fulfill, ready, pickup, ship,
// deliver, cancel) to the order and echoes the updated summary.
func Transition(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		action, err := internalfulfillment.ParseAction(chi.URLParam(r, "action"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The body is optional for every action.
		var req transitionRequest
		if r.ContentLength != 0 {
			if decodeErr := validators.DecodeJSONBody(r, &req); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
				responses.WriteError(r.Context(), logg, w, decodeErr)
				return
			}
		}

		order, err := svc.Transition(r.Context(), orderID, action, internalfulfillment.TransitionInput{
			Note:           req.Note,
			TrackingNumber: req.TrackingNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.Summarize(order))
	}
}

type updateStatusRequest struct {
	FulfillmentStatus string `json:"fulfillment_status"`
	PaymentStatus     string `json:"payment_status"`
	Note              string `json:"note"`
}

// UpdateStatus is the generic admin override for one or both status fields.
func UpdateStatus(svc internalfulfillment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internalfulfillment.UpdateStatusInput{Note: req.Note}
		if req.FulfillmentStatus != "" {
			status, err := enums.ParseFulfillmentStatus(req.FulfillmentStatus)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid fulfillment status"))
				return
			}
			input.FulfillmentStatus = &status
		}
		if req.PaymentStatus != "" {
			status, err := enums.ParsePaymentStatus(req.PaymentStatus)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status"))
				return
			}
			input.PaymentStatus = &status
		}

		order, err := svc.UpdateOrderStatus(r.Context(), orderID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.Summarize(order))
	}
}
