package payments

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/briankimutai/dukalink-backend/api/responses"
	"github.com/briankimutai/dukalink-backend/api/validators"
	internalpayments "github.com/briankimutai/dukalink-backend/internal/payments"
	"github.com/briankimutai/dukalink-backend/pkg/logger"
)

// callbackPage relays the payment signal to the opener window and closes the
// popup. The storefront listens for exactly these signal strings.
const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Payment Status</title></head>
<body>
<script>
  if (window.opener) {
    window.opener.postMessage('%s', '*');
  }
  window.close();
</script>
<p>Payment processed. You can close this window.</p>
</body>
</html>`

// Initiate submits the order to the hosted gateway and returns the checkout URL.
func Initiate(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.InitiatePayment(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Callback handles the browser redirect from the hosted checkout. It always
// answers with the relay page; failures surface as the failed signal rather
// than an error page, since the customer cannot act on one.
func Callback(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := internalpayments.ExtractCallbackParams(decodeLooseBody(r), r.URL.Query())

		signal := internalpayments.SignalFailed
		result, err := svc.HandleCallback(r.Context(), params)
		if err != nil {
			logg.Error(r.Context(), "payment callback failed", err)
		} else {
			signal = result.Signal
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, callbackPage, signal)
	}
}

// IPN handles the provider's server-to-server notification. The ack envelope
// is always written with 200 so the provider stops retrying on our terms.
func IPN(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload internalpayments.IPNPayload
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				logg.Error(r.Context(), "undecodable ipn payload", err)
			}
			io.Copy(io.Discard, r.Body)
		}

		// Some provider configurations deliver the fields as query parameters.
		if payload.OrderTrackingID == "" {
			payload.OrderTrackingID = strings.TrimSpace(r.URL.Query().Get("OrderTrackingId"))
			payload.OrderNotificationType = strings.TrimSpace(r.URL.Query().Get("OrderNotificationType"))
			payload.OrderMerchantReference = strings.TrimSpace(r.URL.Query().Get("OrderMerchantReference"))
		}

		ack := svc.HandleIPN(r.Context(), payload)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(ack); err != nil {
			logg.Error(r.Context(), "failed to encode ipn ack", err)
		}
	}
}

// Refresh re-queries the gateway for one order.
func Refresh(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Refresh(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type bulkRefreshRequest struct {
	OrderIDs []uuid.UUID `json:"orderIds" validate:"required,min=1"`
}

// RefreshBulk refreshes a bounded batch of orders, isolating per-item failures.
func RefreshBulk(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRefreshRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RefreshBulk(r.Context(), req.OrderIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// decodeLooseBody reads an optional JSON object body without failing the
// request; the callback arrives as GET, form POST, or JSON depending on the
// provider configuration.
func decodeLooseBody(r *http.Request) map[string]any {
	if r.Body == nil {
		return nil
	}
	defer io.Copy(io.Discard, r.Body)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			return body
		}
		return nil
	}
	if err := r.ParseForm(); err == nil && len(r.PostForm) > 0 {
		body := make(map[string]any, len(r.PostForm))
		for key := range r.PostForm {
			body[key] = r.PostForm.Get(key)
		}
		return body
	}
	return nil
}
