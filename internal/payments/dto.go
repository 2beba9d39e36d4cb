package payments

import (
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/briankimutai/dukalink-backend/pkg/enums"
)

// Reconciliation triggers, used as the metrics label and for logging.
const (
	TriggerCallback = "callback"
	TriggerIPN      = "ipn"
	TriggerManual   = "manual"
)

// Signals handed back to the hosted checkout redirect page. The page relays
// them verbatim to the opener via postMessage.
const (
	SignalSuccess = "pesapal-payment-success"
	SignalPending = "pesapal-payment-pending"
	SignalFailed  = "pesapal-payment-failed"
)

// IPN acknowledgement types expected by the provider.
const (
	IPNAckReceived = "IPNRES"
	IPNAckError    = "IPNERR"
)

// IPN notification types that map to a status without a gateway round trip.
const (
	IPNTypeCompleted = "COMPLETED"
	IPNTypeFailed    = "FAILED"
	IPNTypeCancelled = "CANCELLED"
)

// ReconcileResult reports what one reconciliation pass did to the order.
type ReconcileResult struct {
	Changed  bool
	Previous enums.PaymentStatus
	New      enums.PaymentStatus
	Raw      string
}

// CallbackParams identifies the transaction a redirect callback refers to.
type CallbackParams struct {
	TrackingID        string
	MerchantReference string
}

// CallbackResult carries the three-state signal for the redirect page plus the
// reconciled order identifiers.
type CallbackResult struct {
	Signal      string
	OrderID     uuid.UUID
	OrderNumber string
	Status      enums.PaymentStatus
}

// IPNPayload is the provider's server-to-server notification.
type IPNPayload struct {
	OrderTrackingID        string `json:"OrderTrackingId"`
	OrderNotificationType  string `json:"OrderNotificationType"`
	OrderMerchantReference string `json:"OrderMerchantReference"`
}

// IPNAck is the acknowledgement envelope returned to the provider. The
// provider retries deliveries that are not acknowledged with IPNRES.
type IPNAck struct {
	Status                string `json:"Status"`
	OrderNotificationType string `json:"OrderNotificationType"`
	OrderTrackingID       string `json:"OrderTrackingId"`
	Error                 string `json:"Error,omitempty"`
}

// InitiateResult is the hosted checkout handle returned to the storefront.
type InitiateResult struct {
	PaymentURL string `json:"payment_url"`
	TrackingID string `json:"tracking_id"`
}

// RefreshResult is the before/after view of one manual refresh.
type RefreshResult struct {
	OrderID     uuid.UUID           `json:"order_id"`
	OrderNumber string              `json:"order_number"`
	Changed     bool                `json:"changed"`
	OldStatus   enums.PaymentStatus `json:"old_status"`
	NewStatus   enums.PaymentStatus `json:"new_status"`
}

// BulkRefreshItem is one order's outcome within a bulk refresh. Failures are
// isolated per item so one bad order never aborts the batch.
type BulkRefreshItem struct {
	OrderID   uuid.UUID           `json:"order_id"`
	Success   bool                `json:"success"`
	OldStatus enums.PaymentStatus `json:"old_status,omitempty"`
	NewStatus enums.PaymentStatus `json:"new_status,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BulkRefreshResult aggregates a bulk refresh batch.
type BulkRefreshResult struct {
	Results []BulkRefreshItem `json:"results"`
	Failed  int               `json:"failed"`
}

var (
	trackingAliases = []string{
		"OrderTrackingId", "orderTrackingId", "order_tracking_id", "trackingId",
	}
	merchantAliases = []string{
		"OrderMerchantReference", "orderMerchantReference", "order_merchant_reference", "merchantReference",
	}
)

// ExtractCallbackParams resolves the tracking id and merchant reference from a
// redirect callback. The provider is inconsistent about where it puts them, so
// every known alias is checked in the body first, then the query string.
func ExtractCallbackParams(body map[string]any, query url.Values) CallbackParams {
	return CallbackParams{
		TrackingID:        extractAlias(body, query, trackingAliases),
		MerchantReference: extractAlias(body, query, merchantAliases),
	}
}

func extractAlias(body map[string]any, query url.Values, aliases []string) string {
	for _, alias := range aliases {
		if body != nil {
			if value, ok := body[alias].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	for _, alias := range aliases {
		if value := strings.TrimSpace(query.Get(alias)); value != "" {
			return value
		}
	}
	return ""
}
