package payments

import (
	"strings"

	"github.com/briankimutai/dukalink-backend/pkg/enums"
)

// statusMappings is evaluated in order; the first group with a matching
// substring wins. A raw status matching both "success" and "processing"
// therefore resolves to paid.
var statusMappings = []struct {
	substrings []string
	status     enums.PaymentStatus
}{
	{[]string{"completed", "success"}, enums.PaymentStatusPaid},
	{[]string{"pending", "processing"}, enums.PaymentStatusPending},
	{[]string{"failed", "cancelled", "cancel"}, enums.PaymentStatusFailed},
	{[]string{"invalid", "error"}, enums.PaymentStatusFailed},
}

// MapStatus translates a provider status description into the internal payment
// status. The second return is false when the raw value matches no known
// group; callers record the raw string and change nothing.
func MapStatus(raw string) (enums.PaymentStatus, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", false
	}
	for _, group := range statusMappings {
		for _, sub := range group.substrings {
			if strings.Contains(normalized, sub) {
				return group.status, true
			}
		}
	}
	return "", false
}
