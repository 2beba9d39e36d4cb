package orders

import (
	"crypto/rand"
	"fmt"
	"time"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateOrderNumber produces a human-facing order identifier of the form
// ORD-<timestamp>-<random>.
func GenerateOrderNumber() string {
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), randomToken(6))
}

// GenerateTrackingNumber produces a shipment tracking identifier of the form
// TRK-<timestamp>-<random6>.
func GenerateTrackingNumber() string {
	return fmt.Sprintf("TRK-%d-%s", time.Now().UnixMilli(), randomToken(6))
}

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// keep the identifier well-formed even if the entropy source fails
		for i := range buf {
			buf[i] = tokenAlphabet[(time.Now().UnixNano()+int64(i))%int64(len(tokenAlphabet))]
		}
		return string(buf)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
