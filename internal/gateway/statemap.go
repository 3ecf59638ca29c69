package gateway

import "github.com/noah-isme/coinsnap-bridge/internal/order"

// Invoice processing states used as mapping keys. Settled and expired split
// into sub-keys so over- and partial payments can route to their own order
// statuses.
const (
	KeyNew                = "New"
	KeyProcessing         = "Processing"
	KeySettled            = "Settled"
	KeySettledPaidOver    = "SettledPaidOver"
	KeyInvalid            = "Invalid"
	KeyExpired            = "Expired"
	KeyExpiredPaidPartial = "ExpiredPaidPartial"
	KeyExpiredPaidLate    = "ExpiredPaidLate"
)

// StatusIgnore is a mapping target that leaves the order status untouched.
// The settlement timestamp and notes are still recorded.
const StatusIgnore = "IGNORE"

// StateMapping routes an invoice processing state to a local order status.
type StateMapping map[string]string

// DefaultStateMapping returns the stock routing table. Settled maps to IGNORE
// so stores that complete orders on fulfilment keep control of that step.
func DefaultStateMapping() StateMapping {
	return StateMapping{
		KeyNew:                string(order.StatusPending),
		KeyProcessing:         string(order.StatusOnHold),
		KeySettled:            StatusIgnore,
		KeySettledPaidOver:    string(order.StatusProcessing),
		KeyInvalid:            string(order.StatusFailed),
		KeyExpired:            string(order.StatusCancelled),
		KeyExpiredPaidPartial: string(order.StatusFailed),
		KeyExpiredPaidLate:    string(order.StatusProcessing),
	}
}

// LoadStateMapping merges configured overrides over the defaults. Unknown
// keys in the override set are dropped.
func LoadStateMapping(overrides map[string]string) StateMapping {
	m := DefaultStateMapping()
	for key, status := range overrides {
		if _, known := m[key]; !known {
			continue
		}
		if status == "" {
			continue
		}
		m[key] = status
	}
	return m
}

// Resolve returns the order status mapped for key, falling back to the
// default table when the key is absent.
func (m StateMapping) Resolve(key string) string {
	if status, ok := m[key]; ok {
		return status
	}
	return DefaultStateMapping()[key]
}
