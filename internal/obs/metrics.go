package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// InvoiceCreateTotal counts invoice creation attempts by gateway and result.
	InvoiceCreateTotal *prometheus.CounterVec
	// WebhookEventTotal counts inbound Coinsnap webhook outcomes by event type.
	WebhookEventTotal *prometheus.CounterVec
	// RefundTotal counts refund attempts by result.
	RefundTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers the payment-domain
// Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		InvoiceCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_create_total",
			Help:      "Count of Coinsnap invoice creation outcomes.",
		}, []string{"gateway", "result"})
		WebhookEventTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_event_total",
			Help:      "Count of processed Coinsnap webhook events by outcome.",
		}, []string{"event", "result"})
		RefundTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refund_total",
			Help:      "Count of refund (pull payment) outcomes.",
		}, []string{"result"})

		registerCounterVec(reg, &InvoiceCreateTotal)
		registerCounterVec(reg, &WebhookEventTotal)
		registerCounterVec(reg, &RefundTotal)
	})
}

func registerCounterVec(reg prometheus.Registerer, vec **prometheus.CounterVec) {
	if err := reg.Register(*vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				*vec = existing
				return
			}
		}
		panic(err)
	}
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
