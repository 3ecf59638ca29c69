// Package order defines the host shop's order boundary: the model, the store
// interface the payment bridge depends on, and a Postgres implementation.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a local order status as known to the shop.
type Status string

const (
	StatusPending    Status = "pending"
	StatusOnHold     Status = "on_hold"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Metadata keys attached to orders by the payment bridge. At most one active
// invoice reference exists per order at any time.
const (
	MetaInvoiceID       = "coinsnap_invoice_id"
	MetaInvoiceRedirect = "coinsnap_invoice_redirect"
)

// ErrNotFound is returned when no order matches the given identifier.
var ErrNotFound = errors.New("order: not found")

// Billing holds the customer billing fields captured at checkout.
type Billing struct {
	Email    string
	Name     string
	Address1 string
	Address2 string
	City     string
	State    string
	Postcode string
	Country  string
}

// Order is the shop-side order record referenced, never owned, by the bridge.
type Order struct {
	ID        uuid.UUID
	Number    string
	Status    Status
	Currency  string
	Total     decimal.Decimal
	Billing   Billing
	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refund records one (possibly partial) refund issued against an order.
// Multiple rows per order are allowed.
type Refund struct {
	OrderID       uuid.UUID
	PullPaymentID string
	ViewLink      string
	Amount        decimal.Decimal
	Currency      string
	Reason        string
	CreatedAt     time.Time
}

// Store exposes the order-side operations the bridge needs. The shop database
// is the system of record; per-order updates are last-write-wins at the
// status field.
type Store interface {
	// Get loads a single order by id. Returns ErrNotFound when missing.
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// FindByMeta returns every order carrying the given metadata key/value.
	// Used to locate the order owning a remote invoice id; more than one
	// match indicates data corruption and is the caller's problem.
	FindByMeta(ctx context.Context, key, value string) ([]Order, error)
	// GetMeta returns the metadata value for key, or "" when unset.
	GetMeta(ctx context.Context, orderID uuid.UUID, key string) (string, error)
	// SetMeta upserts a single-valued metadata entry.
	SetMeta(ctx context.Context, orderID uuid.UUID, key, value string) error
	// AddNote appends a human-readable note to the order's trail.
	AddNote(ctx context.Context, orderID uuid.UUID, note string) error
	// UpdateStatus transitions the order to the named local status.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status Status) error
	// MarkPaid performs the host's payment-completion bookkeeping: records
	// paid_at once and moves the order to completed. Re-application is a
	// no-op, making the settlement side effect idempotent.
	MarkPaid(ctx context.Context, orderID uuid.UUID) error
	// AddRefund records a refund row against the order.
	AddRefund(ctx context.Context, refund Refund) error
	// RemainingRefundable reports the order total minus all recorded refunds.
	RemainingRefundable(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error)
	// TotalItemsQuantity sums line-item quantities, used by promotion-token
	// gateways which charge per item rather than per amount.
	TotalItemsQuantity(ctx context.Context, orderID uuid.UUID) (int, error)
}
