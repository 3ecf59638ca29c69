package coinsnap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the remote lifecycle status of an invoice.
type InvoiceStatus string

const (
	InvoiceNew        InvoiceStatus = "New"
	InvoiceProcessing InvoiceStatus = "Processing"
	InvoiceSettled    InvoiceStatus = "Settled"
	InvoiceExpired    InvoiceStatus = "Expired"
	InvoiceInvalid    InvoiceStatus = "Invalid"
)

// IsTerminal reports whether the invoice reference must never be reused.
func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceExpired || s == InvoiceInvalid
}

// CheckoutOptions restrict how an invoice may be paid.
type CheckoutOptions struct {
	RedirectURL    string   `json:"redirectURL,omitempty"`
	PaymentMethods []string `json:"paymentMethods,omitempty"`
}

// InvoiceRequest is the payload for invoice creation.
type InvoiceRequest struct {
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	OrderNumber  string          `json:"orderId"`
	BuyerEmail   string          `json:"buyerEmail"`
	BuyerName    string          `json:"customerName"`
	RedirectURL  string          `json:"redirectUrl"`
	ReferralCode string          `json:"referralCode,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Checkout     CheckoutOptions `json:"checkout"`
}

// Invoice is the remote invoice snapshot returned by the server.
type Invoice struct {
	ID           string          `json:"id"`
	Status       InvoiceStatus   `json:"status"`
	CheckoutLink string          `json:"checkoutLink"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Checkout     CheckoutOptions `json:"checkout"`
}

// CreateInvoice creates a remote invoice for the given store.
func (c *Client) CreateInvoice(ctx context.Context, storeID string, req InvoiceRequest) (Invoice, error) {
	var inv Invoice
	path := fmt.Sprintf("/api/v1/stores/%s/invoices", url.PathEscape(storeID))
	if err := c.doJSON(ctx, http.MethodPost, path, req, &inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// GetInvoice fetches the current snapshot of an invoice.
func (c *Client) GetInvoice(ctx context.Context, storeID, invoiceID string) (Invoice, error) {
	var inv Invoice
	path := fmt.Sprintf("/api/v1/stores/%s/invoices/%s",
		url.PathEscape(storeID), url.PathEscape(invoiceID))
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// MarkInvoiceStatus forces an invoice into the given status. Used to
// invalidate an invoice whose payment-method set no longer matches the
// selected gateway.
func (c *Client) MarkInvoiceStatus(ctx context.Context, storeID, invoiceID string, status InvoiceStatus) error {
	path := fmt.Sprintf("/api/v1/stores/%s/invoices/%s/status",
		url.PathEscape(storeID), url.PathEscape(invoiceID))
	payload := map[string]string{"status": string(status)}
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}
