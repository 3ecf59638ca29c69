package coinsnap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
)

// PullPaymentRequest is the payload for creating an outbound refund.
type PullPaymentRequest struct {
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	PaymentMethods []string        `json:"paymentMethods,omitempty"`
}

// PullPayment is the remote payout record the customer claims.
type PullPayment struct {
	ID       string `json:"id"`
	ViewLink string `json:"viewLink"`
}

// CreatePullPayment creates a claimable payout against the store.
func (c *Client) CreatePullPayment(ctx context.Context, storeID string, req PullPaymentRequest) (PullPayment, error) {
	var pp PullPayment
	path := fmt.Sprintf("/api/v1/stores/%s/pull-payments", url.PathEscape(storeID))
	if err := c.doJSON(ctx, http.MethodPost, path, req, &pp); err != nil {
		return PullPayment{}, err
	}
	return pp, nil
}
