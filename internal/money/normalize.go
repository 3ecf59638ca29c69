// Package money normalises shop amounts into the representation the Coinsnap
// server accepts.
package money

import "github.com/shopspring/decimal"

// CurrencySat is the synthetic shop currency used in sats mode. Coinsnap does
// not understand SAT, so amounts are converted to BTC before any API call.
const (
	CurrencySat = "SAT"
	CurrencyBTC = "BTC"
)

// satsPerBTC is the fixed satoshi subdivision of one bitcoin.
var satsPerBTC = decimal.NewFromInt(100_000_000)

// Normalize converts an amount/currency pair into a server-safe pair. SAT
// amounts are divided by 1e8 at fixed 8-decimal precision; any other currency
// passes through unchanged. Total over well-formed input, no error cases.
func Normalize(amount decimal.Decimal, currency string) (decimal.Decimal, string) {
	if currency != CurrencySat {
		return amount, currency
	}
	return amount.DivRound(satsPerBTC, 8), CurrencyBTC
}
