// Package core holds the ledger's domain types, sentinel errors and
// input validation.
package core

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code supported by the ledger.
type Currency string

const (
	ILS Currency = "ILS"
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
)

// Canonical is the currency every aggregate is expressed in.
const Canonical = ILS

var currencySymbols = map[Currency]string{
	ILS: "₪",
	USD: "$",
	EUR: "€",
	GBP: "£",
}

// SupportedCurrencies lists the non-canonical codes in a stable order.
var SupportedCurrencies = []Currency{USD, EUR, GBP}

func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return ILS, nil
	}
	if _, ok := currencySymbols[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

func (c Currency) Valid() bool {
	_, ok := currencySymbols[c]
	return ok
}

func (c Currency) Symbol() string {
	if s, ok := currencySymbols[c]; ok {
		return s
	}
	return string(c)
}

// Money is an amount tagged with its currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

func NewMoney(amount decimal.Decimal, c Currency) Money {
	if c == "" {
		c = ILS
	}
	return Money{Amount: amount, Currency: c}
}

// Validate requires a strictly positive amount in a supported currency.
func (m Money) Validate() error {
	if !m.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !m.Currency.Valid() {
		return ErrInvalidCurrency
	}
	return nil
}

// ParseAmount parses a positive decimal amount.
//
// Both dot (12.34) and comma (12,34) separators are accepted and the value
// is rounded half-up to agorot. Zero, negative and malformed inputs return
// ErrInvalidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if r != '.' && !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = RoundAgorot(d)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// RoundAgorot rounds half away from zero to two decimal places.
func RoundAgorot(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FormatAmount renders d with thousands separators and two decimals,
// prefixed by the currency symbol, e.g. "₪1,234.50" or "-$12.00".
func FormatAmount(d decimal.Decimal, c Currency) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + c.Symbol() + b.String() + "." + frac
}
