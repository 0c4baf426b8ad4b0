// Package currency converts ledger amounts into the canonical currency.
//
// A Provider resolves a table of rates (ILS per one unit of each code)
// from a chain of sources and caches it process-wide. Each aggregation run
// takes its own Converter, which memoises the first rate it resolves per
// code so a single run never mixes rates.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"kesefly/internal/core"
)

// Rates maps a currency to its value in ILS.
type Rates map[core.Currency]decimal.Decimal

// ErrRateUnavailable is returned when no rate can be resolved for a code.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Source fetches a fresh rate table.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Rates, error)
}

// ratePrecision is the number of decimal places kept when inverting quotes.
const ratePrecision = 6

// Frankfurter queries an api.frankfurter.app compatible endpoint for
// quotes based in ILS and inverts them.
type Frankfurter struct {
	url    string
	client *http.Client
}

func NewFrankfurter(endpoint string, timeout time.Duration) *Frankfurter {
	return &Frankfurter{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
	}
}

func (f *Frankfurter) Name() string { return "frankfurter" }

func (f *Frankfurter) Fetch(ctx context.Context) (Rates, error) {
	codes := make([]string, 0, len(core.SupportedCurrencies))
	for _, c := range core.SupportedCurrencies {
		codes = append(codes, string(c))
	}
	u, err := url.Parse(f.url)
	if err != nil {
		return nil, fmt.Errorf("parse rates url: %w", err)
	}
	q := u.Query()
	q.Set("from", string(core.ILS))
	q.Set("to", strings.Join(codes, ","))
	u.RawQuery = q.Encode()

	body, err := get(ctx, f.client, u.String())
	if err != nil {
		return nil, err
	}

	var payload struct {
		Base  string                     `json:"base"`
		Rates map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode frankfurter response: %w", err)
	}
	if payload.Base != "" && payload.Base != string(core.ILS) {
		return nil, fmt.Errorf("unexpected base currency %q", payload.Base)
	}

	rates := make(Rates, len(payload.Rates))
	for code, perILS := range payload.Rates {
		if !perILS.IsPositive() {
			continue
		}
		rates[core.Currency(code)] = decimal.NewFromInt(1).DivRound(perILS, ratePrecision)
	}
	if len(rates) == 0 {
		return nil, errors.New("frankfurter returned no rates")
	}
	return rates, nil
}

// ECB reads the European Central Bank's daily reference-rate XML and
// derives ILS cross rates through EUR.
type ECB struct {
	url    string
	client *http.Client
}

func NewECB(endpoint string, timeout time.Duration) *ECB {
	return &ECB{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *ECB) Name() string { return "ecb" }

func (e *ECB) Fetch(ctx context.Context) (Rates, error) {
	body, err := get(ctx, e.client, e.url)
	if err != nil {
		return nil, err
	}
	return parseECB(body)
}

func parseECB(body []byte) (Rates, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse ecb xml: %w", err)
	}

	perEUR := map[string]decimal.Decimal{"EUR": decimal.NewFromInt(1)}
	for _, cube := range doc.FindElements("//Cube[@currency]") {
		code := cube.SelectAttrValue("currency", "")
		rate, err := decimal.NewFromString(cube.SelectAttrValue("rate", ""))
		if err != nil || !rate.IsPositive() {
			continue
		}
		perEUR[code] = rate
	}

	ilsPerEUR, ok := perEUR[string(core.ILS)]
	if !ok {
		return nil, errors.New("ecb sheet has no ILS rate")
	}

	rates := make(Rates)
	for _, c := range core.SupportedCurrencies {
		r, ok := perEUR[string(c)]
		if !ok {
			continue
		}
		rates[c] = ilsPerEUR.DivRound(r, ratePrecision)
	}
	return rates, nil
}

// Static always returns the same table. It backs the configured fallback.
type Static Rates

func (Static) Name() string { return "static" }

func (s Static) Fetch(context.Context) (Rates, error) {
	out := make(Rates, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// ParseRates reads "USD:3.70,EUR:4.00" into a table of ILS-per-unit rates.
func ParseRates(s string) (Rates, error) {
	rates := make(Rates)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid rate %q: want CODE:VALUE", pair)
		}
		c, err := core.ParseCurrency(code)
		if err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || !d.IsPositive() {
			return nil, fmt.Errorf("invalid rate for %s: %q", c, value)
		}
		rates[c] = d
	}
	return rates, nil
}

func get(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
