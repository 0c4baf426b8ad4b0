package currency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"kesefly/internal/cache"
	"kesefly/internal/core"
	"kesefly/internal/log"
)

// Policy decides what happens when every live source fails.
type Policy string

const (
	// PolicyFallback serves the configured static rates and logs a warning.
	PolicyFallback Policy = "fallback"
	// PolicyFail returns ErrRateUnavailable to the caller.
	PolicyFail Policy = "fail"
)

func (p Policy) Valid() bool { return p == PolicyFallback || p == PolicyFail }

const ratesKey = "rates"

type ProviderConfig struct {
	Sources  []Source
	Fallback Rates
	Policy   Policy
	TTL      time.Duration

	// FetchTimeout bounds one walk of the source chain. It is independent
	// of the request that triggered the walk.
	FetchTimeout time.Duration
}

// Provider resolves and caches the process-wide rate table.
type Provider struct {
	sources  []Source
	fallback Rates
	policy   Policy
	ttl      time.Duration
	timeout  time.Duration
	cache    *cache.LRUCache[Rates]
	group    singleflight.Group
	logger   *log.Logger
}

func NewProvider(cfg ProviderConfig, logger *log.Logger) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = PolicyFallback
	}
	return &Provider{
		sources:  cfg.Sources,
		fallback: cfg.Fallback,
		policy:   cfg.Policy,
		ttl:      cfg.TTL,
		timeout:  cfg.FetchTimeout,
		cache:    cache.NewLRUCache[Rates](1, cfg.TTL),
		logger:   logger.WithComponent(log.ComponentCurrency),
	}
}

// Cache exposes the rate cache so it can be registered for sweeping.
func (p *Provider) Cache() cache.Cleaner { return p.cache }

// Rates returns the current table, fetching it at most once per TTL no
// matter how many callers ask concurrently. The shared fetch outlives the
// caller that started it; a cancelled caller only stops waiting.
func (p *Provider) Rates(ctx context.Context) (Rates, error) {
	if r, ok := p.cache.Get(ratesKey); ok {
		return r, nil
	}
	ch := p.group.DoChan(ratesKey, func() (interface{}, error) {
		if r, ok := p.cache.Get(ratesKey); ok {
			return r, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		return p.resolve(fetchCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Rates), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Provider) resolve(ctx context.Context) (Rates, error) {
	var lastErr error
	for _, src := range p.sources {
		rates, err := src.Fetch(ctx)
		if err == nil {
			p.cache.Set(ratesKey, rates)
			p.logger.DebugContext(ctx, "Exchange rates refreshed", log.FieldSource, src.Name(), "codes", len(rates))
			return rates, nil
		}
		lastErr = err
		p.logger.WarnContext(ctx, "Rate source failed",
			log.FieldSource, src.Name(),
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeUpstream)
	}

	if p.policy == PolicyFail || len(p.fallback) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no rate sources configured")
		}
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, lastErr)
	}

	// Fallback rates are not cached so the next run retries the live sources.
	p.logger.WarnContext(ctx, "Using fallback exchange rates",
		log.FieldSource, "static",
		log.FieldErrorType, log.ErrorTypeUpstream)
	return p.fallback, nil
}

// NewRun returns a Converter for one aggregation pass.
func (p *Provider) NewRun() *Converter {
	return &Converter{provider: p, memo: make(map[core.Currency]decimal.Decimal)}
}

// Converter normalises amounts to ILS for the duration of one aggregation.
// It is safe for concurrent use.
type Converter struct {
	provider *Provider
	mu       sync.Mutex
	memo     map[core.Currency]decimal.Decimal
}

// ToCanonical returns amount expressed in ILS. ILS amounts are returned
// unchanged without a lookup; others are multiplied by the run's rate and
// rounded to agorot.
func (c *Converter) ToCanonical(ctx context.Context, amount decimal.Decimal, code core.Currency) (decimal.Decimal, error) {
	if code == core.Canonical || code == "" {
		return amount, nil
	}
	rate, err := c.rate(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	return core.RoundAgorot(amount.Mul(rate)), nil
}

// Rate returns the run's rate for code (1 for ILS).
func (c *Converter) Rate(ctx context.Context, code core.Currency) (decimal.Decimal, error) {
	if code == core.Canonical || code == "" {
		return decimal.NewFromInt(1), nil
	}
	return c.rate(ctx, code)
}

func (c *Converter) rate(ctx context.Context, code core.Currency) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.memo[code]; ok {
		return r, nil
	}
	rates, err := c.provider.Rates(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	r, ok := rates[code]
	if !ok && c.provider.policy == PolicyFallback {
		r, ok = c.provider.fallback[code]
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, code)
	}
	c.memo[code] = r
	return r, nil
}
