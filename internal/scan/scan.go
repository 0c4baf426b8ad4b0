// Package scan extracts expense details from receipt photos with a
// generative model.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kesefly/internal/core"
	"kesefly/internal/log"
)

// ErrInvalidImage is returned for uploads that do not decode as an image.
var ErrInvalidImage = errors.New("file is not a readable image")

const prompt = `Analyze this invoice/receipt image and extract the following details into a JSON object:
- amount: number (total sum including VAT)
- businessName: string (merchant name)
- date: string (YYYY-MM-DD format, estimate if missing)
- category: string (suggest a category in Hebrew)

Return ONLY the JSON. Do not wrap it in code fences.`

// Generator runs one multimodal prompt against a named model and returns
// the raw text answer.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, image []byte, mimeType string) (string, error)
}

// Receipt is what the model read off the image.
type Receipt struct {
	Amount       decimal.Decimal `json:"amount"`
	BusinessName string          `json:"businessName"`
	Date         time.Time       `json:"date"`
	Category     string          `json:"category"`
	Model        string          `json:"model"`
}

type Scanner struct {
	gen      Generator
	primary  string
	fallback string
	maxEdge  int
	logger   *log.Logger
}

type Config struct {
	PrimaryModel  string
	FallbackModel string
	// MaxEdge bounds the longest image side before upload. Zero means
	// DefaultMaxEdge.
	MaxEdge int
}

func NewScanner(gen Generator, cfg Config, logger *log.Logger) *Scanner {
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.MaxEdge <= 0 {
		cfg.MaxEdge = DefaultMaxEdge
	}
	return &Scanner{
		gen:      gen,
		primary:  cfg.PrimaryModel,
		fallback: cfg.FallbackModel,
		maxEdge:  cfg.MaxEdge,
		logger:   logger.WithComponent(log.ComponentScan),
	}
}

// Scan downscales the image and asks the primary model, retrying once on
// the fallback model. When every model fails the error wraps
// core.ErrUpstream.
func (s *Scanner) Scan(ctx context.Context, image []byte, now time.Time) (Receipt, error) {
	img, mime, err := Downscale(image, s.maxEdge)
	if err != nil {
		return Receipt{}, err
	}

	models := []string{s.primary}
	if s.fallback != "" && s.fallback != s.primary {
		models = append(models, s.fallback)
	}

	var lastErr error
	for i, model := range models {
		r, err := s.extract(ctx, model, img, mime, now)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(models)-1 {
			s.logger.WarnContext(ctx, "Receipt model failed, trying fallback",
				log.FieldModel, model,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeUpstream)
		}
	}
	return Receipt{}, fmt.Errorf("%w: scan receipt: %v", core.ErrUpstream, lastErr)
}

func (s *Scanner) extract(ctx context.Context, model string, img []byte, mime string, now time.Time) (Receipt, error) {
	text, err := s.gen.Generate(ctx, model, prompt, img, mime)
	if err != nil {
		return Receipt{}, err
	}
	r, err := ParseReceipt(text, now)
	if err != nil {
		return Receipt{}, err
	}
	r.Model = model
	return r, nil
}

// ParseReceipt decodes a model answer. Code fences around the JSON are
// tolerated. A missing or malformed date becomes now's date.
func ParseReceipt(text string, now time.Time) (Receipt, error) {
	var raw struct {
		Amount       decimal.Decimal `json:"amount"`
		BusinessName string          `json:"businessName"`
		Date         string          `json:"date"`
		Category     string          `json:"category"`
	}
	clean := cleanModelJSON(text)
	if err := json.Unmarshal([]byte(clean), &raw); err != nil {
		return Receipt{}, fmt.Errorf("decode model answer: %w", err)
	}
	if !raw.Amount.IsPositive() {
		return Receipt{}, fmt.Errorf("model returned amount %s", raw.Amount)
	}

	date, err := time.Parse("2006-01-02", strings.TrimSpace(raw.Date))
	if err != nil {
		y, m, d := now.Date()
		date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return Receipt{
		Amount:       core.RoundAgorot(raw.Amount),
		BusinessName: strings.TrimSpace(raw.BusinessName),
		Date:         date,
		Category:     strings.TrimSpace(raw.Category),
	}, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

// VATFromGross splits the Israeli VAT out of a VAT-inclusive total:
// total - total/(1+rate), rounded to agorot.
func VATFromGross(total, rate decimal.Decimal) decimal.Decimal {
	net := total.DivRound(decimal.NewFromInt(1).Add(rate), 8)
	return core.RoundAgorot(total.Sub(net))
}
