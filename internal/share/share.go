// Package share issues and verifies signed links to public document PDFs.
package share

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTTL = 30 * 24 * time.Hour

// Document kinds a link may point to.
const (
	KindInvoice    = "invoice"
	KindCreditNote = "credit_note"
)

var (
	ErrInvalidToken = errors.New("invalid share token")
	ErrNoSecret     = errors.New("share secret is empty")
)

// Claims identify one document of one user. Subject is the document ID.
type Claims struct {
	jwt.RegisteredClaims
	Kind   string `json:"kind"`
	UserID string `json:"uid"`
}

// Signer signs HS256 tokens with a shared secret.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for the document and its expiry.
func (s *Signer) Issue(kind, userID, documentID string) (string, time.Time, error) {
	if kind != KindInvoice && kind != KindCreditNote {
		return "", time.Time{}, fmt.Errorf("unknown document kind %q", kind)
	}
	now := s.now()
	exp := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   documentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Kind:   kind,
		UserID: userID,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign share token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and expiry. Every failure is reported as
// ErrInvalidToken.
func (s *Signer) Parse(token string) (Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" || c.UserID == "" {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}
