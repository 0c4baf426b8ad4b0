package core

import (
	"fmt"
	"strings"
	"time"
)

// Scope selects one of a user's two parallel ledgers.
type Scope string

const (
	ScopePersonal Scope = "PERSONAL"
	ScopeBusiness Scope = "BUSINESS"
)

// ParseScope accepts PERSONAL or BUSINESS in any case. An empty string
// yields def.
func ParseScope(s string, def Scope) (Scope, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	switch Scope(s) {
	case ScopePersonal, ScopeBusiness:
		return Scope(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

func (s Scope) Valid() bool {
	return s == ScopePersonal || s == ScopeBusiness
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func NewYearMonth(year, month int) (YearMonth, error) {
	ym := YearMonth{Year: year, Month: month}
	return ym, ym.Validate()
}

// YearMonthOf returns the month t falls in.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: int(t.Month())}
}

func (ym YearMonth) Validate() error {
	if ym.Month < 1 || ym.Month > 12 {
		return ErrInvalidMonth
	}
	if ym.Year < 1970 || ym.Year > 9999 {
		return ErrInvalidYear
	}
	return nil
}

// Compare returns -1, 0 or +1.
func (ym YearMonth) Compare(other YearMonth) int {
	a, b := ym.index(), other.index()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }

func (ym YearMonth) After(other YearMonth) bool { return ym.Compare(other) > 0 }

func (ym YearMonth) Next() YearMonth { return ym.AddMonths(1) }

func (ym YearMonth) AddMonths(n int) YearMonth {
	i := ym.index() + n
	return YearMonth{Year: i / 12, Month: i%12 + 1}
}

// MonthsUntil returns the number of months from ym to other (negative if
// other is earlier).
func (ym YearMonth) MonthsUntil(other YearMonth) int {
	return other.index() - ym.index()
}

// FirstDay returns midnight UTC on the first of the month.
func (ym YearMonth) FirstDay() time.Time {
	return time.Date(ym.Year, time.Month(ym.Month), 1, 0, 0, 0, 0, time.UTC)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

func (ym YearMonth) index() int { return ym.Year*12 + ym.Month - 1 }
