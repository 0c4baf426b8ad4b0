package openformat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ErrFieldOverflow is returned when a numeric value does not fit its
// fixed-width field. Text is truncated instead.
var ErrFieldOverflow = errors.New("value does not fit field width")

// recordWriter appends fixed-width records and numbers them.
type recordWriter struct {
	b      strings.Builder
	taxID  string
	lines  int
	counts map[string]int
	err    error
}

func newRecordWriter(taxID string) *recordWriter {
	return &recordWriter{taxID: taxID, counts: make(map[string]int)}
}

// record starts a new line: code(4) + running record number(9) + issuer
// tax ID(9).
func (w *recordWriter) record(code string) *fieldWriter {
	w.lines++
	w.counts[code]++
	f := &fieldWriter{w: w}
	f.b.WriteString(code)
	f.num(int64(w.lines), 9)
	f.b.WriteString(w.taxID)
	return f
}

type fieldWriter struct {
	w *recordWriter
	b strings.Builder
}

// end terminates the record with CRLF.
func (f *fieldWriter) end() {
	f.w.b.WriteString(f.b.String())
	f.w.b.WriteString("\r\n")
}

func (f *fieldWriter) fail(err error) {
	if f.w.err == nil {
		f.w.err = err
	}
}

// text writes s left-justified and space-padded to width runes.
func (f *fieldWriter) text(s string, width int) *fieldWriter {
	s = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' || r == '\t' {
			return ' '
		}
		return r
	}, s)
	if n := utf8.RuneCountInString(s); n > width {
		s = string([]rune(s)[:width])
	} else {
		s += strings.Repeat(" ", width-n)
	}
	f.b.WriteString(s)
	return f
}

// num writes a non-negative integer right-justified and zero-padded.
func (f *fieldWriter) num(n int64, width int) *fieldWriter {
	s := strconv.FormatInt(n, 10)
	if n < 0 || len(s) > width {
		f.fail(fmt.Errorf("%w: %d in %d digits", ErrFieldOverflow, n, width))
		s = strings.Repeat("9", width)
	}
	f.b.WriteString(strings.Repeat("0", width-len(s)))
	f.b.WriteString(s)
	return f
}

// digits writes a numeric string such as a tax ID, zero-padded on the
// left. An empty value becomes spaces.
func (f *fieldWriter) digits(s string, width int) *fieldWriter {
	if s == "" {
		return f.text("", width)
	}
	if len(s) > width {
		f.fail(fmt.Errorf("%w: %q in %d digits", ErrFieldOverflow, s, width))
		s = s[len(s)-width:]
	}
	f.b.WriteString(strings.Repeat("0", width-len(s)))
	f.b.WriteString(s)
	return f
}

// signed writes a sign character followed by the absolute value scaled by
// 10^decimals, zero-padded to width-1 digits.
func (f *fieldWriter) signed(d decimal.Decimal, decimals int32, width int) *fieldWriter {
	sign := "+"
	if d.IsNegative() {
		sign = "-"
	}
	scaled := d.Abs().Shift(decimals).Round(0).String()
	if len(scaled) > width-1 {
		f.fail(fmt.Errorf("%w: %s in %d digits", ErrFieldOverflow, d, width-1))
		scaled = strings.Repeat("9", width-1)
	}
	f.b.WriteString(sign)
	f.b.WriteString(strings.Repeat("0", width-1-len(scaled)))
	f.b.WriteString(scaled)
	return f
}

func (f *fieldWriter) raw(s string) *fieldWriter {
	f.b.WriteString(s)
	return f
}
