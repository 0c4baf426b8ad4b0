package core

import "strings"

// Frequency is how often a recurring series produces a child item.
type Frequency string

const (
	Monthly   Frequency = "MONTHLY"
	Bimonthly Frequency = "BIMONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Yearly    Frequency = "YEARLY"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	if f == "" {
		return Monthly, nil
	}
	if !f.Valid() {
		return "", ErrInvalidSeries
	}
	return f, nil
}

func (f Frequency) Valid() bool {
	switch f {
	case Monthly, Bimonthly, Quarterly, Yearly:
		return true
	}
	return false
}

// Months is the step between two occurrences.
func (f Frequency) Months() int {
	switch f {
	case Bimonthly:
		return 2
	case Quarterly:
		return 3
	case Yearly:
		return 12
	}
	return 1
}
