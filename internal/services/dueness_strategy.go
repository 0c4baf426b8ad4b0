package services

import (
	"fmt"
	"time"

	"kesefly/internal/core"
)

// DuenessChecker decides whether a series started in start produces a
// child in month ym. One checker exists per frequency.
type DuenessChecker interface {
	IsDue(start, ym core.YearMonth) bool
}

// StepChecker is due every Months months counted from the start month,
// the start month included.
type StepChecker struct {
	Months int
}

func (c StepChecker) IsDue(start, ym core.YearMonth) bool {
	if c.Months <= 0 || ym.Before(start) {
		return false
	}
	return start.MonthsUntil(ym)%c.Months == 0
}

var duenessStrategies = map[core.Frequency]DuenessChecker{
	core.Monthly:   StepChecker{Months: core.Monthly.Months()},
	core.Bimonthly: StepChecker{Months: core.Bimonthly.Months()},
	core.Quarterly: StepChecker{Months: core.Quarterly.Months()},
	core.Yearly:    StepChecker{Months: core.Yearly.Months()},
}

// GetDuenessChecker returns the checker of a frequency. An empty
// frequency is monthly.
func GetDuenessChecker(frequency core.Frequency) (DuenessChecker, error) {
	if frequency == "" {
		frequency = core.Monthly
	}
	checker, ok := duenessStrategies[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown recurring frequency: %s", frequency)
	}
	return checker, nil
}

// RegisterDuenessChecker adds or replaces the checker of a frequency.
func RegisterDuenessChecker(frequency core.Frequency, checker DuenessChecker) {
	duenessStrategies[frequency] = checker
}

// occurrenceDate is the start date's day moved into ym, clamped to the
// month's last day.
func occurrenceDate(start time.Time, ym core.YearMonth) time.Time {
	day := start.Day()
	last := ym.FirstDay().AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(ym.Year, time.Month(ym.Month), day, 0, 0, 0, 0, time.UTC)
}
