package core

import (
	"fmt"
	"time"
)

// PlannedPayout is one installment produced by planning a model's month.
type PlannedPayout struct {
	PayDate  Date
	Amount   Money
	Adjusted bool
}

// MonthEnd returns the last day of the month.
func MonthEnd(year, month int) Date {
	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Date{Time: first.AddDate(0, 1, -1)}
}

// PayDates returns the pay dates of a month: the 7th, the 14th, the 21st and
// the last day.
func PayDates(year, month int) ([]Date, error) {
	if month < 1 || month > 12 {
		return nil, ErrInvalidMonth
	}
	return []Date{
		NewDate(year, month, 7),
		NewDate(year, month, 14),
		NewDate(year, month, 21),
		MonthEnd(year, month),
	}, nil
}

// InstallmentSlots maps a payment frequency onto indexes into the month's pay
// dates. Weekly pays on all four, biweekly on the 14th and the last day,
// monthly on the last day only. Unknown frequencies get no slots.
func InstallmentSlots(f Frequency) []int {
	switch f {
	case Weekly:
		return []int{0, 1, 2, 3}
	case Biweekly:
		return []int{1, 3}
	case Monthly:
		return []int{3}
	default:
		return nil
	}
}

// SplitAmount divides an amount evenly across n installments in whole cents,
// folding any remainder into the last one. The bool reports whether the last
// installment absorbed a remainder.
func SplitAmount(total Money, n int) ([]Money, bool) {
	if n <= 0 {
		return nil, false
	}
	base := total.Cents / int64(n)
	out := make([]Money, n)
	for i := range out {
		out[i] = Money{Cents: base}
	}
	last := total.Cents - base*int64(n-1)
	out[n-1] = Money{Cents: last}
	return out, last != base
}

// PlanMonth computes the installments owed to a model for the target month.
// The amounts always sum to the model's monthly amount.
func PlanMonth(m Model, year, month int) ([]PlannedPayout, error) {
	dates, err := PayDates(year, month)
	if err != nil {
		return nil, err
	}
	slots := InstallmentSlots(m.Frequency)
	if len(slots) == 0 {
		return nil, fmt.Errorf("model %s: %w", m.Code, ErrInvalidFrequency)
	}
	amounts, adjusted := SplitAmount(m.MonthlyAmount, len(slots))
	out := make([]PlannedPayout, len(slots))
	for i, slot := range slots {
		out[i] = PlannedPayout{PayDate: dates[slot], Amount: amounts[i]}
	}
	if adjusted {
		out[len(out)-1].Adjusted = true
	}
	return out, nil
}

// PayDateLabel renders a pay date the way schedules display it, with the last
// day of the month shown as "End of Month".
func PayDateLabel(d Date) string {
	if d.Day() == MonthEnd(d.Year(), d.Month()).Day() {
		return "End of Month"
	}
	return ordinal(d.Day())
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
