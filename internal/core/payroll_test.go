package core

import (
	"errors"
	"testing"
)

func TestPayDates(t *testing.T) {
	dates, err := PayDates(2025, 8)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	want := []Date{
		NewDate(2025, 8, 7),
		NewDate(2025, 8, 14),
		NewDate(2025, 8, 21),
		NewDate(2025, 8, 31),
	}
	if len(dates) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(dates))
	}
	for i := range want {
		if !dates[i].Equal(want[i].Time) {
			t.Fatalf("date %d: expected %s, got %s", i, want[i].ISO(), dates[i].ISO())
		}
	}

	// Month end follows the calendar, including leap years.
	feb24, _ := PayDates(2024, 2)
	if feb24[3].Day() != 29 {
		t.Fatalf("feb 2024 end: got %d", feb24[3].Day())
	}
	feb25, _ := PayDates(2025, 2)
	if feb25[3].Day() != 28 {
		t.Fatalf("feb 2025 end: got %d", feb25[3].Day())
	}

	if _, err := PayDates(2025, 13); err == nil {
		t.Fatalf("expected error for month 13")
	}
	if _, err := PayDates(2025, 0); err == nil {
		t.Fatalf("expected error for month 0")
	}
}

func TestInstallmentSlots(t *testing.T) {
	cases := []struct {
		f    Frequency
		want []int
	}{
		{Weekly, []int{0, 1, 2, 3}},
		{Biweekly, []int{1, 3}},
		{Monthly, []int{3}},
		{"daily", nil},
		{"", nil},
	}
	for i, tc := range cases {
		got := InstallmentSlots(tc.f)
		if len(got) != len(tc.want) {
			t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
		}
		for j := range tc.want {
			if got[j] != tc.want[j] {
				t.Fatalf("case %d: expected %v, got %v", i, tc.want, got)
			}
		}
	}
}

func TestSplitAmount(t *testing.T) {
	cases := []struct {
		cents    int64
		n        int
		last     int64
		adjusted bool
	}{
		{100000, 4, 25000, false},
		{100001, 4, 25001, true},
		{100003, 4, 25003, true},
		{100, 1, 100, false},
		{99, 2, 50, true}, // 49 + 50
	}
	for i, tc := range cases {
		parts, adjusted := SplitAmount(Money{Cents: tc.cents}, tc.n)
		if len(parts) != tc.n {
			t.Fatalf("case %d: expected %d parts, got %d", i, tc.n, len(parts))
		}
		var sum int64
		for _, p := range parts {
			sum += p.Cents
		}
		if sum != tc.cents {
			t.Fatalf("case %d: parts sum to %d, want %d", i, sum, tc.cents)
		}
		if parts[tc.n-1].Cents != tc.last {
			t.Fatalf("case %d: last part %d, want %d", i, parts[tc.n-1].Cents, tc.last)
		}
		if adjusted != tc.adjusted {
			t.Fatalf("case %d: adjusted=%v, want %v", i, adjusted, tc.adjusted)
		}
	}

	if parts, _ := SplitAmount(Money{Cents: 100}, 0); parts != nil {
		t.Fatalf("expected nil for n=0")
	}
}

func TestPlanMonth(t *testing.T) {
	model := Model{
		Code:          "M-001",
		Frequency:     Weekly,
		MonthlyAmount: Money{Cents: 100001},
	}
	plan, err := PlanMonth(model, 2025, 8)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("expected 4 installments, got %d", len(plan))
	}
	var sum int64
	for _, p := range plan {
		sum += p.Amount.Cents
	}
	if sum != 100001 {
		t.Fatalf("installments sum to %d", sum)
	}
	if !plan[3].Adjusted {
		t.Fatalf("expected last installment adjusted")
	}
	if plan[0].Adjusted || plan[1].Adjusted || plan[2].Adjusted {
		t.Fatalf("only the last installment may be adjusted")
	}
	if plan[3].PayDate.Day() != 31 {
		t.Fatalf("last installment on day %d", plan[3].PayDate.Day())
	}

	model.Frequency = Monthly
	model.MonthlyAmount = Money{Cents: 100000}
	plan, err = PlanMonth(model, 2025, 2)
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if len(plan) != 1 || plan[0].PayDate.Day() != 28 || plan[0].Amount.Cents != 100000 {
		t.Fatalf("monthly plan wrong: %+v", plan)
	}
	if plan[0].Adjusted {
		t.Fatalf("single installment must not be adjusted")
	}

	model.Frequency = "quarterly"
	if _, err := PlanMonth(model, 2025, 8); !errors.Is(err, ErrInvalidFrequency) {
		t.Fatalf("expected ErrInvalidFrequency, got %v", err)
	}
}

func TestPayDateLabel(t *testing.T) {
	cases := []struct {
		d    Date
		want string
	}{
		{NewDate(2025, 8, 7), "7th"},
		{NewDate(2025, 8, 14), "14th"},
		{NewDate(2025, 8, 21), "21st"},
		{NewDate(2025, 8, 31), "End of Month"},
		{NewDate(2025, 2, 28), "End of Month"},
		{NewDate(2024, 2, 28), "28th"}, // leap year, not the end
		{NewDate(2025, 8, 2), "2nd"},
		{NewDate(2025, 8, 3), "3rd"},
		{NewDate(2025, 8, 11), "11th"},
	}
	for i, tc := range cases {
		if got := PayDateLabel(tc.d); got != tc.want {
			t.Fatalf("case %d: expected %q, got %q", i, tc.want, got)
		}
	}
}

func TestRunTotalsStatus(t *testing.T) {
	cases := []struct {
		totals RunTotals
		want   string
	}{
		{RunTotals{TotalCount: 0, PaidCount: 0}, "Empty"},
		{RunTotals{TotalCount: 4, PaidCount: 4}, "Paid"},
		{RunTotals{TotalCount: 4, PaidCount: 1}, "Partial"},
		{RunTotals{TotalCount: 4, PaidCount: 0}, "Unpaid"},
	}
	for i, tc := range cases {
		if got := tc.totals.Status(); got != tc.want {
			t.Fatalf("case %d: expected %q, got %q", i, tc.want, got)
		}
	}
}
