package core

import (
	"testing"
)

func TestDateValidate(t *testing.T) {
	for _, d := range []Date{NewDate(2025, 1, 1), NewDate(2025, 12, 31)} {
		if err := d.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", d.ISO(), err)
		}
	}
	if err := (Date{}).Validate(); err == nil {
		t.Error("Validate(zero date) = nil, want error")
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 125}).Validate(); err != nil {
		t.Errorf("Validate(125 cents) = %v, want nil", err)
	}
	for _, cents := range []int64{0, -100} {
		if err := (Money{Cents: cents}).Validate(); err == nil {
			t.Errorf("Validate(%d cents) = nil, want error", cents)
		}
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2025-08-07", NewDate(2025, 8, 7), true},
		{"08/07/2025", NewDate(2025, 8, 7), true},
		{" 2025-01-31 ", NewDate(2025, 1, 31), true},
		{"31/01/2025", Date{}, false}, // day-first is rejected
		{"2025-13-01", Date{}, false},
		{"", Date{}, false},
	}
	for i, tc := range cases {
		got, err := ParseDate(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(tc.want.Time) {
				t.Fatalf("case %d got %v (err=%v)", i, got, err)
			}
		} else if err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestModelValidate(t *testing.T) {
	good := Model{
		Code:          "M-001",
		RealName:      "Jane Roe",
		WorkingName:   "Star",
		Status:        ModelActive,
		StartDate:     NewDate(2024, 3, 1),
		PaymentMethod: "Wire",
		Frequency:     Weekly,
		MonthlyAmount: Money{Cents: 500000},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bad := func(mutate func(*Model)) Model {
		m := good
		mutate(&m)
		return m
	}
	bads := []Model{
		bad(func(m *Model) { m.Code = "" }),
		bad(func(m *Model) { m.Code = longString(51) }),
		bad(func(m *Model) { m.RealName = "" }),
		bad(func(m *Model) { m.WorkingName = " " }),
		bad(func(m *Model) { m.WorkingName = longString(201) }),
		bad(func(m *Model) { m.Status = "Retired" }),
		bad(func(m *Model) { m.StartDate = Date{} }),
		bad(func(m *Model) { m.PaymentMethod = "" }),
		bad(func(m *Model) { m.Frequency = "daily" }),
		bad(func(m *Model) { m.MonthlyAmount = Money{Cents: 0} }),
		bad(func(m *Model) { m.CryptoWallet = longString(201) }),
	}
	for i, m := range bads {
		if err := m.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		in   string
		want Frequency
		ok   bool
	}{
		{"weekly", Weekly, true},
		{"BIWEEKLY", Biweekly, true},
		{" Monthly ", Monthly, true},
		{"daily", "", false},
		{"", "", false},
	}
	for i, tc := range cases {
		got, err := ParseFrequency(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("case %d got %q (err=%v)", i, got, err)
			}
		} else if err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestParsePayoutStatus(t *testing.T) {
	cases := []struct {
		in   string
		want PayoutStatus
		ok   bool
	}{
		{"paid", PayoutPaid, true},
		{"not_paid", PayoutNotPaid, true},
		{"Not Paid", PayoutNotPaid, true},
		{"On Hold", PayoutOnHold, true},
		{"", PayoutNotPaid, true},
		{"done", "", false},
	}
	for i, tc := range cases {
		got, err := ParsePayoutStatus(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("case %d got %q (err=%v)", i, got, err)
			}
		} else if err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestScheduleRunValidate(t *testing.T) {
	good := ScheduleRun{Year: 2025, Month: 8, Currency: "USD"}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []ScheduleRun{
		{Year: 1999, Month: 8, Currency: "USD"},
		{Year: 2025, Month: 0, Currency: "USD"},
		{Year: 2025, Month: 13, Currency: "USD"},
		{Year: 2025, Month: 8, Currency: ""},
		{Year: 2025, Month: 8, Currency: "TOOLONGCODE"},
	}
	for i, r := range bads {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestScheduleRunCycle(t *testing.T) {
	r := ScheduleRun{Year: 2025, Month: 8}
	if got := r.Cycle(); got != "2025-08" {
		t.Fatalf("cycle: got %q", got)
	}
	if got := r.CycleLabel(); got != "August 2025" {
		t.Fatalf("cycle label: got %q", got)
	}
}

func TestAdhocPaymentValidate(t *testing.T) {
	good := AdhocPayment{
		Description: "Bonus",
		PayDate:     NewDate(2025, 8, 15),
		Amount:      Money{Cents: 10000},
		Status:      PayoutNotPaid,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []AdhocPayment{
		{Description: "", PayDate: NewDate(2025, 8, 15), Amount: Money{Cents: 1}, Status: PayoutNotPaid},
		{Description: "x", PayDate: Date{}, Amount: Money{Cents: 1}, Status: PayoutNotPaid},
		{Description: "x", PayDate: NewDate(2025, 8, 15), Amount: Money{Cents: 0}, Status: PayoutNotPaid},
		{Description: "x", PayDate: NewDate(2025, 8, 15), Amount: Money{Cents: 1}, Status: "done"},
	}
	for i, a := range bads {
		if err := a.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestUsesCrypto(t *testing.T) {
	cases := []struct {
		method string
		want   bool
	}{
		{"Crypto", true},
		{"BTC wallet", true},
		{"usdt", true},
		{"Wire", false},
		{"PayPal", false},
	}
	for i, tc := range cases {
		m := Model{PaymentMethod: tc.method}
		if got := m.UsesCrypto(); got != tc.want {
			t.Fatalf("case %d %q: got %v", i, tc.method, got)
		}
	}
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
