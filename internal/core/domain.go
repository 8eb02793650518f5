// Package core holds the payroll domain: models, schedule runs, payouts
// and the calendar rules that produce pay dates, free of transport and
// storage concerns.
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ModelActive   ModelStatus = "Active"
	ModelInactive ModelStatus = "Inactive"
)

const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

const (
	PayoutNotPaid PayoutStatus = "not_paid"
	PayoutPaid    PayoutStatus = "paid"
	PayoutOnHold  PayoutStatus = "on_hold"
)

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

const (
	MirrorPending MirrorStatus = "pending"
	MirrorSynced  MirrorStatus = "synced"
	MirrorError   MirrorStatus = "error"
)

type (
	ModelStatus  string
	Frequency    string
	PayoutStatus string
	Severity     string
	Role         string
	MirrorStatus string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Model is a payee on the payroll roster.
	Model struct {
		ID            int64
		Code          string
		RealName      string
		WorkingName   string
		Status        ModelStatus
		StartDate     Date
		PaymentMethod string
		Frequency     Frequency
		MonthlyAmount Money
		CryptoWallet  string
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// ScheduleRun is one executed payroll cycle for a target month.
	ScheduleRun struct {
		ID              int64
		Year            int
		Month           int // 1-12
		Currency        string
		IncludeInactive bool
		ModelsPaid      int
		TotalPayout     Money
		FrequencyCounts map[Frequency]int
		ExportPath      string
		CreatedAt       time.Time
	}

	// Payout is a single installment owed to a model within a run. The model
	// fields are denormalized so the row stays meaningful after the payee is
	// deleted (ModelID becomes 0).
	Payout struct {
		ID            int64
		RunID         int64
		ModelID       int64
		PayDate       Date
		ModelCode     string
		RealName      string
		WorkingName   string
		PaymentMethod string
		Frequency     Frequency
		Amount        Money
		Status        PayoutStatus
		Notes         string
		Adjusted      bool
		MirrorStatus  MirrorStatus
		MirroredAt    time.Time
	}

	// AdhocPayment is a one-off payment outside the regular schedule.
	AdhocPayment struct {
		ID          int64
		ModelID     int64
		ModelCode   string
		Description string
		PayDate     Date
		Amount      Money
		Status      PayoutStatus
		CreatedAt   time.Time
	}

	// ValidationIssue records a data problem encountered while scheduling or
	// importing. RunID and ModelID are 0 when the issue is not tied to one.
	ValidationIssue struct {
		ID        int64
		RunID     int64
		ModelID   int64
		Severity  Severity
		Message   string
		CreatedAt time.Time
	}

	User struct {
		ID           int64
		Username     string
		PasswordHash string
		Role         Role
		CreatedAt    time.Time
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyCode        = errors.New("empty code")
	ErrEmptyWorkingName = errors.New("empty working name")
	ErrEmptyMethod      = errors.New("empty payment method")
	ErrInvalidFrequency = errors.New("invalid payment frequency")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidRole      = errors.New("invalid role")
)

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	switch _, month, day := d.Date(); {
	case day < 1 || day > 31:
		return ErrInvalidDay
	case month < 1 || month > 12:
		return ErrInvalidMonth
	}
	return nil
}

// NewDate builds a Date at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Day() int   { return d.Time.Day() }
func (d Date) Month() int { return int(d.Time.Month()) }
func (d Date) Year() int  { return d.Time.Year() }

// IsEmpty reports whether an optional date was left unset.
func (d Date) IsEmpty() bool { return d.IsZero() }

// ISO renders the date as YYYY-MM-DD, the storage and export format.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// Display renders the date as MM/DD/YYYY, the format the screens use.
func (d Date) Display() string {
	return d.Format("01/02/2006")
}

// ParseDate accepts YYYY-MM-DD or MM/DD/YYYY.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Date{Time: t.UTC()}, nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// ParseModelStatus accepts any casing of Active/Inactive.
func ParseModelStatus(s string) (ModelStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return ModelActive, nil
	case "inactive":
		return ModelInactive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// ParseFrequency normalizes to the lowercase canonical values.
func ParseFrequency(s string) (Frequency, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(s))) {
	case Weekly:
		return Weekly, nil
	case Biweekly:
		return Biweekly, nil
	case Monthly:
		return Monthly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
	}
}

// ParsePayoutStatus accepts canonical values plus the spaced display form
// ("not paid", "on hold"). An empty string maps to not_paid.
func ParsePayoutStatus(s string) (PayoutStatus, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch PayoutStatus(norm) {
	case PayoutNotPaid, PayoutPaid, PayoutOnHold:
		return PayoutStatus(norm), nil
	}
	if norm == "" {
		return PayoutNotPaid, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Label renders a payout status for display ("not_paid" -> "Not Paid").
func (s PayoutStatus) Label() string {
	switch s {
	case PayoutNotPaid:
		return "Not Paid"
	case PayoutPaid:
		return "Paid"
	case PayoutOnHold:
		return "On Hold"
	default:
		return string(s)
	}
}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (m Model) Validate() error {
	code := strings.TrimSpace(m.Code)
	if code == "" {
		return ErrEmptyCode
	}
	if len(code) > 50 {
		return errors.New("code too long (max 50 characters)")
	}
	if strings.TrimSpace(m.RealName) == "" {
		return errors.New("empty real name")
	}
	if len(m.RealName) > 200 {
		return errors.New("real name too long (max 200 characters)")
	}
	if strings.TrimSpace(m.WorkingName) == "" {
		return ErrEmptyWorkingName
	}
	if len(m.WorkingName) > 200 {
		return errors.New("working name too long (max 200 characters)")
	}
	switch m.Status {
	case ModelActive, ModelInactive:
	default:
		return ErrInvalidStatus
	}
	if err := m.StartDate.Validate(); err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	if strings.TrimSpace(m.PaymentMethod) == "" {
		return ErrEmptyMethod
	}
	if len(m.PaymentMethod) > 100 {
		return errors.New("payment method too long (max 100 characters)")
	}
	switch m.Frequency {
	case Weekly, Biweekly, Monthly:
	default:
		return ErrInvalidFrequency
	}
	if err := m.MonthlyAmount.Validate(); err != nil {
		return err
	}
	if len(m.CryptoWallet) > 200 {
		return errors.New("crypto wallet too long (max 200 characters)")
	}
	return nil
}

// UsesCrypto reports whether the payment method looks crypto-based, which is
// when a missing wallet becomes a scheduling warning.
func (m Model) UsesCrypto() bool {
	method := strings.ToLower(m.PaymentMethod)
	return strings.Contains(method, "crypto") ||
		strings.Contains(method, "btc") ||
		strings.Contains(method, "eth") ||
		strings.Contains(method, "usdt")
}

func (r ScheduleRun) Validate() error {
	if r.Year < 2000 || r.Year > 2100 {
		return ErrInvalidYear
	}
	if r.Month < 1 || r.Month > 12 {
		return ErrInvalidMonth
	}
	if strings.TrimSpace(r.Currency) == "" {
		return errors.New("empty currency")
	}
	if len(r.Currency) > 8 {
		return errors.New("currency too long (max 8 characters)")
	}
	return nil
}

// Cycle returns the run's YYYY-MM identifier.
func (r ScheduleRun) Cycle() string {
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

// CycleLabel returns the run's month spelled out, e.g. "August 2025".
func (r ScheduleRun) CycleLabel() string {
	return fmt.Sprintf("%s %d", time.Month(r.Month), r.Year)
}

func (p Payout) Validate() error {
	if strings.TrimSpace(p.ModelCode) == "" {
		return ErrEmptyCode
	}
	if err := p.PayDate.Validate(); err != nil {
		return fmt.Errorf("invalid pay date: %w", err)
	}
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	switch p.Status {
	case PayoutNotPaid, PayoutPaid, PayoutOnHold:
	default:
		return ErrInvalidStatus
	}
	return nil
}

func (a AdhocPayment) Validate() error {
	if strings.TrimSpace(a.Description) == "" {
		return errors.New("empty description")
	}
	if len(a.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := a.PayDate.Validate(); err != nil {
		return fmt.Errorf("invalid pay date: %w", err)
	}
	if err := a.Amount.Validate(); err != nil {
		return err
	}
	switch a.Status {
	case PayoutNotPaid, PayoutPaid, PayoutOnHold:
	default:
		return ErrInvalidStatus
	}
	return nil
}

func (u User) Validate() error {
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return errors.New("empty username")
	}
	if len(username) > 50 {
		return errors.New("username too long (max 50 characters)")
	}
	switch u.Role {
	case RoleAdmin, RoleUser:
	default:
		return ErrInvalidRole
	}
	return nil
}
