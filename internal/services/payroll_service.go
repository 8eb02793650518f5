package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"paysched/internal/amqp"
	"paysched/internal/core"
	"paysched/internal/storage"
)

// PayrollService orchestrates schedule runs across SQLite and AMQP.
type PayrollService struct {
	storage    *storage.Repository
	amqpClient *amqp.Client
	exports    *ExportService
	exportDir  string
}

// GenerateOptions describes the run to create.
type GenerateOptions struct {
	Year            int
	Month           int
	Currency        string
	IncludeInactive bool
}

// SchedulePlan is the outcome of planning a month before anything is written.
type SchedulePlan struct {
	Payouts         []core.Payout
	Issues          []core.ValidationIssue
	ModelsPaid      int
	Total           core.Money
	FrequencyCounts map[core.Frequency]int
}

// GenerateResult is a created or refreshed run with its rows.
type GenerateResult struct {
	Run     core.ScheduleRun
	Payouts []core.Payout
	Issues  []core.ValidationIssue
}

func NewPayrollService(storage *storage.Repository, amqpClient *amqp.Client, exports *ExportService, exportDir string) *PayrollService {
	return &PayrollService{
		storage:    storage,
		amqpClient: amqpClient,
		exports:    exports,
		exportDir:  exportDir,
	}
}

func (o GenerateOptions) validate() error {
	run := core.ScheduleRun{Year: o.Year, Month: o.Month, Currency: o.Currency}
	return run.Validate()
}

// Preview plans a month against the current roster without writing anything.
func (s *PayrollService) Preview(ctx context.Context, opts GenerateOptions) (*SchedulePlan, error) {
	opts.Currency = normalizeCurrency(opts.Currency)
	if err := opts.validate(); err != nil {
		return nil, err
	}
	models, err := s.eligibleModels(ctx, opts.IncludeInactive)
	if err != nil {
		return nil, err
	}
	return planSchedule(models, opts.Year, opts.Month), nil
}

// Generate creates the run for the target month with its payouts and issues.
// A month that already has a run is rejected with storage.ErrDuplicateRun;
// regeneration is the explicit Refresh operation.
func (s *PayrollService) Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	opts.Currency = normalizeCurrency(opts.Currency)
	if err := opts.validate(); err != nil {
		return nil, err
	}

	models, err := s.eligibleModels(ctx, opts.IncludeInactive)
	if err != nil {
		return nil, err
	}
	plan := planSchedule(models, opts.Year, opts.Month)

	run, err := s.storage.CreateRun(ctx, core.ScheduleRun{
		Year:            opts.Year,
		Month:           opts.Month,
		Currency:        opts.Currency,
		IncludeInactive: opts.IncludeInactive,
		ModelsPaid:      plan.ModelsPaid,
		TotalPayout:     plan.Total,
		FrequencyCounts: plan.FrequencyCounts,
	})
	if err != nil {
		return nil, err
	}

	if err := s.writePlan(ctx, run, plan, nil); err != nil {
		return nil, err
	}

	return s.finishRun(ctx, run, plan)
}

// Refresh regenerates an existing run's payouts against the current roster.
// Status and notes survive for payouts that keep their (model code, pay date)
// identity; so does their mirror bookkeeping, so paid rows are not mirrored
// twice.
func (s *PayrollService) Refresh(ctx context.Context, runID int64) (*GenerateResult, error) {
	run, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	existing, err := s.storage.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		return nil, err
	}
	preserved := make(map[string]core.Payout, len(existing))
	for _, p := range existing {
		preserved[payoutKey(p.ModelCode, p.PayDate)] = p
	}

	models, err := s.eligibleModels(ctx, run.IncludeInactive)
	if err != nil {
		return nil, err
	}
	plan := planSchedule(models, run.Year, run.Month)

	if err := s.storage.DeletePayoutsByRun(ctx, runID); err != nil {
		return nil, err
	}
	if err := s.storage.DeleteIssuesByRun(ctx, runID); err != nil {
		return nil, err
	}
	if err := s.writePlan(ctx, run, plan, preserved); err != nil {
		return nil, err
	}

	run.ModelsPaid = plan.ModelsPaid
	run.TotalPayout = plan.Total
	run.FrequencyCounts = plan.FrequencyCounts

	slog.InfoContext(ctx, "Schedule run refreshed",
		"run_id", run.ID,
		"cycle", run.Cycle(),
		"payouts", len(plan.Payouts),
		"preserved", len(preserved))

	return s.finishRun(ctx, run, plan)
}

// writePlan stores the plan's payouts and issues under the run, carrying over
// status, notes and mirror state for preserved rows.
func (s *PayrollService) writePlan(ctx context.Context, run core.ScheduleRun, plan *SchedulePlan, preserved map[string]core.Payout) error {
	payouts := make([]core.Payout, len(plan.Payouts))
	for i, p := range plan.Payouts {
		p.RunID = run.ID
		if prev, ok := preserved[payoutKey(p.ModelCode, p.PayDate)]; ok {
			p.Status = prev.Status
			p.Notes = prev.Notes
			p.MirrorStatus = prev.MirrorStatus
		}
		payouts[i] = p
	}
	if err := s.storage.InsertPayouts(ctx, payouts); err != nil {
		return err
	}

	issues := make([]core.ValidationIssue, len(plan.Issues))
	for i, issue := range plan.Issues {
		issue.RunID = run.ID
		issues[i] = issue
	}
	return s.storage.CreateIssues(ctx, issues)
}

// finishRun writes the export bundle, persists the summary and announces the
/// run. Export and publish failures are logged, not returned: the run itself
// is already committed.
func (s *PayrollService) finishRun(ctx context.Context, run core.ScheduleRun, plan *SchedulePlan) (*GenerateResult, error) {
	if s.exports != nil && s.exportDir != "" {
		path, err := s.exports.WriteRunBundle(ctx, run, s.exportDir)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to write export bundle",
				"run_id", run.ID, "error", err)
		} else {
			run.ExportPath = path
		}
	}

	if err := s.storage.UpdateRunSummary(ctx, run); err != nil {
		return nil, err
	}

	s.publishRunCompleted(ctx, run)

	payouts, err := s.storage.ListPayouts(ctx, run.ID, storage.PayoutFilter{})
	if err != nil {
		return nil, err
	}
	issues, err := s.storage.ListIssuesByRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Run: run, Payouts: payouts, Issues: issues}, nil
}

// DeleteRun removes the run with everything attached to it.
func (s *PayrollService) DeleteRun(ctx context.Context, runID int64) error {
	return s.storage.DeleteRun(ctx, runID)
}

// BulkUpdateStatus moves the selected payouts of a run to the given status and
// returns how many rows changed. Newly paid payouts are announced so the
// mirror worker picks them up.
func (s *PayrollService) BulkUpdateStatus(ctx context.Context, runID int64, ids []int64, status core.PayoutStatus) (int64, error) {
	switch status {
	case core.PayoutNotPaid, core.PayoutPaid, core.PayoutOnHold:
	default:
		return 0, core.ErrInvalidStatus
	}

	changed, err := s.storage.UpdatePayoutStatuses(ctx, runID, ids, status)
	if err != nil {
		return 0, err
	}

	if status == core.PayoutPaid && changed > 0 {
		for _, id := range ids {
			if err := s.publishPayoutSync(ctx, id, runID); err != nil {
				slog.ErrorContext(ctx, "Failed to publish payout sync message",
					"payout_id", id, "run_id", runID, "error", err)
				// Don't fail the request, the sweep catches unannounced payouts
			}
		}
	}

	return changed, nil
}

// UpdateNote sets a payout's note.
func (s *PayrollService) UpdateNote(ctx context.Context, runID, payoutID int64, notes string) error {
	return s.storage.UpdatePayoutNote(ctx, runID, payoutID, notes)
}

func (s *PayrollService) publishPayoutSync(ctx context.Context, id, runID int64) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping payout sync message")
		return nil
	}
	return s.amqpClient.PublishPayoutSync(ctx, id, runID)
}

func (s *PayrollService) publishRunCompleted(ctx context.Context, run core.ScheduleRun) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping run completed message")
		return
	}
	msg := amqp.NewRunCompletedMessage(run.ID, run.Year, run.Month,
		run.ModelsPaid, run.TotalPayout.Cents, run.Currency)
	if err := s.amqpClient.PublishRunCompleted(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish run completed message",
			"run_id", run.ID, "error", err)
	}
}

func (s *PayrollService) eligibleModels(ctx context.Context, includeInactive bool) ([]core.Model, error) {
	filter := storage.ModelFilter{}
	if !includeInactive {
		filter.Status = core.ModelActive
	}
	models, err := s.storage.ListModels(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list models for schedule: %w", err)
	}
	return models, nil
}

// Close closes both storage and AMQP connections
func (s *PayrollService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close payroll service: %v", errs)
	}

	return nil
}

// planSchedule plans every model's month. Models that cannot be scheduled get
// an error issue and are skipped; crypto payees without a wallet get a
// warning but are scheduled anyway.
func planSchedule(models []core.Model, year, month int) *SchedulePlan {
	plan := &SchedulePlan{FrequencyCounts: map[core.Frequency]int{}}

	for _, m := range models {
		if err := m.MonthlyAmount.Validate(); err != nil {
			plan.Issues = append(plan.Issues, core.ValidationIssue{
				ModelID:  m.ID,
				Severity: core.SeverityError,
				Message:  fmt.Sprintf("Model %s: monthly amount must be positive", m.Code),
			})
			continue
		}

		installments, err := core.PlanMonth(m, year, month)
		if err != nil {
			plan.Issues = append(plan.Issues, core.ValidationIssue{
				ModelID:  m.ID,
				Severity: core.SeverityError,
				Message:  fmt.Sprintf("Model %s: unknown payment frequency %q", m.Code, m.Frequency),
			})
			continue
		}

		if m.UsesCrypto() && strings.TrimSpace(m.CryptoWallet) == "" {
			plan.Issues = append(plan.Issues, core.ValidationIssue{
				ModelID:  m.ID,
				Severity: core.SeverityWarning,
				Message:  fmt.Sprintf("Model %s: crypto payment method without a wallet address", m.Code),
			})
		}

		for _, inst := range installments {
			plan.Payouts = append(plan.Payouts, core.Payout{
				ModelID:       m.ID,
				PayDate:       inst.PayDate,
				ModelCode:     m.Code,
				RealName:      m.RealName,
				WorkingName:   m.WorkingName,
				PaymentMethod: m.PaymentMethod,
				Frequency:     m.Frequency,
				Amount:        inst.Amount,
				Status:        core.PayoutNotPaid,
				Adjusted:      inst.Adjusted,
			})
		}

		plan.ModelsPaid++
		plan.Total.Cents += m.MonthlyAmount.Cents
		plan.FrequencyCounts[m.Frequency]++
	}

	return plan
}

func payoutKey(code string, d core.Date) string {
	return code + "|" + d.ISO()
}

func normalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
