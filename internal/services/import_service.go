package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"paysched/internal/core"
	"paysched/internal/storage"
)

// Default sheet names for import workbooks.
const (
	DefaultModelsSheet  = "Models"
	DefaultPayoutsSheet = "Payouts"
)

var ErrNoImportableSheets = errors.New("workbook has no importable sheets")

// ImportOptions controls what an import applies and where payout rows land.
type ImportOptions struct {
	ModelsSheet  string
	PayoutsSheet string

	// UpdateExisting updates models whose code already exists instead of
	// skipping them.
	UpdateExisting bool

	// Payout rows need a run context: either an existing run or a new one.
	RunID     int64
	CreateRun bool
	Year      int
	Month     int
	Currency  string

	// Preview parses and classifies without writing anything.
	Preview bool
}

// ImportResult reports what an import did (or, in preview, would do).
type ImportResult struct {
	ModelsCreated   int
	ModelsUpdated   int
	ModelsSkipped   int
	PayoutsImported int
	Run             *core.ScheduleRun
	Issues          []core.ValidationIssue
}

// ImportService loads models and payouts from xlsx workbooks.
type ImportService struct {
	storage *storage.Repository
}

func NewImportService(storage *storage.Repository) *ImportService {
	return &ImportService{storage: storage}
}

// Import reads an xlsx workbook with a Models sheet and/or a Payouts sheet in
// the fixed column schemas. Columns outside the schema are ignored. Malformed
// rows become validation issues and the import continues; only structural
// problems (unreadable workbook, missing required header, payout rows without
// a run context) abort it.
func (s *ImportService) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	if opts.ModelsSheet == "" {
		opts.ModelsSheet = DefaultModelsSheet
	}
	if opts.PayoutsSheet == "" {
		opts.PayoutsSheet = DefaultPayoutsSheet
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	result := &ImportResult{}

	var models []core.Model
	if sheetExists(f, opts.ModelsSheet) {
		var issues []core.ValidationIssue
		models, issues, err = parseModelRows(f, opts.ModelsSheet)
		if err != nil {
			return nil, err
		}
		result.Issues = append(result.Issues, issues...)
	}

	var payouts []core.Payout
	if sheetExists(f, opts.PayoutsSheet) {
		var issues []core.ValidationIssue
		payouts, issues, err = parsePayoutRows(f, opts.PayoutsSheet)
		if err != nil {
			return nil, err
		}
		result.Issues = append(result.Issues, issues...)
	}

	if !sheetExists(f, opts.ModelsSheet) && !sheetExists(f, opts.PayoutsSheet) {
		return nil, fmt.Errorf("%w: expected %q or %q", ErrNoImportableSheets,
			opts.ModelsSheet, opts.PayoutsSheet)
	}
	if len(payouts) > 0 && opts.RunID == 0 && !opts.CreateRun {
		return nil, errors.New("payout rows need a run: pass an existing run id or create one")
	}

	if err := s.applyModels(ctx, models, opts, result); err != nil {
		return nil, err
	}
	if err := s.applyPayouts(ctx, payouts, opts, result); err != nil {
		return nil, err
	}

	if !opts.Preview {
		if err := s.recordIssues(ctx, result); err != nil {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "Import finished",
		"preview", opts.Preview,
		"models_created", result.ModelsCreated,
		"models_updated", result.ModelsUpdated,
		"models_skipped", result.ModelsSkipped,
		"payouts_imported", result.PayoutsImported,
		"issues", len(result.Issues))

	return result, nil
}

func (s *ImportService) applyModels(ctx context.Context, models []core.Model, opts ImportOptions, result *ImportResult) error {
	for _, m := range models {
		existing, err := s.storage.GetModelByCode(ctx, m.Code)
		switch {
		case err == nil:
			if !opts.UpdateExisting {
				result.ModelsSkipped++
				continue
			}
			if !opts.Preview {
				m.ID = existing.ID
				if err := s.storage.UpdateModel(ctx, m); err != nil {
					result.Issues = append(result.Issues, importIssue(existing.ID,
						fmt.Sprintf("Model %s: %v", m.Code, err)))
					continue
				}
			}
			result.ModelsUpdated++
		case errors.Is(err, storage.ErrNotFound):
			if !opts.Preview {
				if _, err := s.storage.CreateModel(ctx, m); err != nil {
					result.Issues = append(result.Issues, importIssue(0,
						fmt.Sprintf("Model %s: %v", m.Code, err)))
					continue
				}
			}
			result.ModelsCreated++
		default:
			return err
		}
	}
	return nil
}

func (s *ImportService) applyPayouts(ctx context.Context, payouts []core.Payout, opts ImportOptions, result *ImportResult) error {
	if len(payouts) == 0 {
		return nil
	}

	var run core.ScheduleRun
	var err error
	switch {
	case opts.RunID != 0:
		run, err = s.storage.GetRun(ctx, opts.RunID)
		if err != nil {
			return fmt.Errorf("import run %d: %w", opts.RunID, err)
		}
	case opts.Preview:
		// No run yet; validate what a created run would look like
		run = core.ScheduleRun{Year: opts.Year, Month: opts.Month,
			Currency: normalizeCurrency(opts.Currency)}
		if err := run.Validate(); err != nil {
			return fmt.Errorf("import run: %w", err)
		}
	default:
		run, err = s.storage.CreateRun(ctx, core.ScheduleRun{
			Year:     opts.Year,
			Month:    opts.Month,
			Currency: normalizeCurrency(opts.Currency),
		})
		if err != nil {
			return fmt.Errorf("create import run: %w", err)
		}
	}
	result.Run = &run

	rows := make([]core.Payout, 0, len(payouts))
	for _, p := range payouts {
		p.RunID = run.ID
		// Denormalized fields come from the sheet; the roster fills the gaps
		if m, err := s.storage.GetModelByCode(ctx, p.ModelCode); err == nil {
			p.ModelID = m.ID
			p.RealName = m.RealName
			if p.WorkingName == "" {
				p.WorkingName = m.WorkingName
			}
			if p.PaymentMethod == "" {
				p.PaymentMethod = m.PaymentMethod
			}
			if p.Frequency == "" {
				p.Frequency = m.Frequency
			}
		}
		rows = append(rows, p)
	}

	if !opts.Preview {
		if err := s.storage.InsertPayouts(ctx, rows); err != nil {
			return err
		}
		if err := s.recomputeRunSummary(ctx, run.ID); err != nil {
			return err
		}
		if updated, err := s.storage.GetRun(ctx, run.ID); err == nil {
			result.Run = &updated
		}
	}
	result.PayoutsImported = len(rows)
	return nil
}

// recordIssues persists the collected issues, bound to the run when the
// import had one.
func (s *ImportService) recordIssues(ctx context.Context, result *ImportResult) error {
	if len(result.Issues) == 0 {
		return nil
	}
	issues := make([]core.ValidationIssue, len(result.Issues))
	for i, issue := range result.Issues {
		if result.Run != nil {
			issue.RunID = result.Run.ID
		}
		issues[i] = issue
	}
	return s.storage.CreateIssues(ctx, issues)
}

// recomputeRunSummary rebuilds the run's denormalized summary from its payout
// rows, used after payouts are imported into it.
func (s *ImportService) recomputeRunSummary(ctx context.Context, runID int64) error {
	run, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	payouts, err := s.storage.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		return err
	}

	byCode := map[string]core.Frequency{}
	var total int64
	for _, p := range payouts {
		total += p.Amount.Cents
		if _, seen := byCode[p.ModelCode]; !seen || p.Frequency != "" {
			byCode[p.ModelCode] = p.Frequency
		}
	}
	counts := map[core.Frequency]int{}
	for _, f := range byCode {
		if f != "" {
			counts[f]++
		}
	}

	run.ModelsPaid = len(byCode)
	run.TotalPayout = core.Money{Cents: total}
	run.FrequencyCounts = counts
	return s.storage.UpdateRunSummary(ctx, run)
}

func sheetExists(f *excelize.File, name string) bool {
	idx, err := f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

// parseModelRows reads the Models sheet. Rows that do not parse become
// issues; a missing required header aborts the import.
func parseModelRows(f *excelize.File, sheet string) ([]core.Model, []core.ValidationIssue, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s sheet: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	cols, err := headerIndex(rows[0], modelHeader, []string{"Code", "Status",
		"Real Name", "Working Name", "Start Date", "Payment Method",
		"Payment Frequency", "Monthly Amount"})
	if err != nil {
		return nil, nil, fmt.Errorf("%s sheet: %w", sheet, err)
	}

	var models []core.Model
	var issues []core.ValidationIssue
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}

		m, err := parseModelRow(row, cols)
		if err != nil {
			issues = append(issues, importIssue(0,
				fmt.Sprintf("%s row %d: %v", sheet, i+1, err)))
			continue
		}
		models = append(models, m)
	}
	return models, issues, nil
}

func parseModelRow(row []string, cols map[string]int) (core.Model, error) {
	m := core.Model{
		Code:          cellAt(row, cols["Code"]),
		RealName:      cellAt(row, cols["Real Name"]),
		WorkingName:   cellAt(row, cols["Working Name"]),
		PaymentMethod: cellAt(row, cols["Payment Method"]),
		CryptoWallet:  cellAt(row, cols["Crypto Wallet"]),
	}

	status := cellAt(row, cols["Status"])
	if status == "" {
		m.Status = core.ModelActive
	} else {
		parsed, err := core.ParseModelStatus(status)
		if err != nil {
			return core.Model{}, err
		}
		m.Status = parsed
	}

	start, err := core.ParseDate(cellAt(row, cols["Start Date"]))
	if err != nil {
		return core.Model{}, fmt.Errorf("start date: %w", err)
	}
	m.StartDate = start

	freq, err := core.ParseFrequency(cellAt(row, cols["Payment Frequency"]))
	if err != nil {
		return core.Model{}, err
	}
	m.Frequency = freq

	cents, err := core.ParseDecimalToCents(cellAt(row, cols["Monthly Amount"]))
	if err != nil {
		return core.Model{}, fmt.Errorf("monthly amount %q: %w",
			cellAt(row, cols["Monthly Amount"]), err)
	}
	m.MonthlyAmount = core.Money{Cents: cents}

	if err := m.Validate(); err != nil {
		return core.Model{}, err
	}
	return m, nil
}

// parsePayoutRows reads the Payouts sheet.
func parsePayoutRows(f *excelize.File, sheet string) ([]core.Payout, []core.ValidationIssue, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s sheet: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	cols, err := headerIndex(rows[0], payoutHeader, []string{"Pay Date", "Code", "Amount"})
	if err != nil {
		return nil, nil, fmt.Errorf("%s sheet: %w", sheet, err)
	}

	var payouts []core.Payout
	var issues []core.ValidationIssue
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if blankRow(row) {
			continue
		}

		p, err := parsePayoutRow(row, cols)
		if err != nil {
			issues = append(issues, importIssue(0,
				fmt.Sprintf("%s row %d: %v", sheet, i+1, err)))
			continue
		}
		payouts = append(payouts, p)
	}
	return payouts, issues, nil
}

func parsePayoutRow(row []string, cols map[string]int) (core.Payout, error) {
	p := core.Payout{
		ModelCode:     cellAt(row, cols["Code"]),
		WorkingName:   cellAt(row, cols["Working Name"]),
		PaymentMethod: cellAt(row, cols["Method"]),
		Notes:         cellAt(row, cols["Notes"]),
	}

	d, err := core.ParseDate(cellAt(row, cols["Pay Date"]))
	if err != nil {
		return core.Payout{}, fmt.Errorf("pay date: %w", err)
	}
	p.PayDate = d

	cents, err := core.ParseDecimalToCents(cellAt(row, cols["Amount"]))
	if err != nil {
		return core.Payout{}, fmt.Errorf("amount %q: %w", cellAt(row, cols["Amount"]), err)
	}
	p.Amount = core.Money{Cents: cents}

	if freq := cellAt(row, cols["Frequency"]); freq != "" {
		parsed, err := core.ParseFrequency(freq)
		if err != nil {
			return core.Payout{}, err
		}
		p.Frequency = parsed
	}

	status, err := core.ParsePayoutStatus(cellAt(row, cols["Status"]))
	if err != nil {
		return core.Payout{}, err
	}
	p.Status = status

	if err := p.Validate(); err != nil {
		return core.Payout{}, err
	}
	return p, nil
}

// headerIndex maps known column names to their positions in the header row.
// Columns not in schema are ignored; missing required columns are an error.
func headerIndex(header, schema, required []string) (map[string]int, error) {
	cols := make(map[string]int, len(schema))
	for _, name := range schema {
		cols[name] = -1
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		for _, name := range schema {
			if strings.EqualFold(h, name) {
				cols[name] = i
				break
			}
		}
	}
	for _, name := range required {
		if cols[name] < 0 {
			return nil, fmt.Errorf("missing %q column", name)
		}
	}
	return cols, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func importIssue(modelID int64, message string) core.ValidationIssue {
	return core.ValidationIssue{
		ModelID:  modelID,
		Severity: core.SeverityError,
		Message:  message,
	}
}
