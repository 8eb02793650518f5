package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"paysched/internal/core"
	"paysched/internal/storage"
)

// Shared column schemas. Imports read these exact headers and exports write
// them, which is what keeps export(import(X)) lossless for recognized fields.
var (
	modelHeader = []string{"Code", "Status", "Real Name", "Working Name",
		"Start Date", "Payment Method", "Payment Frequency", "Monthly Amount",
		"Crypto Wallet"}
	payoutHeader = []string{"Pay Date", "Code", "Working Name", "Method",
		"Frequency", "Amount", "Status", "Notes"}
	modelExportHeader = []string{"Code", "Status", "Real Name", "Working Name",
		"Start Date", "Payment Method", "Payment Frequency", "Monthly Amount",
		"Crypto Wallet", "Pay Date", "Amount", "Payment Status", "Notes"}
	validationHeader = []string{"Severity", "Message", "Model Code", "Created"}
	runsTableHeader  = []string{"Run ID", "Cycle", "Created", "Status",
		"Currency", "Models Paid", "Total Payout", "Paid", "Outstanding",
		"Frequency Mix"}
)

// Bundle file names inside the run's export directory.
const (
	bundleWorkbookName   = "schedule.xlsx"
	bundleModelsName     = "models.csv"
	bundleValidationName = "validation.csv"
)

// ExportService renders schedule data into workbook, CSV and calendar files.
type ExportService struct {
	storage *storage.Repository
}

func NewExportService(storage *storage.Repository) *ExportService {
	return &ExportService{storage: storage}
}

// BuildRunWorkbook renders a run into an xlsx workbook with a Payouts sheet
// in the import column schema and a Summary sheet. The caller owns the file
// and must Close it.
func (s *ExportService) BuildRunWorkbook(ctx context.Context, runID int64) (*excelize.File, error) {
	run, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	payouts, err := s.storage.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()

	idx, err := f.NewSheet("Payouts")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create payouts sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})

	for i, h := range payoutHeader {
		cell := cellRef(i+1, 1)
		f.SetCellValue("Payouts", cell, h)
		f.SetCellStyle("Payouts", cell, cell, headerStyle)
	}
	for r, p := range payouts {
		row := r + 2
		f.SetCellValue("Payouts", cellRef(1, row), p.PayDate.ISO())
		f.SetCellValue("Payouts", cellRef(2, row), p.ModelCode)
		f.SetCellValue("Payouts", cellRef(3, row), p.WorkingName)
		f.SetCellValue("Payouts", cellRef(4, row), p.PaymentMethod)
		f.SetCellValue("Payouts", cellRef(5, row), string(p.Frequency))
		f.SetCellValue("Payouts", cellRef(6, row), p.Amount.Float64())
		f.SetCellValue("Payouts", cellRef(7, row), p.Status.Label())
		f.SetCellValue("Payouts", cellRef(8, row), p.Notes)
	}
	f.SetColWidth("Payouts", "A", "A", 12)
	f.SetColWidth("Payouts", "B", "D", 18)
	f.SetColWidth("Payouts", "H", "H", 30)

	if _, err := f.NewSheet("Summary"); err != nil {
		f.Close()
		return nil, fmt.Errorf("create summary sheet: %w", err)
	}
	totals, err := s.storage.RunTotals(ctx, runID)
	if err != nil {
		f.Close()
		return nil, err
	}
	summary := [][2]any{
		{"Cycle", run.Cycle()},
		{"Currency", run.Currency},
		{"Models Paid", run.ModelsPaid},
		{"Total Payout", run.TotalPayout.Float64()},
		{"Paid", totals.Paid.Float64()},
		{"Outstanding", totals.Outstanding.Float64()},
		{"Include Inactive", run.IncludeInactive},
		{"Frequency Mix", FrequencyMix(run.FrequencyCounts)},
		{"Generated", run.CreatedAt.Format(time.RFC3339)},
	}
	for r, kv := range summary {
		f.SetCellValue("Summary", cellRef(1, r+1), kv[0])
		f.SetCellValue("Summary", cellRef(2, r+1), kv[1])
	}
	f.SetColWidth("Summary", "A", "B", 20)

	return f, nil
}

// WriteRunWorkbook streams the run workbook to w.
func (s *ExportService) WriteRunWorkbook(ctx context.Context, runID int64, w io.Writer) error {
	f, err := s.BuildRunWorkbook(ctx, runID)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write run workbook: %w", err)
	}
	return nil
}

// WriteScheduleCSV writes a run's payouts as CSV in the payout column schema.
func (s *ExportService) WriteScheduleCSV(ctx context.Context, runID int64, w io.Writer) error {
	payouts, err := s.storage.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(payoutHeader); err != nil {
		return fmt.Errorf("write schedule csv header: %w", err)
	}
	for _, p := range payouts {
		record := []string{
			p.PayDate.ISO(),
			p.ModelCode,
			p.WorkingName,
			p.PaymentMethod,
			string(p.Frequency),
			p.Amount.Decimal(),
			p.Status.Label(),
			p.Notes,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write schedule csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteModelsCSV writes the roster joined with paid payouts: one row per paid
// payout, a single bare row for models never paid.
func (s *ExportService) WriteModelsCSV(ctx context.Context, w io.Writer) error {
	rows, err := s.storage.ListModelExportRows(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(modelExportHeader); err != nil {
		return fmt.Errorf("write models csv header: %w", err)
	}
	for _, row := range rows {
		m := row.Model
		record := []string{
			m.Code,
			string(m.Status),
			m.RealName,
			m.WorkingName,
			m.StartDate.ISO(),
			m.PaymentMethod,
			string(m.Frequency),
			m.MonthlyAmount.Decimal(),
			m.CryptoWallet,
			"", "", "", "",
		}
		if row.HasPayout {
			record[9] = row.PayDate.ISO()
			record[10] = row.Amount.Decimal()
			record[11] = row.Status.Label()
			record[12] = row.Notes
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write models csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteValidationCSV writes a run's validation issues.
func (s *ExportService) WriteValidationCSV(ctx context.Context, runID int64, w io.Writer) error {
	issues, err := s.storage.ListIssuesByRun(ctx, runID)
	if err != nil {
		return err
	}

	// Issues carry model ids; resolve codes once per model
	codes := map[int64]string{}
	for _, issue := range issues {
		if issue.ModelID == 0 {
			continue
		}
		if _, seen := codes[issue.ModelID]; seen {
			continue
		}
		m, err := s.storage.GetModel(ctx, issue.ModelID)
		if err != nil {
			codes[issue.ModelID] = ""
			continue
		}
		codes[issue.ModelID] = m.Code
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(validationHeader); err != nil {
		return fmt.Errorf("write validation csv header: %w", err)
	}
	for _, issue := range issues {
		record := []string{
			string(issue.Severity),
			issue.Message,
			codes[issue.ModelID],
			issue.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write validation csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// BuildRunsWorkbook renders the runs table, optionally restricted to a year.
// The caller owns the file and must Close it.
func (s *ExportService) BuildRunsWorkbook(ctx context.Context, year int) (*excelize.File, error) {
	runs, err := s.storage.ListRuns(ctx, year)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	idx, err := f.NewSheet("Runs")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create runs sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range runsTableHeader {
		cell := cellRef(i+1, 1)
		f.SetCellValue("Runs", cell, h)
		f.SetCellStyle("Runs", cell, cell, headerStyle)
	}

	for r, run := range runs {
		totals, err := s.storage.RunTotals(ctx, run.ID)
		if err != nil {
			f.Close()
			return nil, err
		}
		row := r + 2
		f.SetCellValue("Runs", cellRef(1, row), run.ID)
		f.SetCellValue("Runs", cellRef(2, row), run.Cycle())
		f.SetCellValue("Runs", cellRef(3, row), run.CreatedAt.Format("2006-01-02"))
		f.SetCellValue("Runs", cellRef(4, row), totals.Status())
		f.SetCellValue("Runs", cellRef(5, row), run.Currency)
		f.SetCellValue("Runs", cellRef(6, row), run.ModelsPaid)
		f.SetCellValue("Runs", cellRef(7, row), run.TotalPayout.Float64())
		f.SetCellValue("Runs", cellRef(8, row), totals.Paid.Float64())
		f.SetCellValue("Runs", cellRef(9, row), totals.Outstanding.Float64())
		f.SetCellValue("Runs", cellRef(10, row), FrequencyMix(run.FrequencyCounts))
	}
	f.SetColWidth("Runs", "A", "J", 14)

	return f, nil
}

// BuildDashboardWorkbook renders the dashboard snapshot. The caller owns the
// file and must Close it.
func (s *ExportService) BuildDashboardWorkbook(ctx context.Context) (*excelize.File, error) {
	summary, err := s.storage.DashboardSummary(ctx)
	if err != nil {
		return nil, err
	}
	overviews, err := s.storage.RecentRunOverviews(ctx, 5)
	if err != nil {
		return nil, err
	}
	top, err := s.storage.TopPaidModels(ctx, 5)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	idx, err := f.NewSheet("Dashboard")
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create dashboard sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	stats := [][2]any{
		{"Total Models", summary.TotalModels},
		{"Active Models", summary.ActiveModels},
		{"Inactive Models", summary.InactiveModels},
		{"Total Runs", summary.TotalRuns},
		{"Lifetime Paid", summary.LifetimePaid.Float64()},
		{"Outstanding", summary.Outstanding.Float64()},
		{"On Hold", summary.OnHoldCount},
		{"Pending Ad-hoc", summary.PendingAdhoc},
		{"Pending Ad-hoc Total", summary.PendingAdhocTotal.Float64()},
		{"Open Issues", summary.OpenIssues},
	}
	for r, kv := range stats {
		f.SetCellValue("Dashboard", cellRef(1, r+1), kv[0])
		f.SetCellValue("Dashboard", cellRef(2, r+1), kv[1])
	}
	f.SetColWidth("Dashboard", "A", "B", 22)

	if _, err := f.NewSheet("Recent Runs"); err != nil {
		f.Close()
		return nil, fmt.Errorf("create recent runs sheet: %w", err)
	}
	recentHeader := []string{"Cycle", "Status", "Models Paid", "Total Payout", "Paid", "Outstanding"}
	for i, h := range recentHeader {
		f.SetCellValue("Recent Runs", cellRef(i+1, 1), h)
	}
	for r, o := range overviews {
		row := r + 2
		f.SetCellValue("Recent Runs", cellRef(1, row), o.Run.Cycle())
		f.SetCellValue("Recent Runs", cellRef(2, row), o.Totals.Status())
		f.SetCellValue("Recent Runs", cellRef(3, row), o.Run.ModelsPaid)
		f.SetCellValue("Recent Runs", cellRef(4, row), o.Run.TotalPayout.Float64())
		f.SetCellValue("Recent Runs", cellRef(5, row), o.Totals.Paid.Float64())
		f.SetCellValue("Recent Runs", cellRef(6, row), o.Totals.Outstanding.Float64())
	}

	if _, err := f.NewSheet("Top Paid"); err != nil {
		f.Close()
		return nil, fmt.Errorf("create top paid sheet: %w", err)
	}
	topHeader := []string{"Code", "Working Name", "Payouts", "Paid"}
	for i, h := range topHeader {
		f.SetCellValue("Top Paid", cellRef(i+1, 1), h)
	}
	for r, t := range top {
		row := r + 2
		f.SetCellValue("Top Paid", cellRef(1, row), t.Code)
		f.SetCellValue("Top Paid", cellRef(2, row), t.WorkingName)
		f.SetCellValue("Top Paid", cellRef(3, row), t.Payouts)
		f.SetCellValue("Top Paid", cellRef(4, row), t.Paid.Float64())
	}

	return f, nil
}

// WriteRunCalendar writes an iCalendar feed with one all-day event per
// distinct pay date of the run, summarising payout count and total.
func (s *ExportService) WriteRunCalendar(ctx context.Context, runID int64, w io.Writer) error {
	run, err := s.storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	payouts, err := s.storage.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		return err
	}

	type dayTotal struct {
		count int
		cents int64
	}
	days := map[string]*dayTotal{}
	var order []string
	for _, p := range payouts {
		key := p.PayDate.ISO()
		if _, ok := days[key]; !ok {
			days[key] = &dayTotal{}
			order = append(order, key)
		}
		days[key].count++
		days[key].cents += p.Amount.Cents
	}
	sort.Strings(order)

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//paysched//payroll schedule//EN")

	for _, key := range order {
		d, err := core.ParseDate(key)
		if err != nil {
			return fmt.Errorf("calendar pay date: %w", err)
		}
		total := days[key]

		event := cal.AddEvent(fmt.Sprintf("run-%d-%s@paysched", run.ID, key))
		event.SetDtStampTime(run.CreatedAt)
		event.SetAllDayStartAt(d.Time)
		event.SetAllDayEndAt(d.Time.AddDate(0, 0, 1))
		event.SetSummary(fmt.Sprintf("Payroll %s: %d payouts", run.Cycle(), total.count))
		event.SetDescription(fmt.Sprintf("%d payouts totalling %s",
			total.count, core.FormatAmount(run.Currency, core.Money{Cents: total.cents})))
	}

	if err := cal.SerializeTo(w); err != nil {
		return fmt.Errorf("serialize calendar: %w", err)
	}
	return nil
}

// WriteRunBundle writes the run's export files (workbook, models CSV,
// validation CSV) into <baseDir>/<cycle>/ and returns that directory. The
// three writes run concurrently.
func (s *ExportService) WriteRunBundle(ctx context.Context, run core.ScheduleRun, baseDir string) (string, error) {
	dir := filepath.Join(baseDir, run.Cycle())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.writeFile(filepath.Join(dir, bundleWorkbookName), func(w io.Writer) error {
			return s.WriteRunWorkbook(ctx, run.ID, w)
		})
	})
	g.Go(func() error {
		return s.writeFile(filepath.Join(dir, bundleModelsName), func(w io.Writer) error {
			return s.WriteModelsCSV(ctx, w)
		})
	})
	g.Go(func() error {
		return s.writeFile(filepath.Join(dir, bundleValidationName), func(w io.Writer) error {
			return s.WriteValidationCSV(ctx, run.ID, w)
		})
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Export bundle written",
		"run_id", run.ID,
		"cycle", run.Cycle(),
		"dir", dir)

	return dir, nil
}

func (s *ExportService) writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	return nil
}

// FrequencyMix renders counts like "weekly:3 biweekly:1".
func FrequencyMix(counts map[core.Frequency]int) string {
	if len(counts) == 0 {
		return ""
	}
	// Fixed order so the mix reads the same everywhere
	out := ""
	for _, f := range []core.Frequency{core.Weekly, core.Biweekly, core.Monthly} {
		n, ok := counts[f]
		if !ok || n == 0 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += string(f) + ":" + strconv.Itoa(n)
	}
	return out
}

func cellRef(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
