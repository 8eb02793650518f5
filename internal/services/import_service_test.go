package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"paysched/internal/core"
	"paysched/internal/storage"
)

type sheetData struct {
	name string
	rows [][]any
}

func buildWorkbook(t *testing.T, sheets ...sheetData) io.Reader {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for _, sd := range sheets {
		if _, err := f.NewSheet(sd.name); err != nil {
			t.Fatalf("new sheet %s: %v", sd.name, err)
		}
		for r, row := range sd.rows {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					t.Fatalf("cell name: %v", err)
				}
				if err := f.SetCellValue(sd.name, cell, v); err != nil {
					t.Fatalf("set cell: %v", err)
				}
			}
		}
	}
	f.DeleteSheet("Sheet1")

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestImportCreatesModels(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	// Header casing differs and an unknown column rides along.
	wb := buildWorkbook(t, sheetData{name: "Models", rows: [][]any{
		{"CODE", "Status", "Real Name", "Working Name", "Start Date",
			"Payment Method", "Payment Frequency", "Monthly Amount", "Crypto Wallet", "Nickname"},
		{"M-001", "Active", "Jane Roe", "Star One", "2024-01-15", "Wire", "weekly", "4000.50", "", "ignored"},
		{"M-002", "", "Ann Poe", "Star Two", "03/15/2024", "Crypto (BTC)", "Monthly", "2500,75", "bc1qwallet", ""},
	}})

	res, err := svc.Import(ctx, wb, ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.ModelsCreated != 2 || len(res.Issues) != 0 {
		t.Fatalf("expected 2 clean creates, got %+v", res)
	}

	first, err := repo.GetModelByCode(ctx, "M-001")
	if err != nil {
		t.Fatalf("get M-001: %v", err)
	}
	if first.MonthlyAmount.Cents != 400050 || first.Frequency != core.Weekly {
		t.Fatalf("M-001 wrong: %+v", first)
	}

	second, err := repo.GetModelByCode(ctx, "M-002")
	if err != nil {
		t.Fatalf("get M-002: %v", err)
	}
	// Blank status defaults to Active, comma decimals parse, MM/DD/YYYY parses.
	if second.Status != core.ModelActive {
		t.Fatalf("blank status not defaulted: %q", second.Status)
	}
	if second.MonthlyAmount.Cents != 250075 || second.CryptoWallet != "bc1qwallet" {
		t.Fatalf("M-002 wrong: %+v", second)
	}
	if second.StartDate.ISO() != "2024-03-15" {
		t.Fatalf("M-002 start date wrong: %s", second.StartDate.ISO())
	}
}

func TestImportSkipsOrUpdatesExisting(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	seedModel(t, repo, "M-001", core.Weekly, 400000)

	row := []any{"M-001", "Active", "Jane Roe", "Renamed", "2024-01-15", "Wire", "weekly", "4500.00", ""}
	header := []any{"Code", "Status", "Real Name", "Working Name", "Start Date",
		"Payment Method", "Payment Frequency", "Monthly Amount", "Crypto Wallet"}

	res, err := svc.Import(ctx, buildWorkbook(t, sheetData{name: "Models", rows: [][]any{header, row}}), ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.ModelsSkipped != 1 || res.ModelsUpdated != 0 {
		t.Fatalf("expected skip, got %+v", res)
	}
	m, _ := repo.GetModelByCode(ctx, "M-001")
	if m.WorkingName == "Renamed" {
		t.Fatalf("skipped import still wrote the model")
	}

	res, err = svc.Import(ctx, buildWorkbook(t, sheetData{name: "Models", rows: [][]any{header, row}}),
		ImportOptions{UpdateExisting: true})
	if err != nil {
		t.Fatalf("import with update: %v", err)
	}
	if res.ModelsUpdated != 1 {
		t.Fatalf("expected update, got %+v", res)
	}
	m, _ = repo.GetModelByCode(ctx, "M-001")
	if m.WorkingName != "Renamed" || m.MonthlyAmount.Cents != 450000 {
		t.Fatalf("update not applied: %+v", m)
	}
}

func TestImportMalformedRowsContinue(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	wb := buildWorkbook(t, sheetData{name: "Models", rows: [][]any{
		{"Code", "Status", "Real Name", "Working Name", "Start Date",
			"Payment Method", "Payment Frequency", "Monthly Amount", "Crypto Wallet"},
		{"M-001", "Active", "Jane Roe", "Star One", "2024-01-15", "Wire", "weekly", "4000.00", ""},
		nil,
		{"M-002", "Active", "Ann Poe", "Star Two", "not-a-date", "Wire", "weekly", "2000.00", ""},
		{"M-003", "Active", "Eve Loe", "Star Three", "2024-02-01", "Wire", "weekly", "-5", ""},
	}})

	res, err := svc.Import(ctx, wb, ImportOptions{})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.ModelsCreated != 1 {
		t.Fatalf("expected the good row imported, got %d", res.ModelsCreated)
	}
	if len(res.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", res.Issues)
	}
	// Issues name the sheet row so the user can find it in the file.
	if !strings.Contains(res.Issues[0].Message, "row 4") {
		t.Fatalf("first issue missing row number: %q", res.Issues[0].Message)
	}
	if !strings.Contains(res.Issues[1].Message, "row 5") {
		t.Fatalf("second issue missing row number: %q", res.Issues[1].Message)
	}

	n, err := repo.CountIssues(ctx)
	if err != nil {
		t.Fatalf("count issues: %v", err)
	}
	if n != 2 {
		t.Fatalf("issues not persisted: %d", n)
	}
}

func TestImportMissingRequiredColumn(t *testing.T) {
	repo := newTestStorage(t)
	svc := NewImportService(repo)

	wb := buildWorkbook(t, sheetData{name: "Models", rows: [][]any{
		{"Status", "Real Name", "Working Name", "Start Date",
			"Payment Method", "Payment Frequency", "Monthly Amount"},
		{"Active", "Jane Roe", "Star One", "2024-01-15", "Wire", "weekly", "4000.00"},
	}})

	_, err := svc.Import(context.Background(), wb, ImportOptions{})
	if err == nil || !strings.Contains(err.Error(), `missing "Code" column`) {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestImportNoImportableSheets(t *testing.T) {
	repo := newTestStorage(t)
	svc := NewImportService(repo)

	wb := buildWorkbook(t, sheetData{name: "Data", rows: [][]any{{"whatever"}}})
	_, err := svc.Import(context.Background(), wb, ImportOptions{})
	if !errors.Is(err, ErrNoImportableSheets) {
		t.Fatalf("expected ErrNoImportableSheets, got %v", err)
	}
}

func TestImportPayoutsRequireRunContext(t *testing.T) {
	repo := newTestStorage(t)
	svc := NewImportService(repo)

	wb := buildWorkbook(t, sheetData{name: "Payouts", rows: [][]any{
		{"Pay Date", "Code", "Working Name", "Method", "Frequency", "Amount", "Status", "Notes"},
		{"2025-08-07", "M-001", "", "", "", "1000.25", "", ""},
	}})

	_, err := svc.Import(context.Background(), wb, ImportOptions{})
	if err == nil || !strings.Contains(err.Error(), "need a run") {
		t.Fatalf("expected run context error, got %v", err)
	}
}

func TestImportPayoutsIntoNewRun(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	m := seedModel(t, repo, "M-001", core.Weekly, 400000)

	wb := buildWorkbook(t, sheetData{name: "Payouts", rows: [][]any{
		{"Pay Date", "Code", "Working Name", "Method", "Frequency", "Amount", "Status", "Notes"},
		{"2025-08-07", "M-001", "", "", "", "1000.25", "", ""},
		{"2025-08-14", "M-001", "", "", "", "1000.25", "Paid", "wire ok"},
		{"2025-08-31", "X-999", "Ghost", "PayPal", "monthly", "500", "On Hold", ""},
	}})

	res, err := svc.Import(ctx, wb, ImportOptions{CreateRun: true, Year: 2025, Month: 8, Currency: "usd"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Run == nil || res.Run.ID == 0 {
		t.Fatalf("expected a created run, got %+v", res.Run)
	}
	if res.PayoutsImported != 3 || len(res.Issues) != 0 {
		t.Fatalf("import counts wrong: %+v", res)
	}
	if res.Run.Currency != "USD" {
		t.Fatalf("currency not normalized: %q", res.Run.Currency)
	}

	// The summary is recomputed from the imported rows.
	if res.Run.ModelsPaid != 2 || res.Run.TotalPayout.Cents != 250050 {
		t.Fatalf("summary wrong: %+v", res.Run)
	}
	if res.Run.FrequencyCounts[core.Weekly] != 1 || res.Run.FrequencyCounts[core.Monthly] != 1 {
		t.Fatalf("frequency counts wrong: %+v", res.Run.FrequencyCounts)
	}

	payouts, err := repo.ListPayouts(ctx, res.Run.ID, storage.PayoutFilter{})
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 3 {
		t.Fatalf("expected 3 payouts stored, got %d", len(payouts))
	}
	for _, p := range payouts {
		switch {
		case p.ModelCode == "M-001":
			// Roster fills the blanks for known codes.
			if p.ModelID != m.ID || p.WorkingName != m.WorkingName || p.PaymentMethod != "Wire" || p.Frequency != core.Weekly {
				t.Fatalf("roster fill missing: %+v", p)
			}
		case p.ModelCode == "X-999":
			if p.ModelID != 0 || p.WorkingName != "Ghost" || p.Status != core.PayoutOnHold {
				t.Fatalf("unknown code row wrong: %+v", p)
			}
		}
	}

	// The row imported as Paid is queued for the mirror.
	pending, err := repo.GetPendingMirrorPayouts(ctx, 10)
	if err != nil {
		t.Fatalf("pending mirror: %v", err)
	}
	if len(pending) != 1 || pending[0].Notes != "wire ok" {
		t.Fatalf("paid import not queued for mirror: %+v", pending)
	}
}

func TestImportPayoutsIntoExistingRun(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	run, err := repo.CreateRun(ctx, core.ScheduleRun{Year: 2025, Month: 8, Currency: "USD"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	wb := buildWorkbook(t, sheetData{name: "Payouts", rows: [][]any{
		{"Pay Date", "Code", "Working Name", "Method", "Frequency", "Amount", "Status", "Notes"},
		{"2025-08-07", "M-001", "Star", "Wire", "weekly", "1000.25", "", ""},
	}})

	res, err := svc.Import(ctx, wb, ImportOptions{RunID: run.ID})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Run.ID != run.ID || res.PayoutsImported != 1 {
		t.Fatalf("import into wrong run: %+v", res)
	}
	if res.Run.TotalPayout.Cents != 100025 {
		t.Fatalf("summary not recomputed: %+v", res.Run)
	}

	wb = buildWorkbook(t, sheetData{name: "Payouts", rows: [][]any{
		{"Pay Date", "Code", "Amount"},
		{"2025-08-07", "M-001", "10.00"},
	}})
	if _, err := svc.Import(ctx, wb, ImportOptions{RunID: 9999}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown run, got %v", err)
	}
}

func TestImportPreviewWritesNothing(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	svc := NewImportService(repo)

	seedModel(t, repo, "M-001", core.Weekly, 400000)

	wb := buildWorkbook(t,
		sheetData{name: "Models", rows: [][]any{
			{"Code", "Status", "Real Name", "Working Name", "Start Date",
				"Payment Method", "Payment Frequency", "Monthly Amount", "Crypto Wallet"},
			{"M-001", "Active", "Jane Roe", "Renamed", "2024-01-15", "Wire", "weekly", "4500.00", ""},
			{"M-100", "Active", "New Face", "Fresh", "2025-01-01", "Wire", "monthly", "3000.00", ""},
		}},
		sheetData{name: "Payouts", rows: [][]any{
			{"Pay Date", "Code", "Amount"},
			{"2025-08-07", "M-001", "1000.25"},
		}})

	res, err := svc.Import(ctx, wb, ImportOptions{
		UpdateExisting: true,
		CreateRun:      true,
		Year:           2025,
		Month:          8,
		Currency:       "USD",
		Preview:        true,
	})
	if err != nil {
		t.Fatalf("preview import: %v", err)
	}
	if res.ModelsUpdated != 1 || res.ModelsCreated != 1 || res.PayoutsImported != 1 {
		t.Fatalf("preview classification wrong: %+v", res)
	}

	if _, err := repo.GetModelByCode(ctx, "M-100"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("preview created a model: %v", err)
	}
	m, _ := repo.GetModelByCode(ctx, "M-001")
	if m.WorkingName == "Renamed" {
		t.Fatalf("preview updated a model")
	}
	if _, err := repo.GetRunByMonth(ctx, 2025, 8); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("preview created a run: %v", err)
	}
	n, err := repo.CountIssues(ctx)
	if err != nil {
		t.Fatalf("count issues: %v", err)
	}
	if n != 0 {
		t.Fatalf("preview persisted issues: %d", n)
	}
}

// Exporting a run and importing the workbook back must reproduce the payouts
// for every recognized column.
func TestImportExportRoundTrip(t *testing.T) {
	repo := newTestStorage(t)
	ctx := context.Background()
	seedModel(t, repo, "W-001", core.Weekly, 400001)
	seedModel(t, repo, "M-003", core.Monthly, 100003)

	payroll := NewPayrollService(repo, nil, nil, "")
	generated, err := payroll.Generate(ctx, GenerateOptions{Year: 2025, Month: 8, Currency: "USD"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := payroll.BulkUpdateStatus(ctx, generated.Run.ID, []int64{generated.Payouts[0].ID}, core.PayoutPaid); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	var buf bytes.Buffer
	exports := NewExportService(repo)
	if err := exports.WriteRunWorkbook(ctx, generated.Run.ID, &buf); err != nil {
		t.Fatalf("export workbook: %v", err)
	}

	imports := NewImportService(repo)
	res, err := imports.Import(ctx, &buf, ImportOptions{CreateRun: true, Year: 2025, Month: 9, Currency: "USD"})
	if err != nil {
		t.Fatalf("import exported workbook: %v", err)
	}
	if res.PayoutsImported != 5 || len(res.Issues) != 0 {
		t.Fatalf("round trip counts wrong: %+v", res)
	}

	original, err := repo.ListPayouts(ctx, generated.Run.ID, storage.PayoutFilter{})
	if err != nil {
		t.Fatalf("list original: %v", err)
	}
	reimported, err := repo.ListPayouts(ctx, res.Run.ID, storage.PayoutFilter{})
	if err != nil {
		t.Fatalf("list reimported: %v", err)
	}
	if len(original) != len(reimported) {
		t.Fatalf("row count changed: %d vs %d", len(original), len(reimported))
	}
	for i := range original {
		o, r := original[i], reimported[i]
		if o.PayDate.ISO() != r.PayDate.ISO() || o.ModelCode != r.ModelCode {
			t.Fatalf("row %d identity changed: %s %s vs %s %s",
				i, o.PayDate.ISO(), o.ModelCode, r.PayDate.ISO(), r.ModelCode)
		}
		if o.Amount.Cents != r.Amount.Cents {
			t.Fatalf("row %d amount changed: %d vs %d", i, o.Amount.Cents, r.Amount.Cents)
		}
		if o.Status != r.Status {
			t.Fatalf("row %d status changed: %q vs %q", i, o.Status, r.Status)
		}
		if o.Frequency != r.Frequency {
			t.Fatalf("row %d frequency changed: %q vs %q", i, o.Frequency, r.Frequency)
		}
	}
}
