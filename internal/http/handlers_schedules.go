package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"paysched/internal/core"
	"paysched/internal/services"
	"paysched/internal/storage"
)

type runGroup struct {
	Year int
	Runs []runRow
}

type payoutRow struct {
	ID           int64
	PayDate      string
	ModelCode    string
	WorkingName  string
	Method       string
	Frequency    string
	Amount       string
	Status       string
	StatusValue  string
	Notes        string
	Adjusted     bool
	MirrorStatus string
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	groups, err := s.loadRunGroups(r, 0)
	if err != nil {
		slog.ErrorContext(r.Context(), "Run list failed", "error", err)
		http.Error(w, "failed to load schedules", http.StatusInternalServerError)
		return
	}

	years := yearOptions(groups)
	s.render(w, r, "schedules_page", struct {
		Page   pageContext
		Groups []runGroup
		Years  []int
	}{
		Page:   s.pageContextFor(r, "schedules"),
		Groups: groups,
		Years:  years,
	})
}

func (s *Server) handleSchedulesTable(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			BadRequestError("Year must be a number.").Write(w)
			return
		}
		year = y
	}

	groups, err := s.loadRunGroups(r, year)
	if err != nil {
		slog.ErrorContext(r.Context(), "Run table failed", "error", err, "year", year)
		InternalServerError("Failed to load schedules.").Write(w)
		return
	}

	s.renderPartial(w, r, "schedules_table", struct {
		Groups []runGroup
	}{Groups: groups})
}

func (s *Server) handleSchedulesTableExport(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "year must be a number", http.StatusBadRequest)
			return
		}
		year = y
	}

	f, err := s.exports.BuildRunsWorkbook(r.Context(), year)
	if err != nil {
		slog.ErrorContext(r.Context(), "Runs export failed", "error", err, "year", year)
		http.Error(w, "failed to build workbook", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	filename := "runs.xlsx"
	if year != 0 {
		filename = fmt.Sprintf("runs-%d.xlsx", year)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		slog.ErrorContext(r.Context(), "Runs export write failed", "error", err)
	}
}

// loadRunGroups lists runs grouped by year, newest first within each group.
func (s *Server) loadRunGroups(r *http.Request, year int) ([]runGroup, error) {
	runs, err := s.storage.ListRuns(r.Context(), year)
	if err != nil {
		return nil, err
	}

	var groups []runGroup
	for _, run := range runs {
		totals, err := s.storage.RunTotals(r.Context(), run.ID)
		if err != nil {
			return nil, err
		}
		row := s.buildRunRow(run, totals)
		if len(groups) == 0 || groups[len(groups)-1].Year != run.Year {
			groups = append(groups, runGroup{Year: run.Year})
		}
		groups[len(groups)-1].Runs = append(groups[len(groups)-1].Runs, row)
	}
	return groups, nil
}

func yearOptions(groups []runGroup) []int {
	years := make([]int, 0, len(groups))
	for _, g := range groups {
		years = append(years, g.Year)
	}
	return years
}

type scheduleFormView struct {
	Page            pageContext
	Year            int
	Month           int
	Currency        string
	IncludeInactive bool
	Error           string
}

func (s *Server) handleScheduleNew(w http.ResponseWriter, r *http.Request) {
	// Suggest the month after the latest run, or the current month when
	// there is none yet.
	now := time.Now()
	year, month := now.Year(), int(now.Month())
	if recent, err := s.storage.ListRecentRuns(r.Context(), 1); err == nil && len(recent) > 0 {
		year, month = recent[0].Year, recent[0].Month+1
		if month > 12 {
			year, month = year+1, 1
		}
	}

	s.render(w, r, "schedule_new_page", scheduleFormView{
		Page:     s.pageContextFor(r, "schedules"),
		Year:     year,
		Month:    month,
		Currency: s.baseCurrency,
	})
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	view := scheduleFormView{
		Page:            s.pageContextFor(r, "schedules"),
		Currency:        sanitizeInput(r.Form.Get("currency")),
		IncludeInactive: r.Form.Get("include_inactive") == "on",
	}
	view.Year, _ = strconv.Atoi(r.Form.Get("year"))
	view.Month, _ = strconv.Atoi(r.Form.Get("month"))

	opts := services.GenerateOptions{
		Year:            view.Year,
		Month:           view.Month,
		Currency:        view.Currency,
		IncludeInactive: view.IncludeInactive,
	}

	if r.Form.Get("preview") == "on" {
		plan, err := s.payroll.Preview(r.Context(), opts)
		if err != nil {
			UnprocessableEntityError(generateMessage(err)).Write(w)
			return
		}
		s.renderPreview(w, r, opts, plan)
		return
	}

	result, err := s.payroll.Generate(r.Context(), opts)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateRun) {
			view.Error = fmt.Sprintf("A schedule for %04d-%02d already exists.", view.Year, view.Month)
			s.renderStatus(w, r, http.StatusConflict, "schedule_new_page", view)
			return
		}
		view.Error = generateMessage(err)
		s.renderStatus(w, r, http.StatusUnprocessableEntity, "schedule_new_page", view)
		return
	}

	slog.InfoContext(r.Context(), "Schedule generated",
		"run_id", result.Run.ID,
		"cycle", result.Run.Cycle(),
		"models_paid", result.Run.ModelsPaid,
		"payouts", len(result.Payouts),
		"issues", len(result.Issues))

	redirect(w, r, fmt.Sprintf("/schedules/%d", result.Run.ID))
}

func generateMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidYear):
		return "Year must be between 2000 and 2100."
	case errors.Is(err, core.ErrInvalidMonth):
		return "Month must be between 1 and 12."
	default:
		return "Could not plan the schedule: " + err.Error()
	}
}

func (s *Server) renderPreview(w http.ResponseWriter, r *http.Request, opts services.GenerateOptions, plan *services.SchedulePlan) {
	rows := make([]payoutRow, 0, len(plan.Payouts))
	for _, p := range plan.Payouts {
		rows = append(rows, s.buildPayoutRow(p))
	}
	issues := make([]issueRow, 0, len(plan.Issues))
	for _, issue := range plan.Issues {
		issues = append(issues, issueRow{Severity: string(issue.Severity), Message: issue.Message})
	}

	s.renderPartial(w, r, "run_preview", struct {
		Cycle       string
		ModelsPaid  int
		Total       string
		Frequencies string
		Payouts     []payoutRow
		Issues      []issueRow
	}{
		Cycle:       fmt.Sprintf("%04d-%02d", opts.Year, opts.Month),
		ModelsPaid:  plan.ModelsPaid,
		Total:       core.FormatAmount(opts.Currency, plan.Total),
		Frequencies: services.FrequencyMix(plan.FrequencyCounts),
		Payouts:     rows,
		Issues:      issues,
	})
}

func (s *Server) buildPayoutRow(p core.Payout) payoutRow {
	return payoutRow{
		ID:           p.ID,
		PayDate:      p.PayDate.ISO(),
		ModelCode:    p.ModelCode,
		WorkingName:  p.WorkingName,
		Method:       p.PaymentMethod,
		Frequency:    string(p.Frequency),
		Amount:       core.FormatAmount(s.baseCurrency, p.Amount),
		Status:       p.Status.Label(),
		StatusValue:  string(p.Status),
		Notes:        p.Notes,
		Adjusted:     p.Adjusted,
		MirrorStatus: string(p.MirrorStatus),
	}
}

func (s *Server) handleScheduleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	run, err := s.storage.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Run load failed", "error", err, "run_id", id)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}

	totals, err := s.storage.RunTotals(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Run totals failed", "error", err, "run_id", id)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}

	issues, err := s.storage.ListIssuesByRun(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Run issues failed", "error", err, "run_id", id)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}
	issueRows := make([]issueRow, 0, len(issues))
	for _, issue := range issues {
		issueRows = append(issueRows, issueRow{
			Severity: string(issue.Severity),
			Message:  issue.Message,
			Created:  issue.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	now := time.Now()
	s.render(w, r, "schedule_detail_page", struct {
		Page           pageContext
		Run            runRow
		IncludesAll    bool
		Issues         []issueRow
		IsCurrentMonth bool
		ExportPath     string
	}{
		Page:           s.pageContextFor(r, "schedules"),
		Run:            s.buildRunRow(run, totals),
		IncludesAll:    run.IncludeInactive,
		Issues:         issueRows,
		IsCurrentMonth: run.Year == now.Year() && run.Month == int(now.Month()),
		ExportPath:     run.ExportPath,
	})
}

func (s *Server) handleSchedulePayouts(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	var filter storage.PayoutFilter
	if v := sanitizeInput(q.Get("pay_date")); v != "" {
		date, err := core.ParseDate(v)
		if err != nil {
			BadRequestError("Pay date must be MM/DD/YYYY or YYYY-MM-DD.").Write(w)
			return
		}
		filter.PayDate = date
	}
	if v := q.Get("status"); v != "" {
		status, err := core.ParsePayoutStatus(v)
		if err != nil {
			BadRequestError("Unknown payout status.").Write(w)
			return
		}
		filter.Status = status
	}

	payouts, err := s.storage.ListPayouts(r.Context(), id, filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Payout list failed", "error", err, "run_id", id)
		InternalServerError("Failed to load payouts.").Write(w)
		return
	}

	rows := make([]payoutRow, 0, len(payouts))
	for _, p := range payouts {
		rows = append(rows, s.buildPayoutRow(p))
	}

	s.renderPartial(w, r, "payouts_table", struct {
		RunID   int64
		Payouts []payoutRow
	}{RunID: id, Payouts: rows})
}

func (s *Server) handleScheduleRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	result, err := s.payroll.Refresh(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Run refresh failed", "error", err, "run_id", id)
		http.Error(w, "failed to refresh schedule", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Schedule refreshed",
		"run_id", id,
		"payouts", len(result.Payouts),
		"issues", len(result.Issues))

	redirect(w, r, fmt.Sprintf("/schedules/%d", id))
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.payroll.DeleteRun(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Run delete failed", "error", err, "run_id", id)
		http.Error(w, "failed to delete schedule", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Schedule deleted", "run_id", id)
	redirect(w, r, "/schedules")
}

func (s *Server) handleScheduleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	run, err := s.storage.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.ErrorContext(r.Context(), "Run load failed", "error", err, "run_id", id)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}

	const xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	cycle := run.Cycle()

	var writeErr error
	switch r.PathValue("kind") {
	case "xlsx":
		w.Header().Set("Content-Type", xlsxType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cycle+"-schedule.xlsx"))
		writeErr = s.exports.WriteRunWorkbook(r.Context(), id, w)
	case "schedule_csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cycle+"-schedule.csv"))
		writeErr = s.exports.WriteScheduleCSV(r.Context(), id, w)
	case "models_csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="models.csv"`)
		writeErr = s.exports.WriteModelsCSV(r.Context(), w)
	case "validation_csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cycle+"-validation.csv"))
		writeErr = s.exports.WriteValidationCSV(r.Context(), id, w)
	case "ics":
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", cycle+"-paydays.ics"))
		writeErr = s.exports.WriteRunCalendar(r.Context(), id, w)
	default:
		http.NotFound(w, r)
		return
	}

	if writeErr != nil {
		slog.ErrorContext(r.Context(), "Run download failed",
			"error", writeErr, "run_id", id, "kind", r.PathValue("kind"))
	}
}

func (s *Server) handlePayoutNote(w http.ResponseWriter, r *http.Request) {
	runID, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	payoutID, err := parseID(r, "payoutID")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	notes := sanitizeInput(r.Form.Get("notes"))
	if err := s.payroll.UpdateNote(r.Context(), runID, payoutID, notes); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			NotFoundError("Payout not found.").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Note update failed",
			"error", err, "run_id", runID, "payout_id", payoutID)
		InternalServerError("Failed to save note.").Write(w)
		return
	}

	NewHXResponse().
		TriggerPayoutsUpdated(runID).
		TriggerSuccessNotification("Note saved.").
		Write(w)
}

func (s *Server) handlePayoutsBulk(w http.ResponseWriter, r *http.Request) {
	runID, err := parseID(r, "id")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	parser := NewRequestBodyParser(r)
	if err := parser.Parse(); err != nil {
		BadRequestError("Invalid request format").Write(w)
		return
	}

	ids := parser.GetIDList("ids")
	if len(ids) == 0 {
		BadRequestError("No payouts selected.").Write(w)
		return
	}

	rawStatus := parser.Get("status")
	if rawStatus == "" {
		BadRequestError("Pick a status to apply.").Write(w)
		return
	}
	status, err := core.ParsePayoutStatus(rawStatus)
	if err != nil {
		UnprocessableEntityError("Unknown payout status.").Write(w)
		return
	}

	changed, err := s.payroll.BulkUpdateStatus(r.Context(), runID, ids, status)
	if err != nil {
		if errors.Is(err, core.ErrInvalidStatus) {
			UnprocessableEntityError("Unknown payout status.").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Bulk status update failed",
			"error", err, "run_id", runID, "ids", len(ids))
		InternalServerError("Failed to update payouts.").Write(w)
		return
	}

	slog.InfoContext(r.Context(), "Payout statuses updated",
		"run_id", runID,
		"requested", len(ids),
		"changed", changed,
		"status", string(status))

	NewHXResponse().
		TriggerPayoutsUpdated(runID).
		TriggerRunChanged(runID).
		TriggerSuccessNotification(fmt.Sprintf("%d payouts marked %s.", changed, status.Label())).
		Write(w)
}
