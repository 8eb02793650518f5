package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"paysched/internal/core"
	"paysched/internal/services"
)

// runRow is a run formatted for table rendering. The schedules page and the
// dashboard share it so both show the same totals.
type runRow struct {
	ID          int64
	Cycle       string
	CycleLabel  string
	Payouts     int
	PaidCount   int
	Total       string
	Paid        string
	Outstanding string
	Status      string
	Frequencies string
	Created     string
}

type topPaidRow struct {
	Code        string
	WorkingName string
	Payouts     int
	Paid        string
}

type issueRow struct {
	Severity string
	Message  string
	Created  string
}

// dashboardData is the landing-page view model. Money is preformatted so the
// template stays free of formatting logic. Built fresh on every request; the
// aggregate queries are cheap at this data volume.
type dashboardData struct {
	Summary           core.DashboardSummary
	LifetimePaid      string
	Outstanding       string
	PendingAdhocTotal string
	RecentRuns        []runRow
	TopPaid           []topPaidRow
	RecentIssues      []issueRow
}

type dashboardView struct {
	Page pageContext
	Data dashboardData
}

func (s *Server) buildRunRow(run core.ScheduleRun, totals core.RunTotals) runRow {
	return runRow{
		ID:          run.ID,
		Cycle:       run.Cycle(),
		CycleLabel:  run.CycleLabel(),
		Payouts:     totals.TotalCount,
		PaidCount:   totals.PaidCount,
		Total:       core.FormatAmount(run.Currency, run.TotalPayout),
		Paid:        core.FormatAmount(run.Currency, totals.Paid),
		Outstanding: core.FormatAmount(run.Currency, totals.Outstanding),
		Status:      totals.Status(),
		Frequencies: services.FrequencyMix(run.FrequencyCounts),
		Created:     run.CreatedAt.Format("2006-01-02 15:04"),
	}
}

func (s *Server) getDashboard(ctx context.Context) (dashboardData, error) {
	summary, err := s.storage.DashboardSummary(ctx)
	if err != nil {
		return dashboardData{}, fmt.Errorf("load dashboard summary: %w", err)
	}

	overviews, err := s.storage.RecentRunOverviews(ctx, 5)
	if err != nil {
		return dashboardData{}, fmt.Errorf("load recent runs: %w", err)
	}
	recentRuns := make([]runRow, 0, len(overviews))
	for _, ov := range overviews {
		recentRuns = append(recentRuns, s.buildRunRow(ov.Run, ov.Totals))
	}

	topModels, err := s.storage.TopPaidModels(ctx, 5)
	if err != nil {
		return dashboardData{}, fmt.Errorf("load top paid models: %w", err)
	}
	topPaid := make([]topPaidRow, 0, len(topModels))
	for _, m := range topModels {
		topPaid = append(topPaid, topPaidRow{
			Code:        m.Code,
			WorkingName: m.WorkingName,
			Payouts:     m.Payouts,
			Paid:        core.FormatAmount(s.baseCurrency, m.Paid),
		})
	}

	issues, err := s.storage.ListRecentIssues(ctx, 10)
	if err != nil {
		return dashboardData{}, fmt.Errorf("load recent issues: %w", err)
	}
	recentIssues := make([]issueRow, 0, len(issues))
	for _, issue := range issues {
		created := ""
		if !issue.CreatedAt.IsZero() {
			created = issue.CreatedAt.Format("2006-01-02 15:04")
		}
		recentIssues = append(recentIssues, issueRow{
			Severity: string(issue.Severity),
			Message:  issue.Message,
			Created:  created,
		})
	}

	return dashboardData{
		Summary:           summary,
		LifetimePaid:      core.FormatAmount(s.baseCurrency, summary.LifetimePaid),
		Outstanding:       core.FormatAmount(s.baseCurrency, summary.Outstanding),
		PendingAdhocTotal: core.FormatAmount(s.baseCurrency, summary.PendingAdhocTotal),
		RecentRuns:        recentRuns,
		TopPaid:           topPaid,
		RecentIssues:      recentIssues,
	}, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	data, err := s.getDashboard(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Dashboard load failed", "error", err)
		http.Error(w, "failed to load dashboard", http.StatusInternalServerError)
		return
	}
	slog.DebugContext(r.Context(), "Dashboard rendered", "duration_ms", time.Since(start).Milliseconds())

	s.render(w, r, "dashboard_page", dashboardView{
		Page: s.pageContextFor(r, "dashboard"),
		Data: data,
	})
}

func (s *Server) handleDashboardExport(w http.ResponseWriter, r *http.Request) {
	f, err := s.exports.BuildDashboardWorkbook(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Dashboard export failed", "error", err)
		http.Error(w, "failed to build workbook", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="dashboard.xlsx"`)
	if err := f.Write(w); err != nil {
		slog.ErrorContext(r.Context(), "Dashboard export write failed", "error", err)
	}
}
