package storage

import (
	"context"
	"fmt"

	"paysched/internal/core"
)

// DashboardSummary aggregates the landing-page numbers in a handful of
// queries. Totals come straight from the payout and ad-hoc rows, so they
// always match what the detail pages sum to.
func (r *Repository) DashboardSummary(ctx context.Context) (core.DashboardSummary, error) {
	var s core.DashboardSummary

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'Active' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'Inactive' THEN 1 ELSE 0 END), 0)
		FROM models`).
		Scan(&s.TotalModels, &s.ActiveModels, &s.InactiveModels)
	if err != nil {
		return s, fmt.Errorf("dashboard model counts: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_runs`).Scan(&s.TotalRuns); err != nil {
		return s, fmt.Errorf("dashboard run count: %w", err)
	}

	var paidPayouts, outstanding int64
	var onHold int
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN status = 'paid' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'paid' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'on_hold' THEN 1 ELSE 0 END), 0)
		FROM payouts`).
		Scan(&paidPayouts, &outstanding, &onHold)
	if err != nil {
		return s, fmt.Errorf("dashboard payout totals: %w", err)
	}
	s.Outstanding = core.Money{Cents: outstanding}
	s.OnHoldCount = onHold

	var paidAdhoc, pendingAdhocTotal int64
	var pendingAdhoc int
	err = r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN status = 'paid' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'not_paid' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'not_paid' THEN 1 ELSE 0 END), 0)
		FROM adhoc_payments`).
		Scan(&paidAdhoc, &pendingAdhocTotal, &pendingAdhoc)
	if err != nil {
		return s, fmt.Errorf("dashboard adhoc totals: %w", err)
	}
	s.LifetimePaid = core.Money{Cents: paidPayouts + paidAdhoc}
	s.PendingAdhocTotal = core.Money{Cents: pendingAdhocTotal}
	s.PendingAdhoc = pendingAdhoc

	if s.OpenIssues, err = r.CountIssues(ctx); err != nil {
		return s, err
	}

	return s, nil
}

// TopPaidModels ranks payees by paid payout volume across all runs.
func (r *Repository) TopPaidModels(ctx context.Context, limit int) ([]core.ModelPaidTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT model_code, working_name, COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM payouts
		WHERE status = 'paid'
		GROUP BY model_code, working_name
		ORDER BY SUM(amount_cents) DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top paid models: %w", err)
	}
	defer rows.Close()

	var out []core.ModelPaidTotal
	for rows.Next() {
		var t core.ModelPaidTotal
		if err := rows.Scan(&t.Code, &t.WorkingName, &t.Payouts, &t.Paid.Cents); err != nil {
			return nil, fmt.Errorf("scan top paid model: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top paid models: %w", err)
	}
	return out, nil
}

// RecentRunOverviews returns the latest runs with their payout totals.
func (r *Repository) RecentRunOverviews(ctx context.Context, limit int) ([]core.RunOverview, error) {
	runs, err := r.ListRecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	overviews := make([]core.RunOverview, 0, len(runs))
	for _, run := range runs {
		totals, err := r.RunTotals(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		overviews = append(overviews, core.RunOverview{Run: run, Totals: totals})
	}
	return overviews, nil
}
