package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"paysched/internal/core"
)

const runColumns = `id, target_year, target_month, currency, include_inactive,
	models_paid, total_payout_cents, frequency_counts, export_path, created_at`

// CreateRun inserts the run row. The month uniqueness lives in the schema, so
// two concurrent attempts for the same month cannot both succeed.
func (r *Repository) CreateRun(ctx context.Context, run core.ScheduleRun) (core.ScheduleRun, error) {
	counts, err := encodeFrequencyCounts(run.FrequencyCounts)
	if err != nil {
		return core.ScheduleRun{}, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_runs (target_year, target_month, currency,
			include_inactive, models_paid, total_payout_cents, frequency_counts, export_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Year, run.Month, run.Currency, boolToInt(run.IncludeInactive),
		run.ModelsPaid, run.TotalPayout.Cents, counts, run.ExportPath)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ScheduleRun{}, ErrDuplicateRun
		}
		return core.ScheduleRun{}, fmt.Errorf("create schedule run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.ScheduleRun{}, fmt.Errorf("create schedule run id: %w", err)
	}

	created, err := r.GetRun(ctx, id)
	if err != nil {
		return core.ScheduleRun{}, err
	}

	slog.InfoContext(ctx, "Schedule run created",
		"id", created.ID,
		"cycle", created.Cycle(),
		"currency", created.Currency)

	return created, nil
}

func (r *Repository) GetRun(ctx context.Context, id int64) (core.ScheduleRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM schedule_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScheduleRun{}, ErrNotFound
	}
	if err != nil {
		return core.ScheduleRun{}, fmt.Errorf("get schedule run: %w", err)
	}
	return run, nil
}

func (r *Repository) GetRunByMonth(ctx context.Context, year, month int) (core.ScheduleRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM schedule_runs WHERE target_year = ? AND target_month = ?`,
		year, month)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScheduleRun{}, ErrNotFound
	}
	if err != nil {
		return core.ScheduleRun{}, fmt.Errorf("get schedule run by month: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, newest cycle first. When year is non-zero only
// that year's runs are returned.
func (r *Repository) ListRuns(ctx context.Context, year int) ([]core.ScheduleRun, error) {
	query := `SELECT ` + runColumns + ` FROM schedule_runs`
	var args []any
	if year != 0 {
		query += ` WHERE target_year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY target_year DESC, target_month DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedule runs: %w", err)
	}
	defer rows.Close()

	var runs []core.ScheduleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list schedule runs: %w", err)
	}
	return runs, nil
}

func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]core.ScheduleRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM schedule_runs
		 ORDER BY target_year DESC, target_month DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []core.ScheduleRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	return runs, nil
}

// ListRunYears returns the distinct years runs exist for, newest first.
func (r *Repository) ListRunYears(ctx context.Context) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT target_year FROM schedule_runs ORDER BY target_year DESC`)
	if err != nil {
		return nil, fmt.Errorf("list run years: %w", err)
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, fmt.Errorf("scan run year: %w", err)
		}
		years = append(years, y)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run years: %w", err)
	}
	return years, nil
}

// UpdateRunSummary stores the numbers computed at generation time.
func (r *Repository) UpdateRunSummary(ctx context.Context, run core.ScheduleRun) error {
	counts, err := encodeFrequencyCounts(run.FrequencyCounts)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_runs
		SET models_paid = ?, total_payout_cents = ?, frequency_counts = ?, export_path = ?
		WHERE id = ?`,
		run.ModelsPaid, run.TotalPayout.Cents, counts, run.ExportPath, run.ID)
	if err != nil {
		return fmt.Errorf("update run summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run summary rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRun removes the run with its payouts and issues. Other runs' rows are
// untouched.
func (r *Repository) DeleteRun(ctx context.Context, id int64) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM validation_issues WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete run issues: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM payouts WHERE run_id = ?`, id); err != nil {
			return fmt.Errorf("delete run payouts: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM schedule_runs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete schedule run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete schedule run rows: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Schedule run deleted", "id", id)
	return nil
}

// RunTotals computes the paid/outstanding breakdown straight from the payout
// rows.
func (r *Repository) RunTotals(ctx context.Context, runID int64) (core.RunTotals, error) {
	totals := core.RunTotals{RunID: runID}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'paid' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status <> 'paid' THEN amount_cents ELSE 0 END), 0)
		FROM payouts WHERE run_id = ?`, runID).
		Scan(&totals.TotalCount, &totals.PaidCount, &totals.Paid.Cents, &totals.Outstanding.Cents)
	if err != nil {
		return core.RunTotals{}, fmt.Errorf("run totals: %w", err)
	}
	return totals, nil
}

func scanRun(row rowScanner) (core.ScheduleRun, error) {
	var (
		run       core.ScheduleRun
		inactive  int
		counts    string
		createdAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.Year, &run.Month, &run.Currency, &inactive,
		&run.ModelsPaid, &run.TotalPayout.Cents, &counts, &run.ExportPath, &createdAt)
	if err != nil {
		return core.ScheduleRun{}, err
	}
	run.IncludeInactive = inactive != 0
	run.CreatedAt = createdAt.Time
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &run.FrequencyCounts); err != nil {
			return core.ScheduleRun{}, fmt.Errorf("decode frequency counts: %w", err)
		}
	}
	return run, nil
}

func encodeFrequencyCounts(counts map[core.Frequency]int) (string, error) {
	if counts == nil {
		counts = map[core.Frequency]int{}
	}
	b, err := json.Marshal(counts)
	if err != nil {
		return "", fmt.Errorf("encode frequency counts: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
