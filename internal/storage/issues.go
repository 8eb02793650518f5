package storage

import (
	"context"
	"database/sql"
	"fmt"

	"paysched/internal/core"
)

const issueColumns = `id, run_id, model_id, severity, message, created_at`

func (r *Repository) CreateIssue(ctx context.Context, issue core.ValidationIssue) error {
	var runID, modelID any
	if issue.RunID != 0 {
		runID = issue.RunID
	}
	if issue.ModelID != 0 {
		modelID = issue.ModelID
	}
	severity := issue.Severity
	if severity == "" {
		severity = core.SeverityError
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO validation_issues (run_id, model_id, severity, message)
		VALUES (?, ?, ?, ?)`,
		runID, modelID, string(severity), issue.Message)
	if err != nil {
		return fmt.Errorf("create validation issue: %w", err)
	}
	return nil
}

// CreateIssues records a batch, typically everything a run or an import
// collected.
func (r *Repository) CreateIssues(ctx context.Context, issues []core.ValidationIssue) error {
	if len(issues) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO validation_issues (run_id, model_id, severity, message)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare issue insert: %w", err)
		}
		defer stmt.Close()

		for _, issue := range issues {
			var runID, modelID any
			if issue.RunID != 0 {
				runID = issue.RunID
			}
			if issue.ModelID != 0 {
				modelID = issue.ModelID
			}
			severity := issue.Severity
			if severity == "" {
				severity = core.SeverityError
			}
			if _, err := stmt.ExecContext(ctx, runID, modelID, string(severity), issue.Message); err != nil {
				return fmt.Errorf("insert validation issue: %w", err)
			}
		}
		return nil
	})
}

// DeleteIssuesByRun clears a run's issues ahead of a refresh.
func (r *Repository) DeleteIssuesByRun(ctx context.Context, runID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM validation_issues WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete issues by run: %w", err)
	}
	return nil
}

func (r *Repository) ListIssuesByRun(ctx context.Context, runID int64) ([]core.ValidationIssue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM validation_issues WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list issues by run: %w", err)
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (r *Repository) ListRecentIssues(ctx context.Context, limit int) ([]core.ValidationIssue, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM validation_issues ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent issues: %w", err)
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (r *Repository) CountIssues(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM validation_issues`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count issues: %w", err)
	}
	return n, nil
}

func collectIssues(rows *sql.Rows) ([]core.ValidationIssue, error) {
	var issues []core.ValidationIssue
	for rows.Next() {
		var (
			issue     core.ValidationIssue
			runID     sql.NullInt64
			modelID   sql.NullInt64
			severity  string
			createdAt sql.NullTime
		)
		err := rows.Scan(&issue.ID, &runID, &modelID, &severity, &issue.Message, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan validation issue: %w", err)
		}
		issue.RunID = runID.Int64
		issue.ModelID = modelID.Int64
		issue.Severity = core.Severity(severity)
		issue.CreatedAt = createdAt.Time
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect issues: %w", err)
	}
	return issues, nil
}
