package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"paysched/internal/core"
)

const payoutColumns = `id, run_id, model_id, pay_date, model_code, real_name,
	working_name, payment_method, payment_frequency, amount_cents, status,
	notes, adjusted, mirror_status, mirrored_at`

// PayoutFilter narrows ListPayouts; zero values match everything.
type PayoutFilter struct {
	PayDate core.Date
	Status  core.PayoutStatus
}

// InsertPayouts writes a run's payouts in one transaction.
func (r *Repository) InsertPayouts(ctx context.Context, payouts []core.Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO payouts (run_id, model_id, pay_date, model_code, real_name,
				working_name, payment_method, payment_frequency, amount_cents,
				status, notes, adjusted, mirror_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare payout insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range payouts {
			status := p.Status
			if status == "" {
				status = core.PayoutNotPaid
			}
			mirror := p.MirrorStatus
			if mirror == "" {
				mirror = core.MirrorPending
			}
			var modelID any
			if p.ModelID != 0 {
				modelID = p.ModelID
			}
			_, err := stmt.ExecContext(ctx, p.RunID, modelID, p.PayDate.ISO(),
				p.ModelCode, p.RealName, p.WorkingName, p.PaymentMethod,
				string(p.Frequency), p.Amount.Cents, string(status), p.Notes,
				boolToInt(p.Adjusted), string(mirror))
			if err != nil {
				return fmt.Errorf("insert payout for %s: %w", p.ModelCode, err)
			}
		}
		return nil
	})
}

func (r *Repository) GetPayout(ctx context.Context, id int64) (core.Payout, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id)
	p, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payout{}, ErrNotFound
	}
	if err != nil {
		return core.Payout{}, fmt.Errorf("get payout: %w", err)
	}
	return p, nil
}

// ListPayouts returns a run's payouts ordered by pay date then code.
func (r *Repository) ListPayouts(ctx context.Context, runID int64, f PayoutFilter) ([]core.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE run_id = ?`
	args := []any{runID}
	if !f.PayDate.IsEmpty() {
		query += ` AND pay_date = ?`
		args = append(args, f.PayDate.ISO())
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY pay_date, model_code`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []core.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	return payouts, nil
}

// UpdatePayoutNote sets the note on a payout, scoped to its run so a stale
// form cannot touch another run's rows.
func (r *Repository) UpdatePayoutNote(ctx context.Context, runID, payoutID int64, notes string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payouts SET notes = ? WHERE id = ? AND run_id = ?`,
		notes, payoutID, runID)
	if err != nil {
		return fmt.Errorf("update payout note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payout note rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePayoutStatuses moves the given payouts to status and returns how many
// rows actually changed. Marking rows paid flags them for the mirror; rows
// already paid are left alone so their mirror state survives.
func (r *Repository) UpdatePayoutStatuses(ctx context.Context, runID int64, ids []int64, status core.PayoutStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)

	var query string
	if status == core.PayoutPaid {
		query = `UPDATE payouts SET status = 'paid', mirror_status = 'pending'
			WHERE run_id = ? AND status <> 'paid' AND id IN (` + placeholders + `)`
		args = append(args, runID)
	} else {
		query = `UPDATE payouts SET status = ?
			WHERE run_id = ? AND id IN (` + placeholders + `)`
		args = append(args, string(status), runID)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update payout statuses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update payout statuses rows: %w", err)
	}

	slog.InfoContext(ctx, "Payout statuses updated",
		"run_id", runID,
		"status", status,
		"requested", len(ids),
		"changed", n)

	return n, nil
}

// DeletePayoutsByRun clears a run's payouts ahead of a refresh.
func (r *Repository) DeletePayoutsByRun(ctx context.Context, runID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM payouts WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete payouts by run: %w", err)
	}
	return nil
}

// ListPayoutsByModel returns a model's payout history, newest first.
func (r *Repository) ListPayoutsByModel(ctx context.Context, modelID int64, limit int) ([]core.Payout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+payoutColumns+`
		FROM payouts
		WHERE model_id = ?
		ORDER BY pay_date DESC, id DESC
		LIMIT ?`, modelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payouts by model: %w", err)
	}
	defer rows.Close()

	var payouts []core.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// GetPendingMirrorPayouts returns paid payouts the bookkeeping mirror has not
// recorded yet.
func (r *Repository) GetPendingMirrorPayouts(ctx context.Context, limit int) ([]core.Payout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts
		 WHERE status = 'paid' AND mirror_status = 'pending'
		 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending mirror payouts: %w", err)
	}
	defer rows.Close()

	var payouts []core.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending mirror payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get pending mirror payouts: %w", err)
	}
	return payouts, nil
}

// MarkPayoutMirrored records a successful append to the bookkeeping sheet.
func (r *Repository) MarkPayoutMirrored(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payouts SET mirror_status = 'synced', mirrored_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark payout mirrored: %w", err)
	}
	slog.InfoContext(ctx, "Payout marked as mirrored", "id", id)
	return nil
}

// MarkPayoutMirrorError flags a payout whose sheet append failed. Redelivered
// messages still retry it; the sweep only picks up pending rows.
func (r *Repository) MarkPayoutMirrorError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payouts SET mirror_status = 'error' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark payout mirror error: %w", err)
	}
	slog.WarnContext(ctx, "Payout marked with mirror error", "id", id)
	return nil
}

func scanPayout(row rowScanner) (core.Payout, error) {
	var (
		p          core.Payout
		modelID    sql.NullInt64
		payDate    string
		frequency  string
		status     string
		adjusted   int
		mirror     string
		mirroredAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.RunID, &modelID, &payDate, &p.ModelCode,
		&p.RealName, &p.WorkingName, &p.PaymentMethod, &frequency,
		&p.Amount.Cents, &status, &p.Notes, &adjusted, &mirror, &mirroredAt)
	if err != nil {
		return core.Payout{}, err
	}
	p.ModelID = modelID.Int64
	if p.PayDate, err = core.ParseDate(payDate); err != nil {
		return core.Payout{}, fmt.Errorf("payout %d pay date: %w", p.ID, err)
	}
	p.Frequency = core.Frequency(frequency)
	p.Status = core.PayoutStatus(status)
	p.Adjusted = adjusted != 0
	p.MirrorStatus = core.MirrorStatus(mirror)
	p.MirroredAt = mirroredAt.Time
	return p, nil
}
