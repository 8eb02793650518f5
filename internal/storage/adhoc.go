package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"paysched/internal/core"
)

const adhocColumns = `id, model_id, model_code, description, pay_date,
	amount_cents, status, created_at`

func (r *Repository) CreateAdhocPayment(ctx context.Context, a core.AdhocPayment) (core.AdhocPayment, error) {
	var modelID any
	if a.ModelID != 0 {
		modelID = a.ModelID
	}
	status := a.Status
	if status == "" {
		status = core.PayoutNotPaid
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO adhoc_payments (model_id, model_code, description, pay_date, amount_cents, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		modelID, a.ModelCode, a.Description, a.PayDate.ISO(), a.Amount.Cents, string(status))
	if err != nil {
		return core.AdhocPayment{}, fmt.Errorf("create adhoc payment: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.AdhocPayment{}, fmt.Errorf("create adhoc payment id: %w", err)
	}

	created, err := r.GetAdhocPayment(ctx, id)
	if err != nil {
		return core.AdhocPayment{}, err
	}

	slog.InfoContext(ctx, "Adhoc payment saved",
		"id", created.ID,
		"model_code", created.ModelCode,
		"amount_cents", created.Amount.Cents)

	return created, nil
}

func (r *Repository) GetAdhocPayment(ctx context.Context, id int64) (core.AdhocPayment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+adhocColumns+` FROM adhoc_payments WHERE id = ?`, id)
	a, err := scanAdhoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.AdhocPayment{}, ErrNotFound
	}
	if err != nil {
		return core.AdhocPayment{}, fmt.Errorf("get adhoc payment: %w", err)
	}
	return a, nil
}

// ListAdhocPayments returns payments newest first, optionally filtered by
// status.
func (r *Repository) ListAdhocPayments(ctx context.Context, status core.PayoutStatus) ([]core.AdhocPayment, error) {
	query := `SELECT ` + adhocColumns + ` FROM adhoc_payments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY pay_date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list adhoc payments: %w", err)
	}
	defer rows.Close()

	var payments []core.AdhocPayment
	for rows.Next() {
		a, err := scanAdhoc(rows)
		if err != nil {
			return nil, fmt.Errorf("scan adhoc payment: %w", err)
		}
		payments = append(payments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list adhoc payments: %w", err)
	}
	return payments, nil
}

func (r *Repository) UpdateAdhocStatus(ctx context.Context, id int64, status core.PayoutStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE adhoc_payments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update adhoc status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update adhoc status rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteAdhocPayment(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM adhoc_payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete adhoc payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete adhoc payment rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAdhoc(row rowScanner) (core.AdhocPayment, error) {
	var (
		a         core.AdhocPayment
		modelID   sql.NullInt64
		payDate   string
		status    string
		createdAt sql.NullTime
	)
	err := row.Scan(&a.ID, &modelID, &a.ModelCode, &a.Description, &payDate,
		&a.Amount.Cents, &status, &createdAt)
	if err != nil {
		return core.AdhocPayment{}, err
	}
	a.ModelID = modelID.Int64
	if a.PayDate, err = core.ParseDate(payDate); err != nil {
		return core.AdhocPayment{}, fmt.Errorf("adhoc payment %d pay date: %w", a.ID, err)
	}
	a.Status = core.PayoutStatus(status)
	a.CreatedAt = createdAt.Time
	return a, nil
}
