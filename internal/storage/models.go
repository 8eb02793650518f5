package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"paysched/internal/core"
)

const modelColumns = `id, code, real_name, working_name, status, start_date,
	payment_method, payment_frequency, amount_monthly_cents, crypto_wallet,
	created_at, updated_at`

// ModelFilter narrows ListModels; empty fields match everything. Query does a
// substring match on code, working name and real name.
type ModelFilter struct {
	Query     string
	Status    core.ModelStatus
	Frequency core.Frequency
	Method    string
}

func (r *Repository) CreateModel(ctx context.Context, m core.Model) (core.Model, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO models (code, real_name, working_name, status, start_date,
			payment_method, payment_frequency, amount_monthly_cents, crypto_wallet)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Code, m.RealName, m.WorkingName, string(m.Status), m.StartDate.ISO(),
		m.PaymentMethod, string(m.Frequency), m.MonthlyAmount.Cents, m.CryptoWallet)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Model{}, ErrDuplicateCode
		}
		return core.Model{}, fmt.Errorf("create model: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return core.Model{}, fmt.Errorf("create model id: %w", err)
	}

	created, err := r.GetModel(ctx, id)
	if err != nil {
		return core.Model{}, err
	}

	slog.InfoContext(ctx, "Model saved",
		"id", created.ID,
		"code", created.Code,
		"frequency", created.Frequency,
		"amount_monthly_cents", created.MonthlyAmount.Cents)

	return created, nil
}

func (r *Repository) GetModel(ctx context.Context, id int64) (core.Model, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE id = ?`, id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Model{}, ErrNotFound
	}
	if err != nil {
		return core.Model{}, fmt.Errorf("get model: %w", err)
	}
	return m, nil
}

func (r *Repository) GetModelByCode(ctx context.Context, code string) (core.Model, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+modelColumns+` FROM models WHERE code = ?`, code)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Model{}, ErrNotFound
	}
	if err != nil {
		return core.Model{}, fmt.Errorf("get model by code: %w", err)
	}
	return m, nil
}

func (r *Repository) UpdateModel(ctx context.Context, m core.Model) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE models SET code = ?, real_name = ?, working_name = ?, status = ?,
			start_date = ?, payment_method = ?, payment_frequency = ?,
			amount_monthly_cents = ?, crypto_wallet = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		m.Code, m.RealName, m.WorkingName, string(m.Status), m.StartDate.ISO(),
		m.PaymentMethod, string(m.Frequency), m.MonthlyAmount.Cents, m.CryptoWallet,
		m.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("update model: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update model rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteModel removes the payee while keeping history: payouts, ad-hoc
// payments and issues are detached, not deleted, and their denormalized
// columns stay intact.
func (r *Repository) DeleteModel(ctx context.Context, id int64) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			`UPDATE payouts SET model_id = NULL WHERE model_id = ?`,
			`UPDATE adhoc_payments SET model_id = NULL WHERE model_id = ?`,
			`UPDATE validation_issues SET model_id = NULL WHERE model_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("detach model references: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete model: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete model rows: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Model deleted", "id", id)
	return nil
}

func (r *Repository) ListModels(ctx context.Context, f ModelFilter) ([]core.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM models WHERE 1=1`
	var args []any
	if f.Query != "" {
		query += ` AND (code LIKE ? OR working_name LIKE ? OR real_name LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like, like)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Frequency != "" {
		query += ` AND payment_frequency = ?`
		args = append(args, string(f.Frequency))
	}
	if f.Method != "" {
		query += ` AND payment_method LIKE ?`
		args = append(args, "%"+f.Method+"%")
	}
	query += ` ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []core.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

// ModelExportRow is a model joined with one of its paid payouts, or just the
// model when it was never paid.
type ModelExportRow struct {
	Model     core.Model
	HasPayout bool
	PayDate   core.Date
	Amount    core.Money
	Status    core.PayoutStatus
	Notes     string
}

// ListModelExportRows feeds the models export: one row per paid payout, and a
// single bare row for models without any.
func (r *Repository) ListModelExportRows(ctx context.Context) ([]ModelExportRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.code, m.real_name, m.working_name, m.status, m.start_date,
			m.payment_method, m.payment_frequency, m.amount_monthly_cents, m.crypto_wallet,
			m.created_at, m.updated_at,
			p.pay_date, p.amount_cents, p.status, p.notes
		FROM models m
		LEFT JOIN payouts p ON p.model_id = m.id AND p.status = 'paid'
		ORDER BY m.code, p.pay_date`)
	if err != nil {
		return nil, fmt.Errorf("list model export rows: %w", err)
	}
	defer rows.Close()

	var out []ModelExportRow
	for rows.Next() {
		var (
			m         core.Model
			status    string
			frequency string
			startDate string
			createdAt sql.NullTime
			updatedAt sql.NullTime
			payDate   sql.NullString
			cents     sql.NullInt64
			payStatus sql.NullString
			payNotes  sql.NullString
		)
		err := rows.Scan(&m.ID, &m.Code, &m.RealName, &m.WorkingName, &status,
			&startDate, &m.PaymentMethod, &frequency, &m.MonthlyAmount.Cents,
			&m.CryptoWallet, &createdAt, &updatedAt,
			&payDate, &cents, &payStatus, &payNotes)
		if err != nil {
			return nil, fmt.Errorf("scan model export row: %w", err)
		}
		m.Status = core.ModelStatus(status)
		m.Frequency = core.Frequency(frequency)
		if m.StartDate, err = core.ParseDate(startDate); err != nil {
			return nil, fmt.Errorf("model %s start date: %w", m.Code, err)
		}
		m.CreatedAt = createdAt.Time
		m.UpdatedAt = updatedAt.Time

		row := ModelExportRow{Model: m}
		if payDate.Valid {
			d, err := core.ParseDate(payDate.String)
			if err != nil {
				return nil, fmt.Errorf("model %s pay date: %w", m.Code, err)
			}
			row.HasPayout = true
			row.PayDate = d
			row.Amount = core.Money{Cents: cents.Int64}
			row.Status = core.PayoutStatus(payStatus.String)
			row.Notes = payNotes.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list model export rows: %w", err)
	}
	return out, nil
}

func scanModel(row rowScanner) (core.Model, error) {
	var (
		m         core.Model
		status    string
		frequency string
		startDate string
		createdAt sql.NullTime
		updatedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Code, &m.RealName, &m.WorkingName, &status,
		&startDate, &m.PaymentMethod, &frequency, &m.MonthlyAmount.Cents,
		&m.CryptoWallet, &createdAt, &updatedAt)
	if err != nil {
		return core.Model{}, err
	}
	m.Status = core.ModelStatus(status)
	m.Frequency = core.Frequency(frequency)
	if m.StartDate, err = core.ParseDate(startDate); err != nil {
		return core.Model{}, fmt.Errorf("model %s start date: %w", m.Code, err)
	}
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return m, nil
}
