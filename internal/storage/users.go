package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"paysched/internal/core"
)

func (r *Repository) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, string(u.Role))
	if err != nil {
		if isUniqueViolation(err) {
			return core.User{}, ErrDuplicateUser
		}
		return core.User{}, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.User{}, fmt.Errorf("create user id: %w", err)
	}
	u.ID = id

	slog.InfoContext(ctx, "User created", "id", id, "username", u.Username, "role", u.Role)
	return u, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (core.User, error) {
	var (
		u         core.User
		role      string
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by username: %w", err)
	}
	u.Role = core.Role(role)
	u.CreatedAt = createdAt.Time
	return u, nil
}

func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (r *Repository) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession resolves a session token to its user and expiry.
func (r *Repository) GetSession(ctx context.Context, token string) (core.User, time.Time, error) {
	var (
		u         core.User
		role      string
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.role, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = ?`, token).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, time.Time{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, time.Time{}, fmt.Errorf("get session: %w", err)
	}
	u.Role = core.Role(role)
	return u, expiresAt, nil
}

func (r *Repository) DeleteSession(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions reaps stale rows and returns how many went away.
func (r *Repository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows: %w", err)
	}
	return n, nil
}

func (r *Repository) RecordLoginAttempt(ctx context.Context, username, clientIP string, success bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (username, client_ip, success) VALUES (?, ?, ?)`,
		username, clientIP, boolToInt(success))
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// CountRecentFailedLogins counts failures for a username since the cutoff,
// which drives the lockout check.
func (r *Repository) CountRecentFailedLogins(ctx context.Context, username string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE username = ? AND success = 0 AND created_at >= ?`,
		username, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent failed logins: %w", err)
	}
	return n, nil
}
