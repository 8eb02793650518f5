// Package auth implements password login with server side sessions.
// Passwords are stored as bcrypt hashes, sessions as random tokens in
// the database with a small LRU cache in front of validation.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"paysched/internal/cache"
	"paysched/internal/core"
	"paysched/internal/storage"
)

const (
	// SessionCookie is the name of the session cookie
	SessionCookie = "paysched_session"

	maxFailedLogins = 5
	lockoutWindow   = 15 * time.Minute

	// Validation hits the cache first. Kept well below the session TTL
	// so a revoked session stops working within minutes.
	sessionCacheSize = 512
	sessionCacheTTL  = 5 * time.Minute
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountLocked      = errors.New("too many failed login attempts, try again later")
	ErrSessionExpired     = errors.New("session expired")
)

// Service provides login, logout and session validation
type Service struct {
	repo     *storage.Repository
	sessions *cache.LRUCache[core.User]
	ttl      time.Duration
}

// NewService creates an auth service with the given session TTL
func NewService(repo *storage.Repository, ttl time.Duration) *Service {
	return &Service{
		repo:     repo,
		sessions: cache.NewLRUCache[core.User](sessionCacheSize, sessionCacheTTL),
		ttl:      ttl,
	}
}

// SessionCache exposes the session cache for cleanup registration
func (s *Service) SessionCache() cache.Cleaner {
	return s.sessions
}

// SessionTTL returns the configured session lifetime
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash verifies a password against a bcrypt hash
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Register creates a new user account
func (s *Service) Register(ctx context.Context, username, password string, role core.Role) (core.User, error) {
	if len(password) < 4 {
		return core.User{}, fmt.Errorf("password must be at least 4 characters")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return core.User{}, err
	}

	user := core.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := user.Validate(); err != nil {
		return core.User{}, err
	}

	return s.repo.CreateUser(ctx, user)
}

// Login verifies credentials and creates a session. The returned token
// is the value to store in the session cookie.
func (s *Service) Login(ctx context.Context, username, password, clientIP string) (string, core.User, error) {
	failures, err := s.repo.CountRecentFailedLogins(ctx, username, time.Now().Add(-lockoutWindow))
	if err != nil {
		return "", core.User{}, fmt.Errorf("check login attempts: %w", err)
	}
	if failures >= maxFailedLogins {
		slog.WarnContext(ctx, "Login rejected, account locked",
			"username", username,
			"client_ip", clientIP,
			"recent_failures", failures)
		return "", core.User{}, ErrAccountLocked
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Record the attempt so unknown usernames lock out too
			if recErr := s.repo.RecordLoginAttempt(ctx, username, clientIP, false); recErr != nil {
				slog.ErrorContext(ctx, "Failed to record login attempt", "error", recErr)
			}
			return "", core.User{}, ErrInvalidCredentials
		}
		return "", core.User{}, fmt.Errorf("load user: %w", err)
	}

	if !CheckPasswordHash(password, user.PasswordHash) {
		if recErr := s.repo.RecordLoginAttempt(ctx, username, clientIP, false); recErr != nil {
			slog.ErrorContext(ctx, "Failed to record login attempt", "error", recErr)
		}
		slog.WarnContext(ctx, "Login failed, bad password",
			"username", username,
			"client_ip", clientIP)
		return "", core.User{}, ErrInvalidCredentials
	}

	if err := s.repo.RecordLoginAttempt(ctx, username, clientIP, true); err != nil {
		slog.ErrorContext(ctx, "Failed to record login attempt", "error", err)
	}

	token := uuid.NewString()
	expiresAt := time.Now().Add(s.ttl)
	if err := s.repo.CreateSession(ctx, token, user.ID, expiresAt); err != nil {
		return "", core.User{}, fmt.Errorf("create session: %w", err)
	}
	s.sessions.Set(token, user)

	slog.InfoContext(ctx, "User logged in",
		"username", username,
		"client_ip", clientIP)

	return token, user, nil
}

// Logout removes the session for the given token
func (s *Service) Logout(ctx context.Context, token string) error {
	s.sessions.Delete(token)
	if err := s.repo.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ValidateSession resolves a session token to its user
func (s *Service) ValidateSession(ctx context.Context, token string) (core.User, error) {
	if token == "" {
		return core.User{}, ErrSessionExpired
	}

	if user, ok := s.sessions.Get(token); ok {
		return user, nil
	}

	user, expiresAt, err := s.repo.GetSession(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.User{}, ErrSessionExpired
		}
		return core.User{}, fmt.Errorf("load session: %w", err)
	}

	if time.Now().After(expiresAt) {
		if delErr := s.repo.DeleteSession(ctx, token); delErr != nil {
			slog.ErrorContext(ctx, "Failed to delete expired session", "error", delErr)
		}
		return core.User{}, ErrSessionExpired
	}

	s.sessions.Set(token, user)
	return user, nil
}

// EnsureDefaultAdmin creates the initial admin account when the user
// table is empty so a fresh install is reachable.
func (s *Service) EnsureDefaultAdmin(ctx context.Context) error {
	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := s.Register(ctx, "admin", "admin", core.RoleAdmin); err != nil {
		return fmt.Errorf("create default admin: %w", err)
	}

	slog.WarnContext(ctx, "Created default admin user, change the password",
		"username", "admin")
	return nil
}

// PurgeExpiredSessions deletes expired sessions from the database
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredSessions(ctx)
}

// PurgeLoop periodically removes expired sessions until ctx is done
func (s *Service) PurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.PurgeExpiredSessions(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Session purge failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.InfoContext(ctx, "Expired sessions purged", "removed", removed)
			}
		}
	}
}
