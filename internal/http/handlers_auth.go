package http

import (
	"errors"
	"log/slog"
	"net/http"

	"paysched/internal/auth"
	"paysched/internal/core"
	"paysched/internal/log"
	"paysched/internal/middleware/trace"
)

// pageContext carries the fields every authenticated page needs for the
// shared navigation.
type pageContext struct {
	Username string
	IsAdmin  bool
	Active   string
}

func (s *Server) pageContextFor(r *http.Request, active string) pageContext {
	user, _ := auth.UserFromContext(r.Context())
	return pageContext{
		Username: user.Username,
		IsAdmin:  user.Role == core.RoleAdmin,
		Active:   active,
	}
}

type loginView struct {
	Error    string
	Username string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// Already signed in, skip the form
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		if _, err := s.auth.ValidateSession(r.Context(), cookie.Value); err == nil {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
	}
	s.render(w, r, "login_page", loginView{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if resp := ParseFormOrFail(r); resp != nil {
		resp.Write(w)
		return
	}

	username := sanitizeInput(r.Form.Get("username"))
	password := r.Form.Get("password")
	clientIP := s.detector.ExtractClientIP(r)

	token, user, err := s.auth.Login(r.Context(), username, password, clientIP)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountLocked):
			s.renderLoginError(w, r, http.StatusTooManyRequests, username,
				"Too many failed attempts. Try again in a few minutes.")
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.renderLoginError(w, r, http.StatusUnauthorized, username,
				"Invalid username or password.")
		default:
			slog.ErrorContext(r.Context(), "Login failed",
				"error", err,
				"username", username,
				log.FieldRequestID, trace.RequestID(r.Context()))
			s.renderLoginError(w, r, http.StatusInternalServerError, username,
				"Something went wrong. Try again.")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.sessionSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.auth.SessionTTL().Seconds()),
	})

	slog.InfoContext(r.Context(), "User logged in",
		"username", user.Username,
		"role", string(user.Role))
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) renderLoginError(w http.ResponseWriter, r *http.Request, status int, username, msg string) {
	if s.templates == nil {
		http.Error(w, msg, status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, "login_page", loginView{Error: msg, Username: username}); err != nil {
		slog.ErrorContext(r.Context(), "Login template failed", "error", err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil {
		if err := s.auth.Logout(r.Context(), cookie.Value); err != nil {
			slog.WarnContext(r.Context(), "Logout failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.sessionSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	redirect(w, r, "/login")
}
