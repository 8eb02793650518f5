// Package http serves the payroll scheduling UI: server-rendered pages with
// htmx partial updates, session-guarded routes and file downloads for the
// export bundle formats.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"paysched/internal/auth"
	"paysched/internal/cache"
	"paysched/internal/middleware/ratelimit"
	"paysched/internal/middleware/security"
	"paysched/internal/middleware/trace"
	"paysched/internal/services"
	"paysched/internal/storage"
	appweb "paysched/web"
)

// Options carries the server knobs that come from configuration.
type Options struct {
	Addr           string
	BaseCurrency   string
	SessionSecure  bool
	TrustedProxies []string
}

type Server struct {
	http.Server
	templates *template.Template

	storage *storage.Repository
	auth    *auth.Service
	payroll *services.PayrollService
	exports *services.ExportService
	imports *services.ImportService

	traceMW  *trace.Middleware
	detector *security.Detector
	limiter  *ratelimit.Limiter
	cacheMgr *cache.Manager

	baseCurrency  string
	sessionSecure bool
	startedAt     time.Time
	shutdownOnce  sync.Once
}

// NewServer wires routes, middleware and templates, returning a server
// ready for ListenAndServe.
func NewServer(opts Options, repo *storage.Repository, authSvc *auth.Service,
	payroll *services.PayrollService, exports *services.ExportService,
	imports *services.ImportService) *Server {

	mux := http.NewServeMux()
	detector := security.NewDetector()
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			slog.Warn("Skipping invalid trusted proxy", "cidr", cidr, "error", err)
		}
	}

	s := &Server{
		storage:  repo,
		auth:     authSvc,
		payroll:  payroll,
		exports:  exports,
		imports:  imports,
		traceMW:  trace.NewMiddleware(detector.ExtractClientIP),
		detector: detector,
		limiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		cacheMgr: cache.NewManager(),

		baseCurrency:  opts.BaseCurrency,
		sessionSecure: opts.SessionSecure,
		startedAt:     time.Now(),
	}
	s.cacheMgr.Register(authSvc.SessionCache())
	s.cacheMgr.StartCleanup(10 * time.Minute)

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		slog.Warn("Failed parsing templates", "error", err)
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		slog.Warn("Failed to mount embedded static FS", "error", err)
	}

	authMW := auth.Middleware(authSvc)
	protected := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(auth.RequireAdmin(h)) }

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.Handle("POST /logout", protected(s.handleLogout))

	mux.Handle("GET /{$}", protected(s.handleRoot))
	mux.Handle("GET /dashboard", protected(s.handleDashboard))
	mux.Handle("GET /dashboard/export.xlsx", admin(s.handleDashboardExport))

	mux.Handle("GET /models", protected(s.handleModels))
	mux.Handle("GET /models/export", protected(s.handleModelsExport))
	mux.Handle("GET /models/new", admin(s.handleModelNew))
	mux.Handle("POST /models/new", admin(s.handleModelCreate))
	mux.Handle("GET /models/{id}", protected(s.handleModelDetail))
	mux.Handle("GET /models/{id}/edit", admin(s.handleModelEdit))
	mux.Handle("POST /models/{id}/edit", admin(s.handleModelUpdate))
	mux.Handle("POST /models/{id}/delete", admin(s.handleModelDelete))
	mux.Handle("POST /models/import", admin(s.handleModelsImport))

	mux.Handle("GET /schedules", protected(s.handleSchedules))
	mux.Handle("GET /schedules/table", protected(s.handleSchedulesTable))
	mux.Handle("GET /schedules/table/export.xlsx", protected(s.handleSchedulesTableExport))
	mux.Handle("GET /schedules/new", admin(s.handleScheduleNew))
	mux.Handle("POST /schedules/new", admin(s.handleScheduleCreate))
	mux.Handle("GET /schedules/{id}", protected(s.handleScheduleDetail))
	mux.Handle("GET /schedules/{id}/payouts", protected(s.handleSchedulePayouts))
	mux.Handle("POST /schedules/{id}/refresh", admin(s.handleScheduleRefresh))
	mux.Handle("POST /schedules/{id}/delete", admin(s.handleScheduleDelete))
	mux.Handle("GET /schedules/{id}/download/{kind}", protected(s.handleScheduleDownload))
	mux.Handle("POST /schedules/{id}/payouts/{payoutID}/note", protected(s.handlePayoutNote))
	mux.Handle("POST /schedules/{id}/payouts/bulk", protected(s.handlePayoutsBulk))

	mux.Handle("GET /adhoc", protected(s.handleAdhoc))
	mux.Handle("GET /adhoc/new", protected(s.handleAdhocNew))
	mux.Handle("POST /adhoc/new", protected(s.handleAdhocCreate))
	mux.Handle("POST /adhoc/{id}/status", protected(s.handleAdhocStatus))
	mux.Handle("POST /adhoc/{id}/delete", admin(s.handleAdhocDelete))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	handler := s.traceMW.Middleware(
		headers.Middleware(
			s.limiter.Middleware(detector.ExtractClientIP)(
				s.logSuspicious(mux))))

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// logSuspicious flags probe-looking requests without blocking them.
func (s *Server) logSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.DetectSuspiciousRequest(r) {
			slog.WarnContext(r.Context(), "Suspicious request pattern",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", s.detector.ExtractClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown stops the background cleanup goroutines and then the HTTP
// server itself.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheMgr.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Ping(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "Readiness check failed", "error", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics exposes the in-process counters as Prometheus-style text.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reqs := s.traceMW.GetMetrics()
	sec := s.detector.GetMetrics()
	rate := s.limiter.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# TYPE paysched_http_requests_total counter\n")
	fmt.Fprintf(w, "paysched_http_requests_total %d\n", reqs.TotalRequests)
	fmt.Fprintf(w, "# TYPE paysched_http_request_duration_us_avg gauge\n")
	fmt.Fprintf(w, "paysched_http_request_duration_us_avg %d\n", reqs.AverageResponseTime)
	fmt.Fprintf(w, "# TYPE paysched_http_suspicious_requests_total counter\n")
	fmt.Fprintf(w, "paysched_http_suspicious_requests_total %d\n", sec.SuspiciousRequests)
	fmt.Fprintf(w, "# TYPE paysched_ratelimit_rejected_total counter\n")
	fmt.Fprintf(w, "paysched_ratelimit_rejected_total %d\n", rate.Rejected)
	fmt.Fprintf(w, "# TYPE paysched_ratelimit_tracked_clients gauge\n")
	fmt.Fprintf(w, "paysched_ratelimit_tracked_clients %d\n", rate.ClientCount)
	fmt.Fprintf(w, "# TYPE paysched_uptime_seconds gauge\n")
	fmt.Fprintf(w, "paysched_uptime_seconds %d\n", int64(time.Since(s.startedAt).Seconds()))
}
