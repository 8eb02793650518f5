package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"paysched/internal/auth"
	"paysched/internal/core"
	"paysched/internal/services"
	"paysched/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Repository) {
	t.Helper()

	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "paysched.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	authSvc := auth.NewService(repo, time.Hour)
	ctx := context.Background()
	if _, err := authSvc.Register(ctx, "admin", "secret123", core.RoleAdmin); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	if _, err := authSvc.Register(ctx, "viewer", "secret123", core.RoleUser); err != nil {
		t.Fatalf("register viewer: %v", err)
	}

	exports := services.NewExportService(repo)
	payroll := services.NewPayrollService(repo, nil, nil, "")
	imports := services.NewImportService(repo)

	srv := NewServer(Options{Addr: ":0", BaseCurrency: "USD"}, repo, authSvc, payroll, exports, imports)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, repo
}

// noRedirectClient returns responses as-is so tests can assert on 303s.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func login(t *testing.T, ts *httptest.Server, username, password string) *http.Cookie {
	t.Helper()

	form := url.Values{"username": {username}, "password": {password}}
	resp, err := noRedirectClient().Post(ts.URL+"/login",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("login status: got %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			return c
		}
	}
	t.Fatalf("no session cookie in login response")
	return nil
}

func get(t *testing.T, ts *httptest.Server, path string, cookie *http.Cookie) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func postForm(t *testing.T, ts *httptest.Server, path string, cookie *http.Cookie, form url.Values) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func createModelForm(code, freq, amount string) url.Values {
	return url.Values{
		"code":           {code},
		"real_name":      {"Jane " + code},
		"working_name":   {"Star " + code},
		"status":         {"Active"},
		"start_date":     {"2024-01-15"},
		"payment_method": {"Wire"},
		"frequency":      {freq},
		"monthly_amount": {amount},
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := get(t, ts, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "ok" {
		t.Fatalf("healthz body: %q", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}

	resp = get(t, ts, "/readyz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "ready" {
		t.Fatalf("readyz body: %q", body)
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	// Wrong password re-renders the login page with an error.
	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	resp, err := noRedirectClient().Post(ts.URL+"/login",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Invalid username or password") {
		t.Fatalf("expected error message in body")
	}

	cookie := login(t, ts, "admin", "secret123")

	resp = get(t, ts, "/dashboard", cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard with session: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "admin") {
		t.Fatalf("dashboard should show the signed-in user")
	}

	resp = postForm(t, ts, "/logout", cookie, url.Values{})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The old token no longer opens protected pages.
	resp = get(t, ts, "/dashboard", cookie)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("dashboard after logout: %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/login" {
		t.Fatalf("redirect location: %q", loc)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/", "/dashboard", "/models", "/schedules", "/adhoc"} {
		resp := get(t, ts, path, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther {
			t.Fatalf("%s without session: got %d, want 303", path, resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != "/login" {
			t.Fatalf("%s redirect: %q", path, loc)
		}
	}

	// htmx requests get the redirect as a header instead of a 303.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/dashboard", nil)
	req.Header.Set("HX-Request", "true")
	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("htmx request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("htmx unauthenticated status: %d", resp.StatusCode)
	}
	if resp.Header.Get("HX-Redirect") != "/login" {
		t.Fatalf("missing HX-Redirect header")
	}
}

func TestAdminGating(t *testing.T) {
	ts, repo := newTestServer(t)
	viewer := login(t, ts, "viewer", "secret123")
	admin := login(t, ts, "admin", "secret123")

	m, err := repo.CreateModel(context.Background(), core.Model{
		Code: "GATE-1", RealName: "Jane", WorkingName: "Star",
		Status: core.ModelActive, StartDate: core.NewDate(2024, 1, 15),
		PaymentMethod: "Wire", Frequency: core.Monthly,
		MonthlyAmount: core.Money{Cents: 100000},
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}

	resp := postForm(t, ts, "/models/new", viewer, createModelForm("GATE-2", "monthly", "100.00"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create model status: got %d, want 403", resp.StatusCode)
	}

	resp = postForm(t, ts, "/schedules/new", viewer, url.Values{
		"target_year": {"2025"}, "target_month": {"3"}, "currency": {"USD"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create run status: got %d, want 403", resp.StatusCode)
	}

	resp = postForm(t, ts, fmt.Sprintf("/models/%d/delete", m.ID), viewer, url.Values{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer delete status: got %d, want 403", resp.StatusCode)
	}

	resp = postForm(t, ts, fmt.Sprintf("/models/%d/delete", m.ID), admin, url.Values{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("admin delete status: got %d, want 303", resp.StatusCode)
	}

	if _, err := repo.GetModel(context.Background(), m.ID); err == nil {
		t.Fatalf("model still exists after admin delete")
	}
}

func TestModelLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	resp := postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "weekly", "4000.00"))
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("create status: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	location := resp.Header.Get("Location")
	resp.Body.Close()
	if !strings.HasPrefix(location, "/models/") {
		t.Fatalf("create redirect: %q", location)
	}

	resp = get(t, ts, location, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status: %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "W-001") || !strings.Contains(body, "$4,000.00") {
		t.Fatalf("detail page missing model data")
	}

	// A second model with the same code is rejected with the form re-rendered.
	resp = postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "monthly", "100.00"))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("duplicate code status: got %d, want 422", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "already taken") {
		t.Fatalf("duplicate code message missing")
	}

	resp = get(t, ts, "/models?status=Active&frequency=weekly", cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered list status: %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "W-001") {
		t.Fatalf("filtered list missing model")
	}
}

func TestModelFormValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	form := createModelForm("", "weekly", "4000.00")
	resp := postForm(t, ts, "/models/new", cookie, form)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty code status: got %d, want 422", resp.StatusCode)
	}
	resp.Body.Close()

	form = createModelForm("V-001", "weekly", "-5")
	resp = postForm(t, ts, "/models/new", cookie, form)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("negative amount status: got %d, want 422", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "positive number") {
		t.Fatalf("amount message missing")
	}
}

func generateSchedule(t *testing.T, ts *httptest.Server, cookie *http.Cookie, year, month int) string {
	t.Helper()

	form := url.Values{
		"year":     {fmt.Sprint(year)},
		"month":    {fmt.Sprint(month)},
		"currency": {"USD"},
	}
	resp := postForm(t, ts, "/schedules/new", cookie, form)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("generate status: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	location := resp.Header.Get("Location")
	resp.Body.Close()
	if !strings.HasPrefix(location, "/schedules/") {
		t.Fatalf("generate redirect: %q", location)
	}
	return location
}

func TestScheduleGenerateFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	resp := postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "weekly", "4000.00"))
	resp.Body.Close()
	resp = postForm(t, ts, "/models/new", cookie, createModelForm("M-002", "monthly", "1500.00"))
	resp.Body.Close()

	detailPath := generateSchedule(t, ts, cookie, 2025, 8)

	resp = get(t, ts, detailPath, cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status: %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "August 2025") {
		t.Fatalf("detail page missing cycle label")
	}

	resp = get(t, ts, detailPath+"/payouts", cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payouts partial status: %d", resp.StatusCode)
	}
	body = readBody(t, resp)
	if !strings.Contains(body, "W-001") || !strings.Contains(body, "M-002") {
		t.Fatalf("payouts partial missing rows")
	}

	// Only the weekly model pays on the 7th.
	resp = get(t, ts, detailPath+"/payouts?pay_date=08/07/2025&status=not_paid", cookie)
	body = readBody(t, resp)
	if !strings.Contains(body, "W-001") || strings.Contains(body, "M-002") {
		t.Fatalf("pay date filter not applied")
	}

	// The same month cannot be generated twice.
	form := url.Values{"year": {"2025"}, "month": {"8"}, "currency": {"USD"}}
	resp = postForm(t, ts, "/schedules/new", cookie, form)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate run status: got %d, want 409", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "already exists") {
		t.Fatalf("duplicate run message missing")
	}
}

func TestSchedulePreview(t *testing.T) {
	ts, repo := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	resp := postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "weekly", "4000.00"))
	resp.Body.Close()

	form := url.Values{
		"year": {"2025"}, "month": {"8"}, "currency": {"USD"}, "preview": {"on"},
	}
	resp = postForm(t, ts, "/schedules/new", cookie, form)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status: %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "Preview 2025-08") || !strings.Contains(body, "W-001") {
		t.Fatalf("preview content missing")
	}

	// Preview writes nothing.
	runs, err := repo.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("preview created a run")
	}
}

func TestPayoutBulkAndNote(t *testing.T) {
	ts, repo := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")
	ctx := context.Background()

	resp := postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "weekly", "4000.00"))
	resp.Body.Close()
	detailPath := generateSchedule(t, ts, cookie, 2025, 8)

	var runID int64
	if _, err := fmt.Sscanf(detailPath, "/schedules/%d", &runID); err != nil {
		t.Fatalf("parse run id from %q: %v", detailPath, err)
	}
	payouts, err := repo.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 4 {
		t.Fatalf("expected 4 weekly payouts, got %d", len(payouts))
	}

	form := url.Values{
		"ids":    {fmt.Sprint(payouts[0].ID), fmt.Sprint(payouts[1].ID)},
		"status": {"paid"},
	}
	resp = postForm(t, ts, detailPath+"/payouts/bulk", cookie, form)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk status: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	trigger := resp.Header.Get("HX-Trigger")
	resp.Body.Close()
	if !strings.Contains(trigger, "payouts:updated") || !strings.Contains(trigger, "show-notification") {
		t.Fatalf("bulk triggers missing: %q", trigger)
	}

	updated, err := repo.ListPayouts(ctx, runID, storage.PayoutFilter{Status: core.PayoutPaid})
	if err != nil {
		t.Fatalf("list paid payouts: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 paid payouts, got %d", len(updated))
	}

	// Selecting nothing is a client error.
	resp = postForm(t, ts, detailPath+"/payouts/bulk", cookie, url.Values{"status": {"paid"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty bulk status: got %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	notePath := fmt.Sprintf("%s/payouts/%d/note", detailPath, payouts[2].ID)
	resp = postForm(t, ts, notePath, cookie, url.Values{"notes": {"wire confirmed"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("note status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	after, err := repo.ListPayouts(ctx, runID, storage.PayoutFilter{})
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	found := false
	for _, p := range after {
		if p.ID == payouts[2].ID {
			found = true
			if p.Notes != "wire confirmed" {
				t.Fatalf("note not saved: %q", p.Notes)
			}
		}
	}
	if !found {
		t.Fatalf("payout disappeared")
	}
}

func TestScheduleDownloads(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	resp := postForm(t, ts, "/models/new", cookie, createModelForm("W-001", "weekly", "4000.00"))
	resp.Body.Close()
	detailPath := generateSchedule(t, ts, cookie, 2025, 8)

	cases := []struct {
		kind        string
		contentType string
		marker      string
	}{
		{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ""},
		{"schedule_csv", "text/csv; charset=utf-8", "W-001"},
		{"models_csv", "text/csv; charset=utf-8", "W-001"},
		{"validation_csv", "text/csv; charset=utf-8", "Severity"},
		{"ics", "text/calendar; charset=utf-8", "BEGIN:VCALENDAR"},
	}
	for _, tc := range cases {
		resp := get(t, ts, detailPath+"/download/"+tc.kind, cookie)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status: %d", tc.kind, resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Type"); got != tc.contentType {
			t.Fatalf("%s content type: %q", tc.kind, got)
		}
		body := readBody(t, resp)
		if tc.marker != "" && !strings.Contains(body, tc.marker) {
			t.Fatalf("%s body missing %q", tc.kind, tc.marker)
		}
	}

	resp = get(t, ts, detailPath+"/download/pdf", cookie)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind status: got %d, want 404", resp.StatusCode)
	}
}

func TestModelsImportEndpoint(t *testing.T) {
	ts, repo := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	f := excelize.NewFile()
	if _, err := f.NewSheet("Models"); err != nil {
		t.Fatalf("new sheet: %v", err)
	}
	header := []any{"Code", "Status", "Real Name", "Working Name", "Start Date",
		"Payment Method", "Payment Frequency", "Monthly Amount", "Crypto Wallet"}
	if err := f.SetSheetRow("Models", "A1", &header); err != nil {
		t.Fatalf("set header: %v", err)
	}
	row := []any{"IMP-1", "Active", "Jane Doe", "Star", "2024-03-01", "Wire", "monthly", "1200.50", ""}
	if err := f.SetSheetRow("Models", "A2", &row); err != nil {
		t.Fatalf("set row: %v", err)
	}

	var workbook bytes.Buffer
	if err := f.Write(&workbook); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "roster.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(workbook.Bytes()); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/models/import", &body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("import request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	report := readBody(t, resp)
	if !strings.Contains(report, "1 models created") {
		t.Fatalf("import report wrong: %s", report)
	}

	imported, err := repo.GetModelByCode(context.Background(), "IMP-1")
	if err != nil {
		t.Fatalf("imported model missing: %v", err)
	}
	if imported.MonthlyAmount.Cents != 120050 {
		t.Fatalf("imported amount: %d", imported.MonthlyAmount.Cents)
	}
}

func TestAdhocLifecycle(t *testing.T) {
	ts, repo := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	form := url.Values{
		"description": {"Signing bonus"},
		"pay_date":    {"2025-08-20"},
		"amount":      {"500.00"},
		"status":      {"not_paid"},
	}
	resp := postForm(t, ts, "/adhoc/new", cookie, form)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("adhoc create status: got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()

	payments, err := repo.ListAdhocPayments(context.Background(), "")
	if err != nil {
		t.Fatalf("list adhoc: %v", err)
	}
	if len(payments) != 1 || payments[0].Description != "Signing bonus" {
		t.Fatalf("adhoc payment not created: %+v", payments)
	}

	statusPath := fmt.Sprintf("/adhoc/%d/status", payments[0].ID)
	resp = postForm(t, ts, statusPath, cookie, url.Values{"status": {"paid"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("adhoc status update: %d", resp.StatusCode)
	}

	paid, err := repo.GetAdhocPayment(context.Background(), payments[0].ID)
	if err != nil {
		t.Fatalf("get adhoc: %v", err)
	}
	if paid.Status != core.PayoutPaid {
		t.Fatalf("adhoc status: %s", paid.Status)
	}

	// Unknown model codes are rejected before anything is written.
	form.Set("model_code", "NOPE-99")
	resp = postForm(t, ts, "/adhoc/new", cookie, form)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unknown code status: got %d, want 422", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "No model with code") {
		t.Fatalf("unknown code message missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	// Generate some traffic first.
	for i := 0; i < 3; i++ {
		resp := get(t, ts, "/healthz", nil)
		resp.Body.Close()
	}

	resp := get(t, ts, "/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status: %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	for _, metric := range []string{
		"paysched_http_requests_total",
		"paysched_http_request_duration_us_avg",
		"paysched_ratelimit_rejected_total",
		"paysched_uptime_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("metrics missing %s", metric)
		}
	}
}

func TestDashboardReflectsMutations(t *testing.T) {
	ts, _ := newTestServer(t)
	cookie := login(t, ts, "admin", "secret123")

	resp := get(t, ts, "/dashboard", cookie)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postForm(t, ts, "/models/new", cookie, createModelForm("C-001", "monthly", "900.00"))
	resp.Body.Close()

	resp = get(t, ts, "/dashboard", cookie)
	body := readBody(t, resp)
	if !strings.Contains(body, ">1<") {
		t.Fatalf("dashboard not refreshed after model create")
	}
}
