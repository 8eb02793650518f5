package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"paysched/internal/core"
	ports "paysched/internal/sheets"
)

// Header rows written when a mirror sheet is first created.
var (
	payoutHeader  = []any{"Pay Date", "Code", "Working Name", "Method", "Frequency", "Amount", "Status", "Notes"}
	summaryHeader = []any{"Cycle", "Models Paid", "Total Payout", "Currency", "Completed At"}
)

// Client mirrors paid payouts and run summaries into a Google
// spreadsheet. Sheet names are prefixed with the payout year so each
// year gets its own tab.
type Client struct {
	svc           *sheets.Service
	spreadsheetID string
	payoutsSheet  string
	summarySheet  string

	mu          sync.Mutex
	knownSheets map[string]bool
}

var (
	_ ports.PayoutMirror     = (*Client)(nil)
	_ ports.RunSummaryMirror = (*Client)(nil)
	_ ports.Mirror           = (*Client)(nil)
)

// Options configures the Sheets client. Credentials come either from
// a service account (preferred for servers) or an OAuth client plus a
// stored token (see cmd/oauth-init).
type Options struct {
	SpreadsheetID string
	PayoutsSheet  string
	SummarySheet  string

	ServiceAccountFile string
	ServiceAccountJSON string
	OAuthClientFile    string
	OAuthClientJSON    string
	OAuthTokenFile     string
	OAuthTokenJSON     string
}

// New creates a Sheets client from the given options
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}

	payoutsSheet := strings.TrimSpace(opts.PayoutsSheet)
	if payoutsSheet == "" {
		payoutsSheet = "Payouts"
	}
	summarySheet := strings.TrimSpace(opts.SummarySheet)
	if summarySheet == "" {
		summarySheet = "Summary"
	}

	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		payoutsSheet:  payoutsSheet,
		summarySheet:  summarySheet,
		knownSheets:   make(map[string]bool),
	}, nil
}

// newSheetsService initializes a Sheets Service. Service account
// credentials win when both are configured, OAuth client plus token is
// the fallback for personal spreadsheets.
func newSheetsService(ctx context.Context, opts Options) (*sheets.Service, error) {
	serviceAccountJSON := strings.TrimSpace(opts.ServiceAccountJSON)
	serviceAccountFile := strings.TrimSpace(opts.ServiceAccountFile)

	if serviceAccountJSON != "" || serviceAccountFile != "" {
		var credentialsJSON []byte
		var err error
		if serviceAccountJSON != "" {
			slog.InfoContext(ctx, "Using inline service account credentials")
			credentialsJSON = []byte(serviceAccountJSON)
		} else {
			slog.InfoContext(ctx, "Reading service account credentials from file", "path", serviceAccountFile)
			credentialsJSON, err = os.ReadFile(serviceAccountFile)
			if err != nil {
				return nil, fmt.Errorf("read service account file: %w", err)
			}
		}

		service, err := sheets.NewService(ctx,
			option.WithCredentialsJSON(credentialsJSON),
			option.WithScopes(sheets.SpreadsheetsScope))
		if err != nil {
			return nil, fmt.Errorf("create sheets service: %w", err)
		}
		return service, nil
	}

	clientJSON := strings.TrimSpace(opts.OAuthClientJSON)
	clientFile := strings.TrimSpace(opts.OAuthClientFile)
	var clientBytes []byte
	var err error
	switch {
	case clientJSON != "":
		clientBytes = []byte(clientJSON)
	case clientFile != "":
		clientBytes, err = os.ReadFile(clientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}

	tokenJSON := strings.TrimSpace(opts.OAuthTokenJSON)
	tokenFile := strings.TrimSpace(opts.OAuthTokenFile)
	var tokenBytes []byte
	switch {
	case tokenJSON != "":
		tokenBytes = []byte(tokenJSON)
	case tokenFile != "":
		tokenBytes, err = os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth token file: %w", err)
		}
	default:
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	oauthCfg, err := googleauth.ConfigFromJSON(clientBytes, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenBytes, &token); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	service, err := sheets.NewService(ctx,
		option.WithHTTPClient(oauthCfg.Client(ctx, &token)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// AppendPayout appends one paid payout to the year's payouts sheet
func (c *Client) AppendPayout(ctx context.Context, p core.Payout) (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheetName := yearPrefixedName(c.payoutsSheet, p.PayDate.Year())
	if err := c.ensureSheet(ctx, sheetName, payoutHeader); err != nil {
		return "", err
	}

	vr := &sheets.ValueRange{Values: [][]any{payoutRow(p)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheetName+"!A:H", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append payout to %s: %w", sheetName, err)
	}

	ref := sheetName
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// AppendRunSummary appends a completed schedule run to the year's
// summary sheet
func (c *Client) AppendRunSummary(ctx context.Context, run core.ScheduleRun) (string, error) {
	if err := run.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheetName := yearPrefixedName(c.summarySheet, run.Year)
	if err := c.ensureSheet(ctx, sheetName, summaryHeader); err != nil {
		return "", err
	}

	vr := &sheets.ValueRange{Values: [][]any{summaryRow(run)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheetName+"!A:E", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append run summary to %s: %w", sheetName, err)
	}

	ref := sheetName
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// ensureSheet creates the named sheet with a header row on first use.
// Known names are cached so the metadata read happens once per sheet.
func (c *Client) ensureSheet(ctx context.Context, name string, header []any) error {
	c.mu.Lock()
	known := c.knownSheets[name]
	c.mu.Unlock()
	if known {
		return nil
	}

	meta, err := c.svc.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			c.remember(name)
			return nil
		}
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: name},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		// Another writer may have created it between Get and BatchUpdate
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			c.remember(name)
			return nil
		}
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	vr := &sheets.ValueRange{Values: [][]any{header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, name+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}

	slog.InfoContext(ctx, "Created mirror sheet", "sheet", name)
	c.remember(name)
	return nil
}

func (c *Client) remember(name string) {
	c.mu.Lock()
	c.knownSheets[name] = true
	c.mu.Unlock()
}

func payoutRow(p core.Payout) []any {
	return []any{
		p.PayDate.ISO(),
		p.ModelCode,
		p.WorkingName,
		p.PaymentMethod,
		string(p.Frequency),
		p.Amount.Float64(),
		p.Status.Label(),
		p.Notes,
	}
}

func summaryRow(run core.ScheduleRun) []any {
	completedAt := run.CreatedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return []any{
		run.Cycle(),
		run.ModelsPaid,
		run.TotalPayout.Float64(),
		run.Currency,
		completedAt.UTC().Format(time.RFC3339),
	}
}

// yearPrefixedName builds the per-year tab name. A base that already
// starts with a four-digit year is used as-is.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	switch {
	case base == "":
		return ""
	case hasYearPrefix(base):
		return base
	}
	return fmt.Sprintf("%d %s", year, base)
}

func hasYearPrefix(s string) bool {
	if len(s) < 5 || s[4] != ' ' {
		return false
	}
	y, err := strconv.Atoi(s[:4])
	return err == nil && y > 1900 && y < 3000
}
