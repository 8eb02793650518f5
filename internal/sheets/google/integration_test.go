//go:build integration

package google

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"paysched/internal/core"
)

// These tests write to a real spreadsheet and need credentials in the
// environment: go test -tags=integration ./internal/sheets/google

func integrationOptions(t *testing.T) Options {
	t.Helper()

	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	opts := Options{
		SpreadsheetID:      spreadsheetID,
		PayoutsSheet:       "Integration Payouts",
		SummarySheet:       "Integration Summary",
		ServiceAccountFile: os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"),
		ServiceAccountJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
		OAuthClientFile:    os.Getenv("GOOGLE_OAUTH_CLIENT_FILE"),
		OAuthClientJSON:    os.Getenv("GOOGLE_OAUTH_CLIENT_JSON"),
		OAuthTokenFile:     os.Getenv("GOOGLE_OAUTH_TOKEN_FILE"),
		OAuthTokenJSON:     os.Getenv("GOOGLE_OAUTH_TOKEN_JSON"),
	}

	hasServiceAccount := opts.ServiceAccountFile != "" || opts.ServiceAccountJSON != ""
	hasOAuth := (opts.OAuthClientFile != "" || opts.OAuthClientJSON != "") &&
		(opts.OAuthTokenFile != "" || opts.OAuthTokenJSON != "")
	if !hasServiceAccount && !hasOAuth {
		t.Skip("Google credentials not configured, skipping integration test")
	}

	return opts
}

func TestIntegration_MirrorFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, integrationOptions(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	t.Run("AppendPayout", func(t *testing.T) {
		payout := core.Payout{
			PayDate:       core.NewDate(time.Now().Year(), int(time.Now().Month()), 7),
			ModelCode:     "ITEST",
			WorkingName:   "Integration Test",
			PaymentMethod: "Wire",
			Frequency:     core.Monthly,
			Amount:        core.Money{Cents: 101},
			Status:        core.PayoutPaid,
			Notes:         "integration test row, safe to delete",
		}

		ref, err := client.AppendPayout(ctx, payout)
		if err != nil {
			t.Fatalf("AppendPayout failed: %v", err)
		}
		if !strings.Contains(ref, "Integration Payouts") {
			t.Errorf("expected ref to name the payouts sheet, got %q", ref)
		}
		t.Logf("Appended payout at %s", ref)
	})

	t.Run("AppendRunSummary", func(t *testing.T) {
		run := core.ScheduleRun{
			Year:        time.Now().Year(),
			Month:       int(time.Now().Month()),
			Currency:    "USD",
			ModelsPaid:  1,
			TotalPayout: core.Money{Cents: 101},
			CreatedAt:   time.Now(),
		}

		ref, err := client.AppendRunSummary(ctx, run)
		if err != nil {
			t.Fatalf("AppendRunSummary failed: %v", err)
		}
		t.Logf("Appended run summary at %s", ref)
	})
}
