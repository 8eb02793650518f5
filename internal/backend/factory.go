package backend

import (
	"context"
	"fmt"
	"log/slog"

	"paysched/internal/sheets"
	"paysched/internal/sheets/google"
	"paysched/internal/sheets/memory"
)

// Result is what the factory hands back. Mirror is nil when mirroring is
// disabled; Cleanup, when set, must run on shutdown.
type Result struct {
	Mirror  sheets.Mirror
	Cleanup func() error
}

// Factory builds the configured mirror backend.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger}
}

// CreateBackend validates cfg and builds the matching mirror.
func (f *Factory) CreateBackend(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case Disabled:
		f.logger.Info("Payout mirroring is disabled")
		return &Result{}, nil

	case Memory:
		f.logger.Info("Initialized in-memory mirror backend")
		return &Result{Mirror: memory.New()}, nil

	case Sheets:
		cli, err := google.New(ctx, google.Options{
			SpreadsheetID:      cfg.GoogleSpreadsheetID,
			PayoutsSheet:       cfg.GoogleSheetName,
			ServiceAccountFile: cfg.GoogleServiceAccountFile,
			ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
			OAuthClientFile:    cfg.GoogleOAuthClientFile,
			OAuthTokenFile:     cfg.GoogleOAuthTokenFile,
			OAuthClientJSON:    cfg.GoogleOAuthClientJSON,
			OAuthTokenJSON:     cfg.GoogleOAuthTokenJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("init Google Sheets client: %w", err)
		}
		f.logger.Info("Initialized Google Sheets mirror backend",
			"spreadsheet_id", cfg.GoogleSpreadsheetID,
			"sheet_name", cfg.GoogleSheetName)
		return &Result{Mirror: cli}, nil
	}
	return nil, fmt.Errorf("unknown mirror backend %q", cfg.Kind)
}
