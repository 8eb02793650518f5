// Package backend resolves the configured payout mirror: disabled, an
// in-memory store for development, or Google Sheets.
package backend

import (
	"fmt"

	"paysched/internal/config"
)

// Kind names a mirror backend choice.
type Kind string

const (
	Disabled Kind = "disabled"
	Memory   Kind = "memory"
	Sheets   Kind = "sheets"
)

func (k Kind) valid() bool {
	switch k {
	case Disabled, Memory, Sheets:
		return true
	}
	return false
}

// Config carries everything needed to build a mirror backend.
type Config struct {
	Kind Kind

	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleOAuthClientJSON    string
	GoogleOAuthTokenJSON     string
}

// FromAppConfig narrows the application config down to the mirror settings.
func FromAppConfig(appCfg *config.Config) (Config, error) {
	if appCfg == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	kind := Kind(appCfg.MirrorBackend)
	if !kind.valid() {
		return Config{}, fmt.Errorf("unknown mirror backend %q", appCfg.MirrorBackend)
	}

	return Config{
		Kind: kind,

		GoogleSpreadsheetID:      appCfg.GoogleSpreadsheetID,
		GoogleSheetName:          appCfg.GoogleSheetName,
		GoogleServiceAccountFile: appCfg.GoogleServiceAccountFile,
		GoogleServiceAccountJSON: appCfg.GoogleServiceAccountJSON,
		GoogleOAuthClientFile:    appCfg.GoogleOAuthClientFile,
		GoogleOAuthTokenFile:     appCfg.GoogleOAuthTokenFile,
		GoogleOAuthClientJSON:    appCfg.GoogleOAuthClientJSON,
		GoogleOAuthTokenJSON:     appCfg.GoogleOAuthTokenJSON,
	}, nil
}

// Validate checks the fields the chosen kind needs. Only the sheets
// mirror has requirements beyond a known kind.
func (c Config) Validate() error {
	if !c.Kind.valid() {
		return fmt.Errorf("unknown mirror backend %q", c.Kind)
	}
	if c.Kind != Sheets {
		return nil
	}

	if c.GoogleSpreadsheetID == "" {
		return fmt.Errorf("spreadsheet ID is required for the sheets mirror")
	}
	if c.GoogleSheetName == "" {
		return fmt.Errorf("sheet name is required for the sheets mirror")
	}

	// A service account alone is enough. Without one, OAuth needs both a
	// client and a token.
	if c.GoogleServiceAccountFile != "" || c.GoogleServiceAccountJSON != "" {
		return nil
	}
	if c.GoogleOAuthClientFile == "" && c.GoogleOAuthClientJSON == "" {
		return fmt.Errorf("sheets mirror needs a service account or an OAuth client")
	}
	if c.GoogleOAuthTokenFile == "" && c.GoogleOAuthTokenJSON == "" {
		return fmt.Errorf("sheets mirror needs an OAuth token to go with the client")
	}
	return nil
}
