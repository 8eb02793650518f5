// Package cli holds the startup helpers shared by the paysched binaries:
// env loading, logger setup, config validation and repository init.
package cli

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"paysched/internal/config"
	"paysched/internal/log"
	"paysched/internal/storage"
)

// LoadEnvFile pulls a .env file into the environment when one exists.
// Missing files are fine, production sets real variables.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger installs the shared component logger as the slog default
// and returns it for direct use in main.
func SetupLogger() *slog.Logger {
	logger := log.New(log.DefaultConfig())
	slog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig reads the environment config, exiting the process
// when validation fails. None of the binaries can run on a half-valid
// config, so there is no error return.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Refusing to start", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitRepository opens the SQLite database at dbPath, running pending
// migrations, and exits the process on failure.
func InitRepository(logger *slog.Logger, dbPath string) *storage.Repository {
	repo, err := storage.NewRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}
