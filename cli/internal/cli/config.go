package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/pulse/client/pkg/pulseapi"
	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
)

const (
	HandoffBackendFile     = "file"
	HandoffBackendPostgres = "postgres"
)

// Config holds the settings shared by all commands.
type Config struct {
	APIURL string
	UserID string

	HandoffBackend string
	HandoffDir     string
	Postgres       handoff.PostgresConfig

	SentryDSN         string
	SentryEnvironment string
}

// LoadConfig reads the configuration from the environment.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		APIURL:         getenv("PULSE_API_URL"),
		UserID:         getenv("PULSE_USER_ID"),
		HandoffBackend: getenv("PULSE_HANDOFF_BACKEND"),
		HandoffDir:     getenv("PULSE_HANDOFF_DIR"),
		Postgres: handoff.PostgresConfig{
			Host:     getenv("POSTGRES_HOST"),
			Port:     getenv("POSTGRES_PORT"),
			Database: getenv("POSTGRES_DB"),
			Username: getenv("POSTGRES_USER"),
			Password: getenv("POSTGRES_PASSWORD"),
			SSLMode:  getenv("POSTGRES_SSLMODE"),
		},
		SentryDSN:         getenv("SENTRY_DSN"),
		SentryEnvironment: getenv("SENTRY_ENVIRONMENT"),
	}

	if cfg.APIURL == "" {
		cfg.APIURL = pulseapi.DefaultBaseURL
	}
	if cfg.HandoffBackend == "" {
		cfg.HandoffBackend = HandoffBackendFile
	}
	switch cfg.HandoffBackend {
	case HandoffBackendFile:
		if cfg.HandoffDir == "" {
			cfg.HandoffDir = defaultHandoffDir()
		}
	case HandoffBackendPostgres:
		if err := cfg.Postgres.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid postgres handoff config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("PULSE_HANDOFF_BACKEND must be %q or %q, got: %s",
			HandoffBackendFile, HandoffBackendPostgres, cfg.HandoffBackend)
	}
	if cfg.SentryEnvironment == "" {
		cfg.SentryEnvironment = "development"
	}
	return cfg, nil
}

func defaultHandoffDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pulse"
	}
	return filepath.Join(dir, "pulse")
}

// LoadDotEnv loads variables from path into the environment if the file
// exists. Variables already set are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
