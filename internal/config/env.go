package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "ACCTSYNC_CONFIG"
	EnvDB           = "ACCTSYNC_DB"
	EnvBaseURL      = "ACCTSYNC_BASE_URL"
	EnvClientID     = "ACCTSYNC_CLIENT_ID"
	EnvClientSecret = "ACCTSYNC_CLIENT_SECRET"
	EnvJWTSecret    = "ACCTSYNC_JWT_SECRET"
	EnvLogLevel     = "ACCTSYNC_LOG_LEVEL"
	EnvDotEnv       = "ACCTSYNC_ENV_FILE"
)

// defaultDotEnv is read from the working directory when ACCTSYNC_ENV_FILE
// is not set.
const defaultDotEnv = ".env"

// EnvOverrides holds values derived from environment variables. Empty
// fields were not set.
type EnvOverrides struct {
	ConfigPath   string // ACCTSYNC_CONFIG: override config file path
	DBPath       string // ACCTSYNC_DB: database path
	BaseURL      string // ACCTSYNC_BASE_URL: provider API base
	ClientID     string // ACCTSYNC_CLIENT_ID
	ClientSecret string // ACCTSYNC_CLIENT_SECRET
	JWTSecret    string // ACCTSYNC_JWT_SECRET
	LogLevel     string // ACCTSYNC_LOG_LEVEL
}

// LoadDotEnv loads KEY=value pairs from the .env file into the process
// environment. Variables already set win over the file. A missing default
// file is not an error; a missing file named by ACCTSYNC_ENV_FILE is.
func LoadDotEnv() error {
	path := os.Getenv(EnvDotEnv)
	explicit := path != ""

	if !explicit {
		path = defaultDotEnv
	}

	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("loading env file %s: %w", path, err)
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		DBPath:       os.Getenv(EnvDB),
		BaseURL:      os.Getenv(EnvBaseURL),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		JWTSecret:    os.Getenv(EnvJWTSecret),
		LogLevel:     os.Getenv(EnvLogLevel),
	}
}

// apply copies every set override onto cfg.
func (e EnvOverrides) apply(cfg *Config) {
	setIf(&cfg.Store.Path, e.DBPath)
	setIf(&cfg.Provider.BaseURL, e.BaseURL)
	setIf(&cfg.Provider.ClientID, e.ClientID)
	setIf(&cfg.Provider.ClientSecret, e.ClientSecret)
	setIf(&cfg.Server.JWTSecret, e.JWTSecret)
	setIf(&cfg.Logging.LogLevel, e.LogLevel)
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
