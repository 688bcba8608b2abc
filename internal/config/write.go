package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions keeps the file owner-only because it may hold
// client and JWT secrets.
const configFilePermissions = 0o600

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is written by `config init`. Every setting is present as a
// commented-out default so users can discover options without reading docs.
const configTemplate = `# acctsync configuration
# Secrets are best kept out of this file: set ACCTSYNC_CLIENT_SECRET and
# ACCTSYNC_JWT_SECRET in the environment or in a .env file.

[provider]
# base_url      = "https://quickbooks.api.intuit.com/v3"
# token_url     = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
# minor_version = 73
# client_id     = ""

[retry]
# Attempts per provider call, including the first.
# max_attempts = 3
# base_delay   = "1s"

[sweeper]
# interval      = "5m"
# ceiling       = 5
# base_delay    = "60s"
# batch_size    = 100
# concurrency   = 4
# lease_timeout = "15m"

# Per-entity overrides; unset fields inherit [sweeper].
# [sweeper.entity.payment]
# ceiling = 8

[token]
# refresh_window = "2m"

[store]
# path         = ""
# busy_timeout = "5s"

[server]
# listen           = "127.0.0.1:8780"
# max_batch        = 100
# shutdown_timeout = "10s"

[accounts]
# Provider account used for bill lines with no category mapping.
# default_expense_account = ""
# Provider item used for invoice lines with no category mapping.
# default_income_item = ""

[logging]
# log_level          = "info"
# log_file           = ""
# log_format         = "auto"
# log_retention_days = 30
# log_max_size_mb    = 50

[network]
# connect_timeout = "10s"
# data_timeout    = "60s"
# user_agent      = ""
`

// WriteTemplate creates a commented config file at path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrConfigExists)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temp file in the target directory and
// renames it into place, so readers never see a partial file.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
