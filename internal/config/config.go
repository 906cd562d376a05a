// Package config loads process-level bootstrap configuration (database
// location, writer-lock timeout, backup retention) from the environment,
// with a .env fallback file for double-clicked binaries.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process bootstrap settings. Business configuration (CSL,
// calendar days, shelf-life policy, ...) lives in the settings package
// and is read through from the database, not from the environment.
type Config struct {
	DatabasePath       string
	WriterLockTimeout  time.Duration
	BackupDir          string
	BackupRetainCount  int
}

// Default returns a Config with sensible defaults, overridable via env vars.
func Default() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		DatabasePath:      filepath.Join(wd, "stockledger.db"),
		WriterLockTimeout: 10 * time.Second,
		BackupDir:         filepath.Join(wd, "backups"),
		BackupRetainCount: 10,
	}
}

// Load loads a .env file (if present) then overlays environment variables
// onto Default(). Existing OS environment variables are never overridden
// by .env, matching the search order: ./.env, then <executable dir>/.env.
func Load() *Config {
	loadDotEnv()

	cfg := Default()
	if v := os.Getenv("STOCKLEDGER_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("STOCKLEDGER_WRITER_LOCK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriterLockTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("STOCKLEDGER_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("STOCKLEDGER_BACKUP_RETAIN_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BackupRetainCount = n
		}
	}
	return cfg
}

// loadDotEnv loads ./.env, then <executable-dir>/.env, without overriding
// any OS environment variable that is already set.
func loadDotEnv() {
	paths := []string{".env"}
	if exePath, err := os.Executable(); err == nil {
		if exeDir := filepath.Dir(exePath); exeDir != "" {
			paths = append(paths, filepath.Join(exeDir, ".env"))
		}
	}

	seen := make(map[string]bool)
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		vals, err := godotenv.Read(p)
		if err != nil {
			continue
		}
		for k, v := range vals {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}
}
