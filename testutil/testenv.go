// Package testutil provides shared environment helpers for the live E2E
// tests, which drive the built binary against a real account.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by the E2E suite.
const (
	EnvAllowedAccounts = "GDRIVE_GO_ALLOWED_TEST_ACCOUNTS"
	EnvTestAccount     = "GDRIVE_GO_TEST_ACCOUNT"
	EnvTestSecret      = "GDRIVE_GO_TEST_CLIENT_SECRET"
	EnvTestToken       = "GDRIVE_GO_TEST_TOKEN"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) error {
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}

	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("loading %s: %w", envPath, err)
	}

	return nil
}

// Allowed reports whether account is listed in GDRIVE_GO_ALLOWED_TEST_ACCOUNTS
// (comma separated). The allowlist keeps a misconfigured run from touching a
// personal Drive.
func Allowed(account string) bool {
	if account == "" {
		return false
	}

	for _, a := range strings.Split(os.Getenv(EnvAllowedAccounts), ",") {
		if strings.EqualFold(strings.TrimSpace(a), account) {
			return true
		}
	}

	return false
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// CopyFile copies a file from src to dst with the given permissions.
func CopyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}

	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}

	return nil
}
