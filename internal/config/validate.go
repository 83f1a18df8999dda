package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 1000 // Drive v3 files.list upper bound
	minChunkBytes     = 256 * kibibyte
	uploadChunkAlign  = 256 * kibibyte // googleapi rounds upload chunks to this
	maxRetriesCeiling = 10
	minConnectTimeout = 1 * time.Second
	minLoginTimeout   = 10 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first so users can
// fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.TokenPath == "" {
		errs = append(errs, errors.New("auth.token_path: must not be empty"))
	}

	if a.ClientSecretPath == "" {
		errs = append(errs, errors.New("auth.client_secret_path: must not be empty"))
	}

	if len(a.Scopes) == 0 {
		errs = append(errs, errors.New("auth.scopes: at least one scope is required"))
	}

	for _, s := range a.Scopes {
		if s == "" {
			errs = append(errs, errors.New("auth.scopes: scope must not be empty"))
		}
	}

	d, err := time.ParseDuration(a.LoginTimeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("auth.login_timeout: %w", err))
	} else if d < minLoginTimeout {
		errs = append(errs, fmt.Errorf("auth.login_timeout: must be at least %s, got %s", minLoginTimeout, d))
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.PageSize < minPageSize || t.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("transfers.page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, t.PageSize))
	}

	chunk, err := ParseSize(t.ChunkSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("transfers.chunk_size: %w", err))
	} else if chunk < minChunkBytes {
		errs = append(errs, fmt.Errorf("transfers.chunk_size: must be at least 256KiB, got %q", t.ChunkSize))
	}

	upload, err := ParseSize(t.UploadChunkSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("transfers.upload_chunk_size: %w", err))
	} else if upload < uploadChunkAlign || upload%uploadChunkAlign != 0 {
		errs = append(errs, fmt.Errorf("transfers.upload_chunk_size: must be a positive multiple of 256KiB, got %q",
			t.UploadChunkSize))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("network.connect_timeout: %w", err))
	} else if d < minConnectTimeout {
		errs = append(errs, fmt.Errorf("network.connect_timeout: must be at least %s, got %s", minConnectTimeout, d))
	}

	if n.MaxRetries < 0 || n.MaxRetries > maxRetriesCeiling {
		errs = append(errs, fmt.Errorf("network.max_retries: must be between 0 and %d, got %d",
			maxRetriesCeiling, n.MaxRetries))
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	switch l.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel)}
	}
}
