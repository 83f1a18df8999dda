package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after the override chain, with
// durations and sizes already parsed. Commands consume this, never Config.
type Resolved struct {
	ConfigPath       string
	ClientSecretPath string
	TokenPath        string
	Scopes           []string
	LoginTimeout     time.Duration
	PageSize         int
	ChunkSize        int64
	UploadChunkSize  int64
	ConnectTimeout   time.Duration
	MaxRetries       int
	UserAgent        string
	LogLevel         string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.TokenPath != "" {
		cfg.Auth.TokenPath = env.TokenPath
	}

	if env.ClientSecretPath != "" {
		cfg.Auth.ClientSecretPath = env.ClientSecretPath
	}

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	if cli.PageSize != 0 {
		cfg.Transfers.PageSize = cli.PageSize
	}

	// Overrides can break values the file validated, so check again.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfgPath, cfg), nil
}

// resolve converts a validated Config into its parsed form. Parse errors
// cannot occur here because Validate has already accepted every value.
func resolve(cfgPath string, cfg *Config) *Resolved {
	loginTimeout, _ := time.ParseDuration(cfg.Auth.LoginTimeout)
	connectTimeout, _ := time.ParseDuration(cfg.Network.ConnectTimeout)
	chunk, _ := ParseSize(cfg.Transfers.ChunkSize)
	uploadChunk, _ := ParseSize(cfg.Transfers.UploadChunkSize)

	return &Resolved{
		ConfigPath:       cfgPath,
		ClientSecretPath: expandTilde(cfg.Auth.ClientSecretPath),
		TokenPath:        expandTilde(cfg.Auth.TokenPath),
		Scopes:           cfg.Auth.Scopes,
		LoginTimeout:     loginTimeout,
		PageSize:         cfg.Transfers.PageSize,
		ChunkSize:        chunk,
		UploadChunkSize:  uploadChunk,
		ConnectTimeout:   connectTimeout,
		MaxRetries:       cfg.Network.MaxRetries,
		UserAgent:        cfg.Network.UserAgent,
		LogLevel:         cfg.Logging.LogLevel,
	}
}
