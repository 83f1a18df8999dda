// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for gdrive-go. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Transfers TransfersConfig `toml:"transfers"`
	Network   NetworkConfig   `toml:"network"`
	Logging   LoggingConfig   `toml:"logging"`
}

// AuthConfig locates the OAuth client secret and the credential store, and
// names the scopes requested during consent. Changing Scopes invalidates a
// stored credential that was granted a narrower set.
type AuthConfig struct {
	ClientSecretPath string   `toml:"client_secret_path"`
	TokenPath        string   `toml:"token_path"`
	Scopes           []string `toml:"scopes"`
	LoginTimeout     string   `toml:"login_timeout"`
}

// TransfersConfig controls list page size and transfer chunking.
type TransfersConfig struct {
	PageSize        int    `toml:"page_size"`
	ChunkSize       string `toml:"chunk_size"`
	UploadChunkSize string `toml:"upload_chunk_size"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	MaxRetries     int    `toml:"max_retries"`
	UserAgent      string `toml:"user_agent"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings and zero values mean "not specified".
type CLIOverrides struct {
	ConfigPath string
	LogLevel   string
	PageSize   int
}
