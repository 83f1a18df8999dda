package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file beyond the client secret.
const (
	defaultClientSecretName = "credentials.json"
	defaultTokenName        = "token.json"
	defaultLoginTimeout     = "5m"
	defaultPageSize         = 10
	defaultChunkSize        = "100MiB"
	defaultUploadChunkSize  = "16MiB"
	defaultConnectTimeout   = "10s"
	defaultMaxRetries       = 3
	defaultUserAgent        = "gdrive-go/0.1"
	defaultLogLevel         = "warn"
)

// DriveScope grants full read/write access to the user's Drive.
const DriveScope = "https://www.googleapis.com/auth/drive"

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			ClientSecretPath: defaultClientSecretPath(),
			TokenPath:        defaultTokenPath(),
			Scopes:           []string{DriveScope},
			LoginTimeout:     defaultLoginTimeout,
		},
		Transfers: TransfersConfig{
			PageSize:        defaultPageSize,
			ChunkSize:       defaultChunkSize,
			UploadChunkSize: defaultUploadChunkSize,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			MaxRetries:     defaultMaxRetries,
			UserAgent:      defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
	}
}

func defaultClientSecretPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return defaultClientSecretName
	}

	return filepath.Join(dir, defaultClientSecretName)
}

func defaultTokenPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return defaultTokenName
	}

	return filepath.Join(dir, defaultTokenName)
}
