package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig       = "GDRIVE_GO_CONFIG"
	EnvTokenPath    = "GDRIVE_GO_TOKEN_PATH"
	EnvClientSecret = "GDRIVE_GO_CLIENT_SECRET"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath       string // GDRIVE_GO_CONFIG: override config file path
	TokenPath        string // GDRIVE_GO_TOKEN_PATH: credential store path
	ClientSecretPath string // GDRIVE_GO_CLIENT_SECRET: client secret JSON path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:       os.Getenv(EnvConfig),
		TokenPath:        os.Getenv(EnvTokenPath),
		ClientSecretPath: os.Getenv(EnvClientSecret),
	}
}
