package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "RECSYNC_CONFIG"
	EnvBaseURL = "RECSYNC_BASE_URL"
	EnvToken   = "RECSYNC_TOKEN"
	EnvDataDir = "RECSYNC_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // RECSYNC_CONFIG: override config file path
	BaseURL    string // RECSYNC_BASE_URL: sync service endpoint
	Token      string // RECSYNC_TOKEN: bearer token, kept out of config files
	DataDir    string // RECSYNC_DATA_DIR: state directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the relevant
// fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		Token:      os.Getenv(EnvToken),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
