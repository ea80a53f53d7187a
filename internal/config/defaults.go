package config

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultTimeout   = "30s"
	defaultQuery     = "all"
	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
)

// DefaultConfig returns a Config populated with all default values. This is
// used both as the starting point for TOML decoding (so unset fields retain
// defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Timeout: defaultTimeout,
		},
		Sync: SyncConfig{
			Queries: []string{defaultQuery},
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
