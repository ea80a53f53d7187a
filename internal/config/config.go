// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for recsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
}

// RemoteConfig controls how the sync service is reached.
type RemoteConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

// SyncConfig controls engine behavior: which named queries are tracked and
// how unresolved conflicts are handled.
type SyncConfig struct {
	Queries []string `toml:"queries"`
	// DiscardUnresolvedUpdates drops an update the service rejected without
	// supplying its own copy, instead of retrying it forever.
	DiscardUnresolvedUpdates bool `toml:"discard_unresolved_updates"`
	// SyncOnRead runs a best-effort sync cycle before list commands.
	SyncOnRead bool `toml:"sync_on_read"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// StorageConfig controls where local state lives.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	BaseURL    *string
	Token      *string
	DataDir    *string
	SyncOnRead *bool
}
