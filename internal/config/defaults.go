package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work against any cluster reachable through the
// default kubeconfig.
const (
	defaultServerTimeout    = "5m"
	defaultClientTimeout    = "6m"
	defaultConnectTimeout   = "10s"
	defaultReconnectBackoff = "1s"
	defaultChunkSize        = "1MiB"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultJournalRetention = "168h"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
// Paths left empty here are filled from the platform directories during
// resolution.
func DefaultConfig() *Config {
	return &Config{
		WatchConfig:   defaultWatchConfig(),
		LoggingConfig: defaultLoggingConfig(),
		JournalConfig: JournalConfig{
			JournalRetention: defaultJournalRetention,
		},
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		ServerTimeout:    defaultServerTimeout,
		ClientTimeout:    defaultClientTimeout,
		ConnectTimeout:   defaultConnectTimeout,
		ReconnectBackoff: defaultReconnectBackoff,
		ChunkSize:        defaultChunkSize,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
