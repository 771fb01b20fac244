// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for kubewatch. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Keys are flat at the top level of the file; the Go structs group them
// into embedded sections.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	WatchConfig
	ClusterConfig
	LoggingConfig
	JournalConfig
	ServeConfig
	FreezeConfig
}

// WatchConfig controls the watch protocol: timeouts, reconnect pacing,
// read size and which objects are selected.
type WatchConfig struct {
	ServerTimeout    string `toml:"server_timeout"`
	ClientTimeout    string `toml:"client_timeout"`
	ConnectTimeout   string `toml:"connect_timeout"`
	ReconnectBackoff string `toml:"reconnect_backoff"`
	ChunkSize        string `toml:"chunk_size"`
	Namespace        string `toml:"namespace"`
	LabelSelector    string `toml:"label_selector"`
	FieldSelector    string `toml:"field_selector"`
}

// ClusterConfig selects how the API server is reached. When Server is
// set, kubeconfig loading is bypassed and TokenFile supplies the bearer
// token.
type ClusterConfig struct {
	Kubeconfig            string `toml:"kubeconfig"`
	Context               string `toml:"context"`
	Server                string `toml:"server"`
	TokenFile             string `toml:"token_file"`
	CAFile                string `toml:"ca_file"`
	InsecureSkipTLSVerify bool   `toml:"insecure_skip_tls_verify"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// JournalConfig controls the local event journal.
type JournalConfig struct {
	JournalEnabled   bool   `toml:"journal_enabled"`
	JournalPath      string `toml:"journal_path"`
	JournalRetention string `toml:"journal_retention"`
}

// ServeConfig controls the optional HTTP listener serving metrics,
// health and the websocket event feed. An empty address disables it.
type ServeConfig struct {
	ListenAddress string `toml:"listen_address"`
}

// FreezeConfig locates the freeze marker and the daemon PID file.
type FreezeConfig struct {
	FreezeFile string `toml:"freeze_file"`
	PIDFile    string `toml:"pid_file"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath    string  // --config flag (empty = use default)
	Namespace     *string // --namespace flag
	LabelSelector *string // --selector flag
	FieldSelector *string // --field-selector flag
	Kubeconfig    *string // --kubeconfig flag
	Context       *string // --context flag
	Journal       *bool   // --journal flag
	ListenAddress *string // --listen flag
}
