package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Validation range constants.
const (
	minChunkBytes     = 4 << 10  // 4 KiB
	maxChunkBytes     = 64 << 20 // 64 MiB
	minConnectTimeout = 1 * time.Second
	minReconnect      = 0
	minRetention      = time.Hour
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateWatch(&cfg.WatchConfig)...)
	errs = append(errs, validateCluster(&cfg.ClusterConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateJournal(&cfg.JournalConfig)...)
	errs = append(errs, validateServe(&cfg.ServeConfig)...)

	return errors.Join(errs...)
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	server, serverErr := parseDurationMin("server_timeout", w.ServerTimeout, 0)
	if serverErr != nil {
		errs = append(errs, serverErr)
	}

	client, clientErr := parseDurationMin("client_timeout", w.ClientTimeout, 0)
	if clientErr != nil {
		errs = append(errs, clientErr)
	}

	// The client deadline must leave the server room to end the call
	// cleanly; zero disables either side.
	if serverErr == nil && clientErr == nil && server > 0 && client > 0 && client <= server {
		errs = append(errs, fmt.Errorf("client_timeout: must exceed server_timeout (%s), got %s", server, client))
	}

	if _, err := parseDurationMin("connect_timeout", w.ConnectTimeout, minConnectTimeout); err != nil {
		errs = append(errs, err)
	}

	if _, err := parseDurationMin("reconnect_backoff", w.ReconnectBackoff, minReconnect); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateChunkSize(w.ChunkSize)...)

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("chunk_size: %w", err)}
	}

	if n < minChunkBytes || n > maxChunkBytes {
		return []error{fmt.Errorf("chunk_size: must be between 4KiB and 64MiB, got %s", s)}
	}

	return nil
}

func validateCluster(c *ClusterConfig) []error {
	var errs []error

	if c.TokenFile != "" && c.Server == "" {
		errs = append(errs, errors.New("token_file: requires server to be set"))
	}

	if c.CAFile != "" && c.InsecureSkipTLSVerify {
		errs = append(errs, errors.New("ca_file: cannot be combined with insecure_skip_tls_verify"))
	}

	if c.Server != "" && (c.Kubeconfig != "" || c.Context != "") {
		errs = append(errs, errors.New("server: cannot be combined with kubeconfig or context"))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateJournal(j *JournalConfig) []error {
	d, err := parseDurationMin("journal_retention", j.JournalRetention, 0)
	if err != nil {
		return []error{err}
	}

	// Zero keeps everything.
	if d != 0 && d < minRetention {
		return []error{fmt.Errorf("journal_retention: must be 0 or >= %s, got %s", minRetention, d)}
	}

	return nil
}

func validateServe(s *ServeConfig) []error {
	if s.ListenAddress == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(s.ListenAddress); err != nil {
		return []error{fmt.Errorf("listen_address: %w", err)}
	}

	return nil
}

// parseDurationMin parses a duration string and checks it meets a minimum.
func parseDurationMin(field, value string, minimum time.Duration) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return 0, fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return d, nil
}
