package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Resolved is the effective configuration with durations and sizes
// parsed and default paths filled in.
type Resolved struct {
	ConfigPath string

	ServerTimeout    time.Duration
	ClientTimeout    time.Duration
	ConnectTimeout   time.Duration
	ReconnectBackoff time.Duration
	ChunkSize        int
	Namespace        string
	LabelSelector    string
	FieldSelector    string

	Cluster ClusterConfig
	Logging LoggingConfig

	JournalEnabled   bool
	JournalPath      string
	JournalRetention time.Duration

	ListenAddress string
	FreezeFile    string
	PIDFile       string
}

// resolve converts a validated Config into a Resolved.
func resolve(cfg *Config, cfgPath string) (*Resolved, error) {
	r := &Resolved{
		ConfigPath:     cfgPath,
		Namespace:      cfg.Namespace,
		LabelSelector:  cfg.LabelSelector,
		FieldSelector:  cfg.FieldSelector,
		Cluster:        cfg.ClusterConfig,
		Logging:        cfg.LoggingConfig,
		JournalEnabled: cfg.JournalEnabled,
		ListenAddress:  cfg.ListenAddress,
	}

	var err error

	durations := []struct {
		dst   *time.Duration
		value string
	}{
		{&r.ServerTimeout, cfg.ServerTimeout},
		{&r.ClientTimeout, cfg.ClientTimeout},
		{&r.ConnectTimeout, cfg.ConnectTimeout},
		{&r.ReconnectBackoff, cfg.ReconnectBackoff},
		{&r.JournalRetention, cfg.JournalRetention},
	}

	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(d.value); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	chunk, err := ParseSize(cfg.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	r.ChunkSize = int(chunk)

	r.Cluster.Kubeconfig = expandTilde(r.Cluster.Kubeconfig)
	r.Cluster.TokenFile = expandTilde(r.Cluster.TokenFile)
	r.Cluster.CAFile = expandTilde(r.Cluster.CAFile)
	r.Logging.LogFile = expandTilde(r.Logging.LogFile)

	r.JournalPath = orDefault(expandTilde(cfg.JournalPath), DefaultJournalPath)
	r.FreezeFile = orDefault(expandTilde(cfg.FreezeFile), DefaultFreezePath)
	r.PIDFile = orDefault(expandTilde(cfg.PIDFile), DefaultPIDPath)

	return r, nil
}

// ParseSize converts a human-readable size ("1MiB", "512KB", "65536") to
// bytes.
func ParseSize(s string) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return n, nil
}

func orDefault(path string, fallback func() string) string {
	if path != "" {
		return path
	}

	return fallback()
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
