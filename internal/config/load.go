package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolveConfigPath picks the config file path: CLI > env > default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. It
// returns fully parsed settings ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := ResolveConfigPath(env, cli)

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	// Overrides can break constraints the file satisfied.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolve(cfg, cfgPath)
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.Namespace != "" {
		cfg.Namespace = env.Namespace
	}

	if env.Kubeconfig != "" {
		cfg.Kubeconfig = env.Kubeconfig
	}
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	setIf(&cfg.Namespace, cli.Namespace)
	setIf(&cfg.LabelSelector, cli.LabelSelector)
	setIf(&cfg.FieldSelector, cli.FieldSelector)
	setIf(&cfg.Kubeconfig, cli.Kubeconfig)
	setIf(&cfg.Context, cli.Context)
	setIf(&cfg.ListenAddress, cli.ListenAddress)
	setIf(&cfg.JournalEnabled, cli.Journal)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
