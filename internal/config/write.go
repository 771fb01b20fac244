package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteTemplate when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the starter config written by "config init". Every
// setting is present as a commented-out default so users can discover
// the options without reading docs.
const configTemplate = `# kubewatch configuration
# Uncomment and modify to override defaults.

# ── Watch ──
# server_timeout = "5m"       # asked of the server per watch call
# client_timeout = "6m"       # hard deadline per watch call
# connect_timeout = "10s"
# reconnect_backoff = "1s"    # pause between relists
# chunk_size = "1MiB"         # bytes read per chunk from the stream
# namespace = ""              # empty watches all namespaces
# label_selector = ""
# field_selector = ""

# ── Cluster ──
# kubeconfig = ""             # default loading rules when empty
# context = ""
# server = ""                 # direct URL; bypasses kubeconfig
# token_file = ""             # bearer token, re-read periodically
# ca_file = ""
# insecure_skip_tls_verify = false

# ── Logging ──
# log_level = "info"          # debug, info, warn, error
# log_format = "auto"         # auto, text, json
# log_file = ""

# ── Journal ──
# journal_enabled = false
# journal_path = ""           # default: data directory
# journal_retention = "168h"  # 0 keeps everything

# ── Daemon ──
# listen_address = ""         # e.g. "127.0.0.1:9090" for /metrics, /healthz, /events
# freeze_file = ""
# pid_file = ""
`

// WriteTemplate writes the starter config to path. It refuses to
// overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partial file. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
