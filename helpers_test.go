package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testEnv is an isolated set of kubewatch paths under a temp directory.
type testEnv struct {
	Dir        string
	ConfigPath string
	FreezeFile string
	PIDFile    string
	Journal    string
}

// newTestEnv writes a config file pointing every state path into a temp
// directory. extra is appended verbatim to the config.
func newTestEnv(t *testing.T, extra string) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		Dir:        dir,
		ConfigPath: filepath.Join(dir, "config.toml"),
		FreezeFile: filepath.Join(dir, "freeze"),
		PIDFile:    filepath.Join(dir, "kubewatch.pid"),
		Journal:    filepath.Join(dir, "journal.db"),
	}

	content := fmt.Sprintf("freeze_file = %q\npid_file = %q\njournal_path = %q\n",
		env.FreezeFile, env.PIDFile, env.Journal) + extra

	require.NoError(t, os.WriteFile(env.ConfigPath, []byte(content), 0o600))

	return env
}

// run executes the root command with the env's config and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	return e.runContext(context.Background(), t, args...)
}

func (e *testEnv) runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", e.ConfigPath, "-q"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	err := cmd.ExecuteContext(ctx)

	return out.String(), err
}

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}
