package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/kubewatch/internal/config"
	"github.com/tonimelisma/kubewatch/internal/fanout"
	"github.com/tonimelisma/kubewatch/internal/journal"
	"github.com/tonimelisma/kubewatch/internal/kube"
	"github.com/tonimelisma/kubewatch/internal/metrics"
	"github.com/tonimelisma/kubewatch/internal/watching"
)

func TestParseResources(t *testing.T) {
	got, err := parseResources([]string{"pods", "apps/v1/deployments", "v1/configmaps"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "v1/pods", got[0].String())
	assert.Equal(t, "apps/v1/deployments", got[1].String())
	assert.Equal(t, "v1/configmaps", got[2].String())

	assert.Equal(t, "v1/pods, apps/v1/deployments, v1/configmaps", describeResources(got))
}

func TestParseResources_Errors(t *testing.T) {
	_, err := parseResources([]string{"pods", "v1/pods"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "given more than once")

	_, err = parseResources([]string{"apps//deployments"})
	require.ErrorIs(t, err, kube.ErrInvalidResource)
}

func TestWatcherOptions(t *testing.T) {
	cfg := &config.Resolved{
		ServerTimeout:    2 * time.Minute,
		ClientTimeout:    3 * time.Minute,
		ReconnectBackoff: 500 * time.Millisecond,
		ChunkSize:        4096,
		Namespace:        "prod",
		LabelSelector:    "app=web",
		FieldSelector:    "status.phase=Running",
	}
	res := kube.Resource{Group: "apps", Version: "v1", Plural: "deployments"}

	assert.Equal(t, watching.Options{
		Resource:         res,
		Namespace:        "prod",
		Selectors:        kube.Selectors{Label: "app=web", Field: "status.phase=Running"},
		ServerTimeout:    2 * time.Minute,
		ClientTimeout:    3 * time.Minute,
		ReconnectBackoff: 500 * time.Millisecond,
		ChunkSize:        4096,
	}, watcherOptions(cfg, res))
}

func TestSessionOptions(t *testing.T) {
	cfg := &config.Resolved{
		ConnectTimeout: 7 * time.Second,
		Cluster: config.ClusterConfig{
			Server:    "https://10.0.0.1:6443",
			TokenFile: "/var/run/token",
			CAFile:    "/etc/ca.crt",
		},
	}

	opts := sessionOptions(cfg)
	assert.Equal(t, "https://10.0.0.1:6443", opts.Server)
	assert.Equal(t, "/var/run/token", opts.TokenFile)
	assert.Equal(t, "/etc/ca.crt", opts.CAFile)
	assert.Equal(t, 7*time.Second, opts.ConnectTimeout)
}

func TestEventSinks_Deliver(t *testing.T) {
	ctx := context.Background()

	j, err := journal.Open(ctx, filepath.Join(t.TempDir(), "journal.db"), testLogger(t))
	require.NoError(t, err)

	defer j.Close()

	var out syncBuffer

	hub := fanout.NewHub(4, testLogger(t))
	sub := hub.Subscribe("v1/pods")
	m := metrics.New(func() bool { return false })

	sinks := &eventSinks{
		printer: newEventPrinter(&out, outputJSON),
		journal: j,
		metrics: m,
		hub:     hub,
		logger:  testLogger(t),
	}

	ev := watching.Event{
		Type:   watching.EventAdded,
		Object: json.RawMessage(`{"metadata":{"name":"web-0","namespace":"prod","resourceVersion":"9"}}`),
	}

	// A canceled context must not lose the journal write.
	canceled, cancel := context.WithCancel(ctx)
	cancel()

	sinks.deliver(canceled, "v1/pods", ev)

	assert.Contains(t, out.String(), `"type":"ADDED"`)

	entries, err := j.Recent(ctx, journal.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "web-0", entries[0].Name)

	n, err := testutil.GatherAndCount(m.Registry(), "kubewatch_events_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case msg := <-sub.C:
		assert.Equal(t, "ADDED", msg.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not receive event")
	}
}

func TestDaemonMux(t *testing.T) {
	hub := fanout.NewHub(4, testLogger(t))
	defer hub.Close()

	srv := httptest.NewServer(newDaemonMux(metrics.New(func() bool { return true }), hub))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)

	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "kubewatch_frozen 1")

	resp, err = http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeDaemon_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hub := fanout.NewHub(4, testLogger(t))
	sub := hub.Subscribe("")
	srv := &http.Server{
		Handler:           newDaemonMux(metrics.New(func() bool { return false }), hub),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- serveDaemon(ctx, srv, ln, hub) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serveDaemon did not return")
	}

	_, ok := <-sub.C
	assert.False(t, ok, "hub should be closed")
}

// fakeAPIServer serves discovery, one list page and a watch stream that
// sends one event and then stays open until the client goes away.
func fakeAPIServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"kind":"APIResourceList","groupVersion":"v1","resources":[{"name":"pods","namespaced":true,"kind":"Pod","verbs":["list","watch"]}]}`)
	})

	mux.HandleFunc("/api/v1/namespaces/default/pods", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("watch") != "true" {
			fmt.Fprint(w, `{"kind":"PodList","apiVersion":"v1","metadata":{"resourceVersion":"5"},"items":[{"metadata":{"name":"a","namespace":"default","resourceVersion":"4"}}]}`)

			return
		}

		if r.URL.Query().Get("resourceVersion") != "5" {
			http.Error(w, "unexpected resourceVersion", http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"type":"ADDED","object":{"metadata":{"name":"b","namespace":"default","resourceVersion":"6"}}}`)
		w.(http.Flusher).Flush()

		<-r.Context().Done()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func TestWatch_EndToEnd(t *testing.T) {
	api := fakeAPIServer(t)
	env := newTestEnv(t, fmt.Sprintf("server = %q\n", api.URL))

	var out syncBuffer

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", env.ConfigPath, "-q", "-n", "default", "watch", "--journal", "-o", "json", "pods"})
	cmd.SetOut(&out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() { errCh <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"name":"b"`)
	}, 10*time.Second, 10*time.Millisecond)

	// The daemon holds the PID file while running.
	pid, err := readPIDFile(env.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first, second eventLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "SYNTHETIC", first.Type)
	assert.Equal(t, "v1/pods", first.Resource)
	assert.Equal(t, "ADDED", second.Type)

	_, err = os.Stat(env.PIDFile)
	assert.True(t, os.IsNotExist(err), "PID file should be removed on exit")

	j, err := journal.Open(context.Background(), env.Journal, testLogger(t))
	require.NoError(t, err)

	defer j.Close()

	entries, err := j.Recent(context.Background(), journal.Query{Resource: "v1/pods"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Name)
	assert.Equal(t, "a", entries[1].Name)
}

func TestWatch_RequiresResource(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "watch")
	require.Error(t, err)
}

func TestWatch_SecondInstanceRefused(t *testing.T) {
	env := newTestEnv(t, "")

	cleanup, err := writePIDFile(env.PIDFile)
	require.NoError(t, err)

	defer cleanup()

	_, err = env.run(t, "watch", "-o", "json", "pods")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}
