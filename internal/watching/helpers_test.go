package watching

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/kubewatch/internal/kube"
)

var testPods = kube.Resource{Version: "v1", Plural: "pods"}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// watchScript serves one watch request.
type watchScript func(w http.ResponseWriter, r *http.Request)

// fakeAPI serves a list endpoint and scripted watch requests. Watch
// requests beyond the scripts fall back to idle, which holds the
// connection open until the client goes away.
type fakeAPI struct {
	mu           sync.Mutex
	listRV       string
	items        []string
	listOverride watchScript
	listCalls    int
	listPaths    []string
	scripts      []watchScript
	idle         watchScript
	watchQueries []url.Values
	watchPaths   []string
}

func newFakeAPI(t *testing.T, listRV string, items ...string) *fakeAPI {
	t.Helper()

	return &fakeAPI{listRV: listRV, items: items, idle: holdOpen}
}

func (f *fakeAPI) enqueue(scripts ...watchScript) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.scripts = append(f.scripts, scripts...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("watch") != "true" {
		f.serveList(w, r)

		return
	}

	f.mu.Lock()
	f.watchQueries = append(f.watchQueries, r.URL.Query())
	f.watchPaths = append(f.watchPaths, r.URL.Path)

	script := f.idle
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.mu.Unlock()

	script(w, r)
}

func (f *fakeAPI) serveList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.listCalls++
	f.listPaths = append(f.listPaths, r.URL.Path)
	override := f.listOverride
	body := fmt.Sprintf(`{"kind":"PodList","metadata":{"resourceVersion":%q},"items":[%s]}`,
		f.listRV, strings.Join(f.items, ","))
	f.mu.Unlock()

	if override != nil {
		override(w, r)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

func (f *fakeAPI) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.listCalls
}

func (f *fakeAPI) setIdle(script watchScript) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.idle = script
}

func (f *fakeAPI) paths() (list, watch []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.listPaths...), append([]string(nil), f.watchPaths...)
}

func (f *fakeAPI) queries() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]url.Values(nil), f.watchQueries...)
}

// newTestWatcher starts f on an httptest server and returns a Watcher
// pointed at it with backoff sleeps disabled.
func newTestWatcher(t *testing.T, f *fakeAPI, scopes ScopeResolver, freeze Freezer, opts Options) *Watcher {
	t.Helper()

	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	if opts.Resource == (kube.Resource{}) {
		opts.Resource = testPods
	}

	logger := testLogger(t)
	client := kube.NewClient(srv.URL, srv.Client(), logger, "")

	w := NewWatcher(client, scopes, freeze, opts, logger)
	w.sleepFunc = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	return w
}

// lines writes each line followed by a newline and then ends the response.
func lines(ls ...string) watchScript {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		for _, l := range ls {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}
}

// linesThenHold writes the lines, flushes, and holds the connection open.
func linesThenHold(ls ...string) watchScript {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		for _, l := range ls {
			_, _ = w.Write([]byte(l + "\n"))
		}

		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func holdOpen(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
	<-r.Context().Done()
}

// status responds with a Kubernetes Status body and the given HTTP code.
func status(code int, reason, message string) watchScript {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"kind":"Status","apiVersion":"v1","status":"Failure","code":%d,"reason":%q,"message":%q}`,
			code, reason, message)
	}
}

func object(name, rv string) string {
	return fmt.Sprintf(`{"kind":"Pod","apiVersion":"v1","metadata":{"name":%q,"namespace":"default","resourceVersion":%q}}`, name, rv)
}

func event(typ, name, rv string) string {
	return fmt.Sprintf(`{"type":%q,"object":%s}`, typ, object(name, rv))
}

func errorEvent(code int, reason, message string) string {
	return fmt.Sprintf(`{"type":"ERROR","object":{"kind":"Status","apiVersion":"v1","status":"Failure","code":%d,"reason":%q,"message":%q}}`,
		code, reason, message)
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

func names(t *testing.T, events []Event) []string {
	t.Helper()

	out := make([]string, 0, len(events))

	for _, ev := range events {
		meta, err := ev.Metadata()
		require.NoError(t, err)

		out = append(out, string(ev.Type)+":"+meta.Name)
	}

	return out
}

// scopeFunc adapts a function to ScopeResolver.
type scopeFunc func(ctx context.Context, res kube.Resource) (bool, error)

func (f scopeFunc) IsNamespaced(ctx context.Context, res kube.Resource) (bool, error) {
	return f(ctx, res)
}
