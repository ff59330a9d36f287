package modelserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"repovec/internal/execution"
)

// fakeRuntime records lifecycle calls and plays back canned state.
type fakeRuntime struct {
	running     bool
	imageExists bool

	builtDirs []string
	started   []string
	stopped   []string

	inspectErr error
}

func (f *fakeRuntime) IsRunning(ctx context.Context, name string) (bool, error) {
	return f.running, f.inspectErr
}

func (f *fakeRuntime) ImageExists(ctx context.Context, name string) (bool, error) {
	return f.imageExists, nil
}

func (f *fakeRuntime) BuildImage(ctx context.Context, name, dir string) error {
	f.builtDirs = append(f.builtDirs, dir)
	f.imageExists = true
	return nil
}

func (f *fakeRuntime) CreateAndStart(ctx context.Context, name string, port int) error {
	f.started = append(f.started, name)
	f.running = true
	return nil
}

func (f *fakeRuntime) StopAndRemove(ctx context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	f.running = false
	return nil
}

// newManager points a Manager at an httptest server and shrinks the poll
// budget so tests run fast.
func newManager(t *testing.T, rt Runtime, srv *httptest.Server) *Manager {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	m := New(rt, execution.ServerConfig{
		Name: "test-embedder",
		Host: host,
		Port: port,
	}, zap.NewNop())
	m.PollInterval = time.Millisecond
	m.PollAttempts = 5
	return m
}

func healthHandler(responses ...healthResponse) (http.HandlerFunc, *int) {
	calls := new(int)
	return func(w http.ResponseWriter, r *http.Request) {
		resp := responses[len(responses)-1]
		if *calls < len(responses) {
			resp = responses[*calls]
		}
		*calls++
		json.NewEncoder(w).Encode(resp)
	}, calls
}

func TestEnsureRunningAlreadyUp(t *testing.T) {
	rt := &fakeRuntime{running: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no HTTP call expected when process is already running")
	}))
	defer srv.Close()

	m := newManager(t, rt, srv)
	require.NoError(t, m.EnsureRunning(context.Background()))
	assert.Empty(t, rt.started)
	assert.Empty(t, rt.builtDirs)
}

func TestEnsureRunningBuildsMissingImage(t *testing.T) {
	handler, calls := healthHandler(healthResponse{Status: "ready"})
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()

	rt := &fakeRuntime{}
	m := newManager(t, rt, srv)
	m.cfg.BuildDir = "docker"

	require.NoError(t, m.EnsureRunning(context.Background()))
	assert.Equal(t, []string{"docker"}, rt.builtDirs)
	assert.Equal(t, []string{"test-embedder"}, rt.started)
	assert.Equal(t, 1, *calls)
}

func TestEnsureRunningSkipsBuildWhenImageExists(t *testing.T) {
	handler, _ := healthHandler(healthResponse{Status: "ready"})
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()

	rt := &fakeRuntime{imageExists: true}
	m := newManager(t, rt, srv)

	require.NoError(t, m.EnsureRunning(context.Background()))
	assert.Empty(t, rt.builtDirs)
	assert.Equal(t, []string{"test-embedder"}, rt.started)
}

func TestWaitReadyPollsUntilReady(t *testing.T) {
	handler, calls := healthHandler(
		healthResponse{Status: "loading", Progress: 0.2},
		healthResponse{Status: "loading", Progress: 0.7},
		healthResponse{Status: "ready"},
	)
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()

	rt := &fakeRuntime{imageExists: true}
	m := newManager(t, rt, srv)

	require.NoError(t, m.EnsureRunning(context.Background()))
	// Two loading polls, then the ready one. Never more.
	assert.Equal(t, 3, *calls)
}

func TestWaitReadyExhaustsBudget(t *testing.T) {
	handler, calls := healthHandler(healthResponse{Status: "loading"})
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()

	rt := &fakeRuntime{imageExists: true}
	m := newManager(t, rt, srv)
	m.PollAttempts = 3

	err := m.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready after 3 attempts")
	assert.Equal(t, 3, *calls)
}

func TestWaitReadyLoadErrorIsFatal(t *testing.T) {
	handler, calls := healthHandler(healthResponse{Status: "error", Message: "weights missing"})
	srv := httptest.NewServer(http.HandlerFunc(handler))
	defer srv.Close()

	rt := &fakeRuntime{imageExists: true}
	m := newManager(t, rt, srv)

	err := m.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights missing")
	assert.Equal(t, 1, *calls, "a reported load error is not retried")
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"inst-a", "inst-b"}, req.Instructions)
		require.Equal(t, []string{"text-a", "text-b"}, req.Texts)

		json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer srv.Close()

	m := newManager(t, &fakeRuntime{}, srv)
	vectors, err := m.Embed(context.Background(), []InstructionText{
		{Instruction: "inst-a", Text: "text-a"},
		{Instruction: "inst-b", Text: "text-b"},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
}

func TestEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	m := newManager(t, &fakeRuntime{}, srv)
	_, err := m.Embed(context.Background(), []InstructionText{
		{Instruction: "i", Text: "a"},
		{Instruction: "i", Text: "b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 embeddings, got 1")
}

func TestEmbedEmptyInput(t *testing.T) {
	m := newManager(t, &fakeRuntime{}, httptest.NewServer(http.NotFoundHandler()))
	vectors, err := m.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newManager(t, &fakeRuntime{}, srv)
	_, err := m.Embed(context.Background(), []InstructionText{{Instruction: "i", Text: "t"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed returned 500")
}

func TestSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/system-info", r.URL.Path)
		fmt.Fprint(w, `{"parameters": {"chunk_size": 20, "max_workers": 4}}`)
	}))
	defer srv.Close()

	m := newManager(t, &fakeRuntime{}, srv)
	params, err := m.SystemInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SystemParameters{ChunkSize: 20, MaxWorkers: 4}, params)
}

func TestStopIdempotent(t *testing.T) {
	rt := &fakeRuntime{running: true}
	m := New(rt, execution.ServerConfig{Name: "test-embedder"}, zap.NewNop())

	m.Stop(context.Background())
	m.Stop(context.Background())
	assert.Equal(t, []string{"test-embedder"}, rt.stopped, "second stop sees a stopped process and does nothing")
}
