package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"repovec/internal/execution"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 30
)

// SystemParameters is the read-only snapshot the server reports about its
// processing limits. Fetched once per run, never cached across runs.
type SystemParameters struct {
	ChunkSize  int `json:"chunk_size"`
	MaxWorkers int `json:"max_workers"`
}

// InstructionText pairs an instruction prefix with the text to embed.
type InstructionText struct {
	Instruction string
	Text        string
}

type embedRequest struct {
	Instructions []string `json:"instructions"`
	Texts        []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type healthResponse struct {
	Status   string  `json:"status"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type systemInfoResponse struct {
	Parameters SystemParameters `json:"parameters"`
}

// Manager owns the lifecycle of one named local embedding process and
// exposes its HTTP API. Callers that start it must Stop it in a deferred
// block, even on pipeline failure.
type Manager struct {
	runtime Runtime
	cfg     execution.ServerConfig
	client  *http.Client
	log     *zap.Logger

	// PollInterval and PollAttempts bound the readiness wait. Exposed so
	// tests can shrink them.
	PollInterval time.Duration
	PollAttempts int
}

// New creates a Manager for the configured process.
func New(runtime Runtime, cfg execution.ServerConfig, log *zap.Logger) *Manager {
	return &Manager{
		runtime: runtime,
		cfg:     cfg,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		log:          log,
		PollInterval: defaultPollInterval,
		PollAttempts: defaultPollAttempts,
	}
}

// BaseURL returns the server's HTTP endpoint.
func (m *Manager) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", m.cfg.Host, m.cfg.Port)
}

// EnsureRunning makes sure the embedding process is up and its model is
// loaded. It is idempotent and safe to call when another run already
// started the process. A build failure, a reported load error, or an
// exhausted readiness budget are all fatal; there are no retries.
func (m *Manager) EnsureRunning(ctx context.Context) error {
	m.log.Info("starting model server", zap.String("name", m.cfg.Name))

	running, err := m.runtime.IsRunning(ctx, m.cfg.Name)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", m.cfg.Name, err)
	}
	if running {
		m.log.Info("model server already running", zap.String("name", m.cfg.Name))
		return nil
	}

	exists, err := m.runtime.ImageExists(ctx, m.cfg.Name)
	if err != nil {
		return fmt.Errorf("inspect image %s: %w", m.cfg.Name, err)
	}
	if !exists {
		m.log.Info("building model server image",
			zap.String("name", m.cfg.Name), zap.String("dir", m.cfg.BuildDir))
		if err := m.runtime.BuildImage(ctx, m.cfg.Name, m.cfg.BuildDir); err != nil {
			return fmt.Errorf("build image %s: %w", m.cfg.Name, err)
		}
	}

	m.log.Info("creating model server process",
		zap.String("name", m.cfg.Name), zap.Int("port", m.cfg.Port))
	if err := m.runtime.CreateAndStart(ctx, m.cfg.Name, m.cfg.Port); err != nil {
		return fmt.Errorf("start %s: %w", m.cfg.Name, err)
	}

	if err := m.waitReady(ctx); err != nil {
		return err
	}
	m.log.Info("model server ready", zap.String("name", m.cfg.Name))
	return nil
}

// waitReady polls /health until the model reports ready. A reported error
// is fatal immediately; anything else (including transport errors while
// the server boots) keeps polling until the attempt budget runs out.
func (m *Manager) waitReady(ctx context.Context) error {
	for attempt := 0; attempt < m.PollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.PollInterval):
			}
		}

		health, err := m.health(ctx)
		if err != nil {
			m.log.Info("health check failed", zap.Error(err))
			continue
		}

		switch health.Status {
		case "ready":
			return nil
		case "error":
			return fmt.Errorf("model failed to load: %s", health.Message)
		default:
			m.log.Info("model still loading",
				zap.String("status", health.Status),
				zap.Float64("progress", health.Progress),
				zap.String("message", health.Message))
		}
	}

	return fmt.Errorf("model server not ready after %d attempts (%s)",
		m.PollAttempts, time.Duration(m.PollAttempts)*m.PollInterval)
}

func (m *Manager) health(ctx context.Context) (*healthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL()+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

// Embed posts instruction/text pairs to /embed and returns one vector per
// pair. The response is index-aligned with the input; that alignment is a
// documented contract of the server, checked defensively here. The caller
// must pre-batch according to SystemParameters; no splitting happens
// locally.
func (m *Manager) Embed(ctx context.Context, pairs []InstructionText) ([][]float32, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	reqBody := embedRequest{
		Instructions: make([]string, len(pairs)),
		Texts:        make([]string, len(pairs)),
	}
	for i, p := range pairs {
		reqBody.Instructions[i] = p.Instruction
		reqBody.Texts[i] = p.Text
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL()+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embeddings) != len(pairs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(pairs), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// SystemInfo fetches the server's processing parameters.
func (m *Manager) SystemInfo(ctx context.Context) (SystemParameters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.BaseURL()+"/system-info", nil)
	if err != nil {
		return SystemParameters{}, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return SystemParameters{}, fmt.Errorf("system-info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return SystemParameters{}, fmt.Errorf("system-info returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result systemInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return SystemParameters{}, fmt.Errorf("decode system-info response: %w", err)
	}
	return result.Parameters, nil
}

// Stop tears the process down. It is idempotent, and failures are logged
// rather than returned: teardown must never mask the primary pipeline
// result.
func (m *Manager) Stop(ctx context.Context) {
	m.log.Info("stopping model server", zap.String("name", m.cfg.Name))

	running, err := m.runtime.IsRunning(ctx, m.cfg.Name)
	if err != nil || !running {
		return
	}
	if err := m.runtime.StopAndRemove(ctx, m.cfg.Name); err != nil {
		m.log.Error("error stopping model server", zap.String("name", m.cfg.Name), zap.Error(err))
	}
}
