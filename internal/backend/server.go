package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrServerNotFound is returned when stopping a server that was never started.
var ErrServerNotFound = errors.New("server not found")

// ServerManager manages sidecar inference server processes.
type ServerManager struct {
	servers      map[string]*ServerProcess
	pollInterval time.Duration
	mu           sync.RWMutex
}

// ServerProcess represents a running server process.
type ServerProcess struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	BaseURL string
}

// ServerConfig defines how to start and check a backend server.
type ServerConfig struct {
	Env          map[string]string
	Name         string
	BinPath      string
	Host         string
	HealthPath   string
	Args         []string
	Port         int
	ReadyTimeout time.Duration
}

// NewServerManager initializes a ServerManager.
func NewServerManager() *ServerManager {
	return &ServerManager{
		servers:      map[string]*ServerProcess{},
		pollInterval: time.Second,
	}
}

func serverKey(name string, port int) string {
	return fmt.Sprintf("%s-%d", name, port)
}

// StartServer starts a backend server and waits until its health endpoint answers 200.
// Starting a server that is already running is a no-op.
func (sm *ServerManager) StartServer(ctx context.Context, cfg ServerConfig) (*ServerProcess, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(cfg.Name, cfg.Port)
	if srv, exists := sm.servers[key]; exists {
		return srv, nil
	}

	binPath, err := exec.LookPath(cfg.BinPath)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, binPath, cfg.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s server: %w", cfg.Name, err)
	}

	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	baseURL := fmt.Sprintf("http://%s:%d", host, cfg.Port)

	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}

	timeout := cfg.ReadyTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	if err := sm.waitForServer(ctx, baseURL+healthPath, timeout); err != nil {
		cancel()
		if err := cmd.Process.Kill(); err != nil {
			slog.Error("Failed to kill server process", "name", cfg.Name, "error", err)
		}
		_ = cmd.Wait()
		return nil, fmt.Errorf("%s server did not become ready: %w", cfg.Name, err)
	}

	srv := &ServerProcess{cmd: cmd, cancel: cancel, BaseURL: baseURL}
	sm.servers[key] = srv

	slog.Info("Server started", "name", cfg.Name, "port", cfg.Port, "pid", cmd.Process.Pid)
	return srv, nil
}

// StopServer terminates a backend server.
func (sm *ServerManager) StopServer(name string, port int) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	key := serverKey(name, port)
	srv, exists := sm.servers[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrServerNotFound, key)
	}

	srv.stop()
	delete(sm.servers, key)

	slog.Info("Server stopped", "name", name, "port", port)
	return nil
}

// StopAll terminates all running servers.
func (sm *ServerManager) StopAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, srv := range sm.servers {
		srv.stop()
	}
	sm.servers = map[string]*ServerProcess{}
}

// Running returns the number of managed servers.
func (sm *ServerManager) Running() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.servers)
}

func (p *ServerProcess) stop() {
	p.cancel()
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Error("Failed to kill server process", "error", err)
		}
	}
	_ = p.cmd.Wait()
}

// waitForServer polls url until it answers 200, the timeout passes or ctx is done.
func (sm *ServerManager) waitForServer(ctx context.Context, url string, timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sm.pollInterval):
		}
	}

	return fmt.Errorf("server failed to respond at %s within %v", url, timeout)
}
