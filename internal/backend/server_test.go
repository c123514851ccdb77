package backend

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthServer(t *testing.T, status int) (*httptest.Server, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return srv, port
}

func TestServerManager_StartAndStop(t *testing.T) {
	_, port := healthServer(t, http.StatusOK)

	sm := NewServerManager()
	sm.pollInterval = 10 * time.Millisecond

	cfg := ServerConfig{Name: "inference", BinPath: "sleep", Args: []string{"30"}, Port: port, ReadyTimeout: 2 * time.Second}
	srv, err := sm.StartServer(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:"+strconv.Itoa(port), srv.BaseURL)
	assert.Equal(t, 1, sm.Running())

	again, err := sm.StartServer(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, srv, again)

	require.NoError(t, sm.StopServer("inference", port))
	assert.Equal(t, 0, sm.Running())
	assert.ErrorIs(t, sm.StopServer("inference", port), ErrServerNotFound)
}

func TestServerManager_NeverReady(t *testing.T) {
	_, port := healthServer(t, http.StatusServiceUnavailable)

	sm := NewServerManager()
	sm.pollInterval = 10 * time.Millisecond

	_, err := sm.StartServer(context.Background(), ServerConfig{
		Name: "inference", BinPath: "sleep", Args: []string{"30"}, Port: port, ReadyTimeout: 100 * time.Millisecond,
	})
	assert.ErrorContains(t, err, "did not become ready")
	assert.Equal(t, 0, sm.Running())
}

func TestServerManager_MissingBinary(t *testing.T) {
	sm := NewServerManager()
	_, err := sm.StartServer(context.Background(), ServerConfig{Name: "inference", BinPath: "/nonexistent/server", Port: 1})
	assert.Error(t, err)
}
