package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/config"
	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
)

type unhealthyGateway struct {
	*enforcer.MemoryGateway
}

func (unhealthyGateway) ReadyCheck(context.Context) error { return errors.New("session not ready") }

func serve(t *testing.T, mux http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestKillSwitchEndpoint(t *testing.T) {
	kill := control.NewKillSwitch(false)
	var seen []bool
	kill.Watch(func(enabled bool) { seen = append(seen, enabled) })
	mux := newMux(prometheus.NewRegistry(), enforcer.NewMemoryGateway(), kill, zap.NewNop())

	w := serve(t, mux, http.MethodGet, "/control/kill-switch")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())

	w = serve(t, mux, http.MethodPost, "/control/kill-switch?enabled=true")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, kill.Enabled())
	assert.Equal(t, []bool{true}, seen)

	assert.Equal(t, http.StatusBadRequest, serve(t, mux, http.MethodPost, "/control/kill-switch").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, mux, http.MethodPost, "/control/kill-switch?enabled=maybe").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, mux, http.MethodDelete, "/control/kill-switch").Code)
}

func TestKillSwitchEndpointUnconfigured(t *testing.T) {
	mux := newMux(prometheus.NewRegistry(), enforcer.NewMemoryGateway(), nil, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, serve(t, mux, http.MethodGet, "/control/kill-switch").Code)
}

func TestHealthEndpoints(t *testing.T) {
	gw := unhealthyGateway{enforcer.NewMemoryGateway()}
	mux := newMux(prometheus.NewRegistry(), gw, control.NewKillSwitch(false), zap.NewNop())

	w := serve(t, mux, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = serve(t, mux, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "session not ready")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})
	reg.MustRegister(counter)
	counter.Inc()
	mux := newMux(reg, enforcer.NewMemoryGateway(), nil, zap.NewNop())

	w := serve(t, mux, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "probe_total 1")
}

func TestBuildLoggerWritesFile(t *testing.T) {
	var cfg config.Config
	cfg.Log.Level = "debug"
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "agent.log")
	cfg.Log.MaxSizeMB = 1

	logger, err := buildLogger(cfg)
	require.NoError(t, err)
	logger.Debug("timer started", zap.String("guild_id", "g1"))
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.Log.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"timer started"`)
	assert.Contains(t, string(data), `"ts":`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zap.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zap.InfoLevel, parseLevel("verbose"))
}

func TestControllerInstanceID(t *testing.T) {
	assert.Equal(t, "bot-1", controllerInstanceID("bot-1"))
	assert.NotEmpty(t, controllerInstanceID(""))
}
