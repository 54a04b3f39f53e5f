package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
)

const probeTimeout = 2 * time.Second

// opsAPI serves the operator endpoints next to /metrics.
type opsAPI struct {
	gateway enforcer.Gateway
	kill    *control.KillSwitch
	logger  *zap.Logger
}

func buildHTTPServer(addr string, registry *prometheus.Registry, gateway enforcer.Gateway, kill *control.KillSwitch, logger *zap.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           newMux(registry, gateway, kill, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func newMux(registry *prometheus.Registry, gateway enforcer.Gateway, kill *control.KillSwitch, logger *zap.Logger) *http.ServeMux {
	api := &opsAPI{gateway: gateway, kill: kill, logger: logger}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/healthz", api.liveness)
	mux.HandleFunc("/readyz", api.readiness)
	mux.HandleFunc("/control/kill-switch", api.killSwitch)
	return mux
}

func (a *opsAPI) liveness(w http.ResponseWriter, r *http.Request) {
	a.probe(w, r, "healthz", func(ctx context.Context) error {
		if hc, ok := a.gateway.(enforcer.HealthChecker); ok {
			return hc.HealthCheck(ctx)
		}
		return nil
	})
}

func (a *opsAPI) readiness(w http.ResponseWriter, r *http.Request) {
	a.probe(w, r, "readyz", func(ctx context.Context) error {
		if rc, ok := a.gateway.(enforcer.ReadyChecker); ok {
			return rc.ReadyCheck(ctx)
		}
		return nil
	})
}

func (a *opsAPI) probe(w http.ResponseWriter, r *http.Request, name string, check func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if err := check(ctx); err != nil {
		a.logger.Warn("probe failed", zap.String("probe", name), zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// killSwitch reports the switch on GET and sets it on POST ?enabled=<bool>.
func (a *opsAPI) killSwitch(w http.ResponseWriter, r *http.Request) {
	if a.kill == nil {
		http.Error(w, "kill switch not configured", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Enabled bool `json:"enabled"`
		}{a.kill.Enabled()})
	case http.MethodPost:
		enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			http.Error(w, "enabled must be true or false", http.StatusBadRequest)
			return
		}
		a.kill.Set(enabled)
		a.logger.Info("kill switch set over http", zap.Bool("enabled", enabled), zap.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
