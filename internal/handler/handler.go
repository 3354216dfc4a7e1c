package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
	"github.com/angeloszaimis/self-healing/internal/classifier"
	"github.com/angeloszaimis/self-healing/internal/component"
	"github.com/angeloszaimis/self-healing/internal/engine"
	"github.com/angeloszaimis/self-healing/internal/healthcheck"
	"github.com/angeloszaimis/self-healing/internal/history"
	"github.com/angeloszaimis/self-healing/internal/recovery"
	"github.com/angeloszaimis/self-healing/internal/selfheal"
)

const defaultErrorLimit = 50

// Engine is the part of the engine the API serves.
type Engine interface {
	SubmitError(err error, errCtx map[string]any) history.Record
	SystemStatus() healthcheck.Snapshot
	RecentErrors(limit int) []history.Record
	ComponentInfos() []component.Info
	CircuitBreakersStatus() map[string]circuitbreaker.Snapshot
	ForceHealthCheck() healthcheck.Snapshot
	ForceSelfHealing(ctx context.Context) (selfheal.Report, error)
	ForceComponentRestart(ctx context.Context, name string) error
	ResetCircuitBreaker(name string) error
	ClearErrorHistory()
	RecoveryStats() recovery.Stats
	SelfHealingStats() selfheal.Stats
	Coefficients() selfheal.Coefficients
	MetricsHandler() http.Handler
}

type API struct {
	logger *slog.Logger
	engine Engine
}

func NewAPI(logger *slog.Logger, e Engine) *API {
	return &API{
		logger: logger,
		engine: e,
	}
}

// Routes returns the API mux wrapped in request logging.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", a.status)
	mux.HandleFunc("GET /errors", a.recentErrors)
	mux.HandleFunc("POST /errors", a.reportError)
	mux.HandleFunc("DELETE /errors", a.clearErrors)
	mux.HandleFunc("GET /components", a.components)
	mux.HandleFunc("POST /components/{name}/restart", a.restartComponent)
	mux.HandleFunc("GET /breakers", a.breakers)
	mux.HandleFunc("POST /breakers/{name}/reset", a.resetBreaker)
	mux.HandleFunc("POST /health-check", a.healthCheck)
	mux.HandleFunc("POST /self-healing", a.selfHealing)
	mux.Handle("GET /metrics", a.engine.MetricsHandler())

	return a.logRequests(mux)
}

type statusResponse struct {
	Health       healthcheck.Snapshot  `json:"health"`
	Recovery     recovery.Stats        `json:"recovery"`
	SelfHealing  selfheal.Stats        `json:"self_healing"`
	Coefficients selfheal.Coefficients `json:"coefficients"`
}

func (a *API) status(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, statusResponse{
		Health:       a.engine.SystemStatus(),
		Recovery:     a.engine.RecoveryStats(),
		SelfHealing:  a.engine.SelfHealingStats(),
		Coefficients: a.engine.Coefficients(),
	})
}

func (a *API) recentErrors(w http.ResponseWriter, r *http.Request) {
	limit := defaultErrorLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	a.writeJSON(w, http.StatusOK, a.engine.RecentErrors(limit))
}

type errorReport struct {
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	Code      string         `json:"code,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

func (a *API) reportError(w http.ResponseWriter, r *http.Request) {
	var report errorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(report.Message) == "" {
		a.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	errCtx := make(map[string]any, len(report.Context)+3)
	for k, v := range report.Context {
		errCtx[k] = v
	}
	if report.Component != "" {
		errCtx[recovery.ContextComponent] = report.Component
	}
	if report.Severity != "" {
		errCtx[classifier.HintSeverity] = report.Severity
	}
	if report.Code != "" {
		errCtx[classifier.HintCode] = report.Code
	}

	// Recovery can outlast the request, so it runs detached and the client
	// polls GET /errors for the outcome.
	rec := a.engine.SubmitError(errors.New(report.Message), errCtx)
	a.writeJSON(w, http.StatusAccepted, rec)
}

func (a *API) clearErrors(w http.ResponseWriter, r *http.Request) {
	a.engine.ClearErrorHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) components(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.engine.ComponentInfos())
}

func (a *API) restartComponent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := a.engine.ForceComponentRestart(r.Context(), name)
	switch {
	case errors.Is(err, component.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		a.writeError(w, http.StatusBadGateway, err.Error())
	default:
		a.writeJSON(w, http.StatusOK, map[string]string{"restarted": name})
	}
}

func (a *API) breakers(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.engine.CircuitBreakersStatus())
}

func (a *API) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := a.engine.ResetCircuitBreaker(name); err != nil {
		a.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, a.engine.CircuitBreakersStatus()[name])
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.engine.ForceHealthCheck())
}

func (a *API) selfHealing(w http.ResponseWriter, r *http.Request) {
	report, err := a.engine.ForceSelfHealing(r.Context())
	if errors.Is(err, selfheal.ErrBusy) {
		a.writeError(w, http.StatusConflict, err.Error())
		return
	}
	a.writeJSON(w, http.StatusOK, report)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode response", slog.Any("err", err))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, message string) {
	a.writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		a.logger.Info("Handled request",
			slog.String("from", extractClientIP(r)),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", wrapped.statusCode),
			slog.Duration("duration", time.Since(start)))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

var _ Engine = (*engine.Engine)(nil)
