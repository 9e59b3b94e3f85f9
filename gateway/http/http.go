// Package http serves the pump command API: command submission, last known
// state, profile control, the realtime WebSocket and health.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/gateway"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/profile"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestID returns the request id stored by the gateway middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// getOrGenerateRequestID extracts the request id from headers or generates one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(requestIDHeader); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Response is the body of every non-streaming reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Gateway is the HTTP front of the command bus.
type Gateway struct {
	config    gateway.Config
	publisher gateway.Publisher
	devices   pump.Devices
	logger    *slog.Logger
	metrics   *gatewayMetrics

	states   gateway.StateReader
	profiles gateway.ProfileController
	realtime http.Handler
	health   http.Handler

	limitMu  sync.Mutex
	limiters map[int]*rate.Limiter
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics registers request metrics with registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(g *Gateway) {
		g.metrics = newGatewayMetrics(registry)
	}
}

// WithStateReader enables GET /pump/{id}/state.
func WithStateReader(states gateway.StateReader) Option {
	return func(g *Gateway) {
		g.states = states
	}
}

// WithProfiles enables the /profiles routes.
func WithProfiles(profiles gateway.ProfileController) Option {
	return func(g *Gateway) {
		g.profiles = profiles
	}
}

// WithRealtime mounts h on /ws.
func WithRealtime(h http.Handler) Option {
	return func(g *Gateway) {
		g.realtime = h
	}
}

// WithHealth mounts h on /healthz.
func WithHealth(h http.Handler) Option {
	return func(g *Gateway) {
		g.health = h
	}
}

// NewGateway validates cfg and builds the gateway.
func NewGateway(cfg gateway.Config, publisher gateway.Publisher, devices pump.Devices, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Gateway", "NewGateway",
			"publisher is required")
	}
	if devices.Len() == 0 {
		devices = pump.DefaultDevices()
	}

	g := &Gateway{
		config:    cfg,
		publisher: publisher,
		devices:   devices,
		logger:    slog.Default(),
		limiters:  make(map[int]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "gateway")
	return g, nil
}

// RegisterHTTPHandlers mounts every route under prefix.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	mux.Handle("GET "+prefix+"/{$}", g.instrument("root", g.handleRoot))
	mux.Handle("POST "+prefix+"/pump/{id}/command", g.instrument("command", g.handleCommand))
	mux.Handle("GET "+prefix+"/pump/{id}/state", g.instrument("state", g.handleState))

	mux.Handle("GET "+prefix+"/profiles", g.instrument("profiles", g.handleProfiles))
	mux.Handle("GET "+prefix+"/profiles/active", g.instrument("profile_active", g.handleActiveProfile))
	mux.Handle("POST "+prefix+"/profiles/stop", g.instrument("profile_stop", g.handleStopProfile))
	mux.Handle("POST "+prefix+"/profiles/{name}/start", g.instrument("profile_start", g.handleStartProfile))

	if g.realtime != nil {
		mux.Handle("GET "+prefix+"/ws", g.realtime)
	}
	if g.health != nil {
		mux.Handle("GET "+prefix+"/healthz", g.health)
	}
}

// Handler returns the routes wrapped in the request id and CORS middleware.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("", mux)
	return g.withRequestID(g.withCORS(mux))
}

func (g *Gateway) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, requestID)))
	})
}

func (g *Gateway) withCORS(next http.Handler) http.Handler {
	if !g.config.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.applyCORS(w, r)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func (g *Gateway) handleRoot(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, Response{Status: "ok", Message: "Pump Control API is running"})
}

// handleCommand validates a command and publishes it to the pump's command
// topic. Success means the command was accepted for routing, not executed.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	id, ok := g.pumpID(r)
	if !ok {
		g.writeError(w, http.StatusBadRequest, "Invalid pump ID")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return
	}

	cmd, err := pump.ParseCommand(id, body)
	if err == nil {
		err = cmd.Validate(g.devices)
	}
	if err != nil {
		g.logger.Debug("Rejected command", "pump", id, "error", err, "request_id", RequestID(r.Context()))
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}

	if !g.allow(id) {
		err := errors.WrapTransient(errors.ErrRateLimited, "Gateway", "handleCommand",
			fmt.Sprintf("take token for pump %d", id))
		g.logger.Debug("Rate limited command", "pump", id, "request_id", RequestID(r.Context()))
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}

	payload, err := cmd.Payload()
	if err != nil {
		g.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.PublishTimeout)
	defer cancel()
	if err := g.publisher.Publish(ctx, pump.CommandTopic(id), payload); err != nil {
		g.logger.Error("Failed to publish command", "pump", id, "error", err,
			"request_id", RequestID(r.Context()))
		g.writeError(w, http.StatusServiceUnavailable, "failed to send command")
		return
	}

	g.logger.Info("Command sent", "pump", id, "command", cmd.String(), "request_id", RequestID(r.Context()))
	g.writeJSON(w, http.StatusOK, Response{Status: "ok", Message: "Command sent"})
}

func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	id, ok := g.pumpID(r)
	if !ok {
		g.writeError(w, http.StatusBadRequest, "Invalid pump ID")
		return
	}
	if g.states == nil {
		g.writeError(w, http.StatusServiceUnavailable, "state store not configured")
		return
	}

	state, err := g.states.Load(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			g.writeError(w, http.StatusNotFound, "no state recorded for pump")
			return
		}
		g.logger.Warn("State lookup failed", "pump", id, "error", err)
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, state)
}

func (g *Gateway) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	if !g.profilesEnabled(w) {
		return
	}
	profiles := g.profiles.Profiles()
	infos := make([]profile.Info, 0, len(profiles))
	for _, p := range profiles {
		infos = append(infos, p.Info())
	}
	g.writeJSON(w, http.StatusOK, infos)
}

func (g *Gateway) handleActiveProfile(w http.ResponseWriter, _ *http.Request) {
	if !g.profilesEnabled(w) {
		return
	}
	name, active := g.profiles.Active()
	g.writeJSON(w, http.StatusOK, struct {
		Active bool   `json:"active"`
		Name   string `json:"name,omitempty"`
	}{Active: active, Name: name})
}

func (g *Gateway) handleStartProfile(w http.ResponseWriter, r *http.Request) {
	if !g.profilesEnabled(w) {
		return
	}
	name := r.PathValue("name")
	if err := g.profiles.Start(name); err != nil {
		if stderrors.Is(err, profile.ErrProfileNotFound) {
			g.writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		g.writeError(w, g.mapErrorToHTTPStatus(err), g.sanitizeError(err))
		return
	}
	g.logger.Info("Profile started", "profile", name, "request_id", RequestID(r.Context()))
	g.writeJSON(w, http.StatusOK, Response{Status: "ok", Message: "Profile started"})
}

func (g *Gateway) handleStopProfile(w http.ResponseWriter, r *http.Request) {
	if !g.profilesEnabled(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), g.config.PublishTimeout)
	defer cancel()
	if err := g.profiles.Stop(ctx); err != nil {
		g.logger.Error("Profile stop did not reach every pump", "error", err)
		g.writeError(w, http.StatusServiceUnavailable, "failed to stop every pump")
		return
	}
	g.writeJSON(w, http.StatusOK, Response{Status: "ok", Message: "Profile stopped"})
}

func (g *Gateway) profilesEnabled(w http.ResponseWriter) bool {
	if g.profiles == nil {
		g.writeError(w, http.StatusServiceUnavailable, "profiles not configured")
		return false
	}
	return true
}

// pumpID parses the {id} path segment and checks it against the known set.
func (g *Gateway) pumpID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || !g.devices.Contains(id) {
		return 0, false
	}
	return id, true
}

// allow takes a token from the pump's bucket.
func (g *Gateway) allow(id int) bool {
	if g.config.RateLimit <= 0 {
		return true
	}
	g.limitMu.Lock()
	limiter, ok := g.limiters[id]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(g.config.RateLimit), g.config.RateBurst)
		g.limiters[id] = limiter
	}
	g.limitMu.Unlock()
	return limiter.Allow()
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes
func (g *Gateway) mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrKeyNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients. Broker
// addresses and internal names never reach the response.
func (g *Gateway) sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case stderrors.Is(err, errors.ErrUnknownDevice):
		return "Invalid pump ID"
	case stderrors.Is(err, errors.ErrRateLimited):
		return "rate limit exceeded"
	case errors.IsInvalid(err):
		return "invalid command: " + validationDetail(err)
	case errors.IsTransient(err):
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

// validationDetail keeps the part of a validation error after the
// taxonomy prefix, e.g. "rpm 900 outside [0, 200]".
func validationDetail(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, errors.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(errors.ErrValidation.Error())+2:]
	}
	return "malformed body"
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("Failed to write response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, message string) {
	g.writeJSON(w, code, Response{Status: "error", Message: message})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

func (g *Gateway) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		g.metrics.observe(route, rec.code, time.Since(start))
	})
}
