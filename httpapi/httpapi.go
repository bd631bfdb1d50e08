// Package httpapi exposes the gateway's request-facing surface: session
// establishment, termination, per-tenant status and liveness. It is thin
// glue over the sessions.Orchestrator; no lifecycle decisions live here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/wirebind/sessiond/internal/jwtauth"
	"github.com/wirebind/sessiond/internal/logctx"
	"github.com/wirebind/sessiond/sessions"
)

var (
	_ http.Handler = (*Handler)(nil)

	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// writeJSONError emits a minimal JSON error body. Shape:
// {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger    *slog.Logger
	validator *jwtauth.Validator
}

// WithLogger sets the slog logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithAuth requires a valid bearer token on every route except liveness.
func WithAuth(v *jwtauth.Validator) Option {
	return func(c *newConfig) { c.validator = v }
}

// Handler serves the gateway API.
type Handler struct {
	mux     *http.ServeMux
	orch    *sessions.Orchestrator
	log     *slog.Logger
	auth    *jwtauth.Validator
	started time.Time
}

// New constructs the API handler around an orchestrator.
func New(orch *sessions.Orchestrator, opts ...Option) (*Handler, error) {
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}
	cfg := &newConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		mux:     http.NewServeMux(),
		orch:    orch,
		log:     cfg.logger,
		auth:    cfg.validator,
		started: time.Now(),
	}
	h.mux.HandleFunc("POST /sessions/{tenant}", h.handleEstablish)
	h.mux.HandleFunc("DELETE /sessions/{tenant}", h.handleTerminate)
	h.mux.HandleFunc("GET /sessions/{tenant}", h.handleStatus)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "api responses are application/json")
		return
	}

	// Liveness stays probe-friendly: no credentials on kubelet checks.
	if h.auth != nil && r.URL.Path != "/healthz" {
		raw := strings.TrimPrefix(r.Header.Get(authorizationHeader), "Bearer ")
		if _, err := h.auth.Verify(ctx, raw); err != nil {
			h.log.InfoContext(ctx, "request rejected", "err", err)
			w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
			writeJSONError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
	}

	h.mux.ServeHTTP(w, r)
}

type establishResponse struct {
	QR               string `json:"qr,omitempty"`
	AlreadyConnected bool   `json:"alreadyConnected,omitempty"`
}

func (h *Handler) handleEstablish(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	ctx := logctx.WithTenantData(r.Context(), &logctx.TenantData{TenantID: tenantID})

	res, err := h.orch.Establish(ctx, tenantID)
	if err != nil {
		h.log.ErrorContext(ctx, "establish failed", "err", err)
		writeJSONError(w, http.StatusBadGateway, "could not open transport session")
		return
	}
	if res.AlreadyConnected {
		writeJSON(w, http.StatusOK, establishResponse{AlreadyConnected: true})
		return
	}

	qr, err := h.orch.AwaitQR(ctx, tenantID)
	switch {
	case errors.Is(err, sessions.ErrQRTimeout):
		writeJSONError(w, http.StatusRequestTimeout, "timed out waiting for pairing code")
		return
	case err != nil:
		// Caller went away mid-wait; nothing useful to write.
		h.log.DebugContext(ctx, "qr wait aborted", "err", err)
		writeJSONError(w, http.StatusRequestTimeout, "request canceled")
		return
	case qr.AlreadyConnected:
		writeJSON(w, http.StatusOK, establishResponse{AlreadyConnected: true})
		return
	}
	writeJSON(w, http.StatusOK, establishResponse{QR: qr.QR})
}

func (h *Handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	ctx := logctx.WithTenantData(r.Context(), &logctx.TenantData{TenantID: tenantID})
	if err := h.orch.Terminate(ctx, tenantID); err != nil {
		h.log.ErrorContext(ctx, "terminate failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "terminate failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Connected bool      `json:"connected"`
	QRPending bool      `json:"qrPending"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	info := h.orch.Status(r.PathValue("tenant"))
	if !info.Exists {
		writeJSONError(w, http.StatusNotFound, "no session for tenant")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Connected: info.Connected,
		QRPending: info.QRPending,
		CreatedAt: info.CreatedAt,
	})
}

type healthzResponse struct {
	ActiveSessions int     `json:"activeSessions"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthzResponse{
		ActiveSessions: h.orch.ActiveSessions(),
		UptimeSeconds:  time.Since(h.started).Seconds(),
	})
}
