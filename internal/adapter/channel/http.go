// Package channel exposes the assistant over HTTP: a chat API for end users
// and the /a2a/ routes remote peers use to relay envelopes.
package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"shopassist/internal/domain"
	"shopassist/internal/infra/config"
	"shopassist/internal/infra/logger"
	"shopassist/internal/infra/middleware"
)

const maxBodyBytes = 1 << 20

// Assistant is the conversational side of the server.
type Assistant interface {
	ProcessMessage(ctx context.Context, message, sessionID string) (domain.Result, error)
	ClearSession(sessionID string) bool
}

// Dispatcher is the protocol side of the server.
type Dispatcher interface {
	HealthCheck(ctx context.Context) domain.HealthReport
	Status() domain.ProtocolStatus
	AgentStatus(ctx context.Context, name string) (domain.AgentStatus, error)
	HandleInbound(ctx context.Context, env domain.Envelope) (domain.Envelope, error)
}

// HTTPServer serves the chat API and the A2A peer routes.
type HTTPServer struct {
	cfg        config.ServerConfig
	assistant  Assistant
	dispatcher Dispatcher
	logger     *slog.Logger
	server     *http.Server

	// Actual bound address (set after Start)
	boundAddr string

	cancel context.CancelFunc
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Message   string `json:"message,omitempty"`
}

type chatResponse struct {
	SessionID  string        `json:"session_id"`
	Content    string        `json:"content"`
	Agent      string        `json:"agent,omitempty"`
	IntentType string        `json:"intent_type,omitempty"`
	Confidence float64       `json:"confidence"`
	FollowUp   bool          `json:"follow_up,omitempty"`
	Result     domain.Result `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// NewHTTPServer creates a server. Nothing listens until Start.
func NewHTTPServer(cfg config.ServerConfig, a Assistant, d Dispatcher, l *slog.Logger) *HTTPServer {
	return &HTTPServer{
		cfg:        cfg,
		assistant:  a,
		dispatcher: d,
		logger:     logger.OrDiscard(l),
	}
}

// Handler returns the routed handler wrapped in the security, rate limit
// and request log middleware. The rate limiter's cleanup stops with ctx.
func (h *HTTPServer) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("GET /api/v1/health", h.handleHealth)
	mux.HandleFunc("GET /api/v1/status", h.handleStatus)
	mux.HandleFunc("GET /api/v1/agents/{name}", h.handleAgent)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.handleClearSession)
	mux.Handle("POST /a2a/message", h.peerAuth(http.HandlerFunc(h.handleInbound)))
	mux.Handle("GET /a2a/health", h.peerAuth(http.HandlerFunc(h.handlePeerHealth)))

	rpm, burst := h.cfg.RequestsPerMin, h.cfg.Burst
	if rpm <= 0 {
		rpm = 120
	}
	if burst <= 0 {
		burst = 20
	}
	return middleware.SecurityHeaders(
		middleware.RequestLog(h.logger)(
			middleware.RateLimit(ctx, middleware.RateLimitConfig{
				RequestsPerMin: rpm,
				Burst:          burst,
				TrustedProxies: h.cfg.TrustedProxies,
			})(mux),
		),
	)
}

// Start begins serving. Non-blocking (serves in a goroutine).
func (h *HTTPServer) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.logger.Info("http server started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (h *HTTPServer) Addr() string { return h.boundAddr }

// Stop gracefully shuts down the server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errMsg := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errMsg = "request body too large (max 1MB)"
		}
		writeJSON(w, http.StatusBadRequest, chatResponse{Error: errMsg})
		return
	}
	if req.Content == "" {
		req.Content = req.Message
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("http-%d", time.Now().UnixNano())
	}
	if strings.TrimSpace(req.Content) == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{SessionID: req.SessionID, Error: "content is required"})
		return
	}

	res, err := h.assistant.ProcessMessage(r.Context(), req.Content, req.SessionID)
	if err != nil {
		h.logger.Error("chat failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, chatResponse{SessionID: req.SessionID, Error: err.Error()})
		return
	}

	resp := chatResponse{
		SessionID: req.SessionID,
		Content:   res.Response(),
		Error:     res.ErrorText(),
		Result:    res,
	}
	resp.Agent, _ = res["agent"].(string)
	resp.IntentType, _ = res["intent_type"].(string)
	resp.Confidence, _ = res["confidence"].(float64)
	resp.FollowUp, _ = res["follow_up"].(bool)
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.dispatcher.HealthCheck(r.Context())
	code := http.StatusOK
	if report.Status == domain.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (h *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Status())
}

func (h *HTTPServer) handleAgent(w http.ResponseWriter, r *http.Request) {
	st, err := h.dispatcher.AgentStatus(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *HTTPServer) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.assistant.ClearSession(id) {
		writeError(w, http.StatusNotFound, domain.NewDomainError("HTTPServer.ClearSession", domain.ErrSessionNotFound, id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInbound relays a peer's envelope and replies with the agent Result,
// which is the body HTTPTransport.Deliver decodes on the sending side.
func (h *HTTPServer) handleInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var env domain.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, domain.NewDomainError("HTTPServer.Inbound", domain.ErrInvalidInput, err.Error()))
		return
	}

	out, err := h.dispatcher.HandleInbound(r.Context(), env)
	w.Header().Set("X-Message-ID", out.MessageID)
	if out.Status != "" {
		w.Header().Set("X-Message-Status", string(out.Status))
	}
	if err != nil {
		h.logger.Warn("inbound envelope failed",
			"message_id", out.MessageID,
			"sender", env.Sender,
			"recipient", env.Recipient,
			"code", string(domain.ErrorCodeOf(err)),
			"error", err,
		)
		writeError(w, statusFor(err), err)
		return
	}
	res := out.Response
	if res == nil {
		res = domain.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPServer) handlePeerHealth(w http.ResponseWriter, r *http.Request) {
	report := h.dispatcher.HealthCheck(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  report.Status,
		"running": report.Running,
		"agents":  report.Agents,
	})
}

// peerAuth enforces the configured A2A bearer token. No token means open.
func (h *HTTPServer) peerAuth(next http.Handler) http.Handler {
	if h.cfg.A2AToken == "" {
		return next
	}
	want := []byte("Bearer " + h.cfg.A2AToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch domain.ErrorCodeOf(err) {
	case domain.CodeAgentNotRegistered, domain.CodeNotFound, domain.CodeSessionNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeProtocolStopped, domain.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case domain.CodeDeliveryTimeout, domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeDeliveryFailed, domain.CodeUnsupportedAgent, domain.CodeRemoteUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
