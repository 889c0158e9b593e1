// Package api exposes the HTTP control surface: session lifecycle, pairing
// QR retrieval, outbound sends, and operational status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"zapgate/internal/domain"
	"zapgate/internal/metrics"
	"zapgate/internal/webhook"
)

const maxBodySize = 1 << 20 // 1MB

// SessionManager is the slice of the session layer the HTTP surface needs.
type SessionManager interface {
	Create(ctx context.Context, sessionID, ownerID string) (domain.SessionStatus, error)
	Delete(sessionID string) error
	Status(sessionID string) (domain.SessionStatus, error)
	List() []domain.SessionStatus
	QR(sessionID string) (string, domain.SessionState, error)
	SendText(ctx context.Context, sessionID, phone, text string) (string, error)
	CountsByState() map[domain.SessionState]int
	PendingTimers() int
}

type Config struct {
	Host           string
	Port           int
	APIKey         string
	MetricsEnabled bool
	Logger         *slog.Logger
}

// Server is the HTTP control plane. Webhooks may be nil when no dispatcher
// is configured; /status then omits delivery counters.
type Server struct {
	cfg      Config
	sessions SessionManager
	webhooks *webhook.Dispatcher
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(cfg Config, sessions SessionManager, webhooks *webhook.Dispatcher) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, sessions: sessions, webhooks: webhooks, logger: logger}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("control API started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Routes builds the handler tree. Exposed so tests can drive it through
// httptest without binding a port.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.auth(s.handleCreate))
	mux.HandleFunc("GET /sessions", s.auth(s.handleList))
	mux.HandleFunc("GET /sessions/{id}", s.auth(s.handleStatus))
	mux.HandleFunc("GET /sessions/{id}/qr", s.auth(s.handleQR))
	mux.HandleFunc("DELETE /sessions/{id}", s.auth(s.handleDelete))
	mux.HandleFunc("POST /sessions/{id}/messages", s.auth(s.handleSend))
	mux.HandleFunc("GET /status", s.auth(s.handleOperationalStatus))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.cfg.MetricsEnabled {
		mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}
	return mux
}

// auth enforces the optional bearer key. An empty configured key disables
// authentication.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.cfg.APIKey {
				writeError(rw, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next(rw, r)
	}
}

type createRequest struct {
	SessionID string `json:"sessionId"`
	OwnerID   string `json:"ownerId"`
}

func (s *Server) handleCreate(rw http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionID == "" {
		writeError(rw, http.StatusBadRequest, "sessionId is required")
		return
	}

	st, err := s.sessions.Create(r.Context(), req.SessionID, req.OwnerID)
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		existing, _ := s.sessions.Status(req.SessionID)
		writeJSON(rw, http.StatusConflict, map[string]any{
			"error":   "session already exists",
			"session": existing,
		})
		return
	case err != nil:
		s.logger.Error("create session", "session", req.SessionID, "err", err)
		writeError(rw, http.StatusInternalServerError, "session creation failed")
		return
	}
	writeJSON(rw, http.StatusCreated, st)
}

func (s *Server) handleList(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	st, err := s.sessions.Status(r.PathValue("id"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(rw, http.StatusOK, st)
}

func (s *Server) handleQR(rw http.ResponseWriter, r *http.Request) {
	img, state, err := s.sessions.QR(r.PathValue("id"))
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(rw, http.StatusNotFound, "session not found")
		return
	}
	switch {
	case state == domain.StateConnected:
		writeJSON(rw, http.StatusOK, map[string]any{"connected": true})
	case img != "":
		writeJSON(rw, http.StatusOK, map[string]any{"qrCode": img})
	default:
		// Initialization has not produced a code yet; clients poll.
		writeJSON(rw, http.StatusOK, map[string]any{"waiting": true, "state": state})
	}
}

func (s *Server) handleDelete(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(rw, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("delete session", "session", id, "err", err)
		writeError(rw, http.StatusInternalServerError, "session deletion failed")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"deleted": true, "sessionId": id})
}

type sendRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

func (s *Server) handleSend(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Phone == "" || req.Text == "" {
		writeError(rw, http.StatusBadRequest, "phone and text are required")
		return
	}

	msgID, err := s.sessions.SendText(r.Context(), id, req.Phone, req.Text)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		writeError(rw, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, domain.ErrNotConnected):
		writeError(rw, http.StatusInternalServerError, "session is not connected")
		return
	case err != nil:
		s.logger.Error("send message", "session", id, "err", err)
		writeError(rw, http.StatusInternalServerError, "message send failed")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"messageId": msgID})
}

func (s *Server) handleOperationalStatus(rw http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"uptimeSeconds": int64(metrics.Collector.Uptime().Seconds()),
		"sessions":      s.sessions.CountsByState(),
		"pendingTimers": s.sessions.PendingTimers(),
	}
	if s.webhooks != nil {
		body["webhooks"] = s.webhooks.Stats()
	}
	writeJSON(rw, http.StatusOK, body)
}

func (s *Server) handleHealthz(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
