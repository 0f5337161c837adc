// Package httpapi exposes the session registry over HTTP and upgrades
// websocket subscribers. Handlers are thin: they translate parameters into
// registry calls and registry errors into status codes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/wagate/internal/config"
	"github.com/antoniostano/wagate/internal/observability"
	"github.com/antoniostano/wagate/internal/registry"
	"github.com/antoniostano/wagate/internal/waclient"
	"github.com/antoniostano/wagate/internal/ws"
)

type Server struct {
	cfg      config.Config
	registry *registry.Registry
	hubs     *ws.Manager
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, reg *registry.Registry, hubs *ws.Manager, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: reg,
		hubs:     hubs,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser connections from the same origin unless
				// explicitly opened up. Non-browser clients omit Origin and
				// are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Post("/v1/sessions/sweep", s.handleSweep)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Delete("/v1/sessions/{id}", s.handleTerminateSession)
	r.Post("/v1/sessions/{id}/restart", s.handleRestartSession)
	r.Get("/v1/sessions/{id}/qr", s.handleGetQR)
	r.Get("/v1/sessions/{id}/ws", s.handleSessionWS)

	r.Post("/v1/sessions/{id}/messages", s.handleSendMessage)
	r.Get("/v1/sessions/{id}/chats/{chatID}", s.handleGetChat)
	r.Get("/v1/sessions/{id}/contacts/{contactID}", s.handleGetContact)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"sessions": len(s.registry.List()),
	})
}

type createSessionRequest struct {
	ID         string `json:"id"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	snap, err := s.registry.Create(r.Context(), req.ID, req.WebhookURL)
	switch {
	case errors.Is(err, registry.ErrConflict):
		respondError(w, http.StatusConflict, "session_exists", err.Error())
		return
	case errors.Is(err, registry.ErrReadyTimeout):
		// The session exists and keeps connecting; tell the caller to poll.
		respondJSON(w, http.StatusAccepted, snap)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetQR(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if snap.Status != registry.StatusQRPending || snap.QRPayload == "" {
		respondError(w, http.StatusNotFound, "qr_not_pending", "session has no pending qr code")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": snap.ID, "qr": snap.QRPayload})
}

func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.registry.Restart(r.Context(), id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "restart_failed", err.Error())
		return
	}
	snap, _ := s.registry.Status(id)
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	err := s.registry.Terminate(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "terminate_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

type sweepRequest struct {
	All bool `json:"all"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	swept, err := s.registry.Sweep(r.Context(), !req.All)
	body := map[string]any{"terminated": swept}
	if err != nil {
		// Partial failure: report what succeeded alongside the errors.
		body["errors"] = err.Error()
	}
	respondJSON(w, http.StatusOK, body)
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ChatID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_chat_id", "missing chat id")
		return
	}

	payload, err := s.registry.SendMessage(r.Context(), chi.URLParam(r, "id"), req.ChatID, req.Text)
	if err != nil {
		respondClientError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	payload, err := s.registry.GetChat(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "chatID"))
	if err != nil {
		respondClientError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	payload, err := s.registry.GetContact(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "contactID"))
	if err != nil {
		respondClientError(w, err)
		return
	}
	respondRaw(w, http.StatusOK, payload)
}

// handleSessionWS upgrades the connection and hands it to the hub for the
// session id in the path. When no hub entry exists the raw connection is
// closed without an error body.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hubs.Upgrade(sessionID, conn)
}

func respondClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, waclient.ErrUnavailable), errors.Is(err, waclient.ErrDestroyed):
		respondError(w, http.StatusConflict, "client_unavailable", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "client_error", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
