// Package api exposes the fleet over HTTP: status ingestion, read-only
// queries, cleanup actions and the live subscription endpoint.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
	"github.com/jaakkos/agentshq/internal/hub"
)

// maxBodyBytes caps request bodies; status reports are small.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	svc    *app.FleetService
	hub    *hub.Hub
	logger *log.Logger
	mcp    http.Handler // optional
	port   int
}

// HandlerOption configures optional dependencies.
type HandlerOption func(*Handler)

// WithMCPHandler mounts an MCP endpoint at /mcp.
func WithMCPHandler(mcp http.Handler) HandlerOption {
	return func(h *Handler) { h.mcp = mcp }
}

// WithPort sets the port reported by /health.
func WithPort(port int) HandlerOption {
	return func(h *Handler) { h.port = port }
}

// NewHandler creates an API handler.
func NewHandler(svc *app.FleetService, hb *hub.Hub, logger *log.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{svc: svc, hub: hb, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the chi router with every route mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(cors)

	r.Get("/health", h.handleHealth)
	r.Get("/ws", h.hub.ServeWS)
	r.Get("/", h.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.handleConfig)
		r.Get("/agents", h.handleAgents)
		r.Get("/messages", h.handleMessages)
		r.Get("/transitions", h.handleTransitions)

		r.Post("/agent/{id}/status", h.handleStatus)
		r.Post("/agent/{id}/tools", h.handleTools)

		r.Post("/cleanup/offline-agents", h.handleRemoveOfflineAgents)
		r.Post("/cleanup/offline-projects", h.handleRemoveOfflineProjects)
		r.Post("/reset", h.handleReset)
	})

	if h.mcp != nil {
		r.Handle("/mcp", h.mcp)
	}
	return r
}

// cors allows any origin and answers preflight requests.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if hub.IsUpgrade(r) {
		h.hub.ServeWS(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"port":        h.port,
		"agents":      h.svc.Registry().Len(),
		"subscribers": h.hub.ClientCount(),
	})
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Identities())
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	states, err := h.svc.States()
	if err != nil {
		h.logger.Printf("API: list agents: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs := h.svc.Messages()
	if msgs == nil {
		msgs = []domain.AgentMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) handleTransitions(w http.ResponseWriter, r *http.Request) {
	out := h.svc.Transitions(r.URL.Query().Get("agent"))
	if out == nil {
		out = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, out)
}

// agentIDParam returns the decoded {id} path segment. chi matches on the raw
// path when the request carries escapes, so ids like "team/lead" arrive as
// "team%2Flead" and are unescaped here.
func agentIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if r.URL.RawPath == "" {
		return id, nil
	}
	return url.PathUnescape(id)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	res, err := h.svc.Ingest(agentID, domain.ParseStatusPatch(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": true})
		return
	}
	writeJSON(w, http.StatusOK, res.State)
}

// subagentToolsRequest is the body of POST /api/agent/{id}/tools.
type subagentToolsRequest struct {
	ParentID  string           `json:"parentId"`
	AgentType string           `json:"agentType"`
	Cwd       string           `json:"cwd"`
	Tools     []domain.ToolUse `json:"tools"`
}

func (h *Handler) handleTools(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var req subagentToolsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	n, _, err := h.svc.RecordSubagentTools(agentID, req.ParentID, req.AgentType, req.Cwd, req.Tools)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "recorded": n})
}

func (h *Handler) handleRemoveOfflineAgents(w http.ResponseWriter, r *http.Request) {
	h.writeRemoved(w, "remove offline agents", h.svc.RemoveOfflineAgents)
}

func (h *Handler) handleRemoveOfflineProjects(w http.ResponseWriter, r *http.Request) {
	h.writeRemoved(w, "remove offline projects", h.svc.RemoveOfflineProjects)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	h.writeRemoved(w, "reset", h.svc.ResetAll)
}

func (h *Handler) writeRemoved(w http.ResponseWriter, action string, fn func() (int, error)) {
	n, err := fn()
	if err != nil {
		h.logger.Printf("API: %s: %v", action, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
}
