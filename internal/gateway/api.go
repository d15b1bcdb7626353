// ABOUTME: Ops HTTP API - conversation mode queries, manual overrides and the handoff queue
// ABOUTME: Mutating routes sit behind JWT bearer auth; health and metrics are open

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaywise/concierge/internal/auth"
	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/escalation"
	"github.com/relaywise/concierge/internal/store"
)

// API is the operator-facing HTTP surface.
type API struct {
	store    store.Store
	convs    *conversation.Manager
	esc      *escalation.Coordinator
	verifier auth.TokenVerifier
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewAPI creates the ops API. registry may be nil to disable /metrics.
func NewAPI(st store.Store, convs *conversation.Manager, esc *escalation.Coordinator,
	verifier auth.TokenVerifier, registry *prometheus.Registry, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    st,
		convs:    convs,
		esc:      esc,
		verifier: verifier,
		registry: registry,
		logger:   logger.With("component", "api"),
	}
}

// Handler builds the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	protect := func(h http.HandlerFunc) http.Handler {
		if a.verifier == nil {
			return h
		}
		return auth.Middleware(a.verifier)(h)
	}

	mux.Handle("/api/conversations/", protect(a.handleConversationRoutes))
	mux.Handle("/api/handoffs", protect(a.handleListHandoffs))
	mux.Handle("/api/handoffs/", protect(a.handleHandoffRoutes))

	return mux
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConversationRoutes serves:
//
//	GET  /api/conversations/{id}/mode
//	POST /api/conversations/{id}/ai
//	POST /api/conversations/{id}/reset
func (a *API) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]

	switch {
	case action == "mode" && r.Method == http.MethodGet:
		conv, err := a.store.GetConversation(r.Context(), id)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"conversation_id": conv.ID,
			"mode":            conv.Mode,
		})

	case action == "ai" && r.Method == http.MethodPost:
		if err := a.esc.ReturnToAI(r.Context(), id); err != nil {
			if err == store.ErrNotFound {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "mode change failed")
			return
		}
		a.logger.Info("conversation forced back to AI",
			"conversation_id", id, "operator", auth.OperatorFromContext(r.Context()))
		writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id, "mode": store.ModeAI})

	case action == "reset" && r.Method == http.MethodPost:
		if err := a.convs.Reset(r.Context(), id); err != nil {
			if err == store.ErrNotFound {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
		a.logger.Info("conversation reset",
			"conversation_id", id, "operator", auth.OperatorFromContext(r.Context()))
		writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id, "status": "reset"})

	default:
		http.NotFound(w, r)
	}
}

// handleListHandoffs serves GET /api/handoffs?status=pending&limit=50.
func (a *API) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}

	recs, err := a.store.ListHandoffs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handoffs": recs})
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
}

// handleHandoffRoutes serves:
//
//	POST /api/handoffs/{id}/accept
//	POST /api/handoffs/{id}/resolve
func (a *API) handleHandoffRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/handoffs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]
	operator := auth.OperatorFromContext(r.Context())

	switch action {
	case "accept":
		rec, err := a.esc.Accept(r.Context(), id, operator)
		if err != nil {
			if err == store.ErrNotFound {
				writeError(w, http.StatusNotFound, "handoff not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case "resolve":
		var req resolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad request body")
			return
		}
		if req.Outcome != store.OutcomeResolvedByOperator && req.Outcome != store.OutcomeReturnedToAI {
			writeError(w, http.StatusBadRequest, "unknown outcome")
			return
		}
		rec, err := a.esc.Resolve(r.Context(), id, req.Outcome)
		if err != nil {
			if err == store.ErrNotFound {
				writeError(w, http.StatusNotFound, "handoff not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "resolve failed")
			return
		}
		writeJSON(w, http.StatusOK, rec)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
