// Package api exposes the triage event webhook and read-only deal endpoints.
// The review surface delivers events at-least-once; duplicate deliveries are
// acknowledged with 200 so the sender stops retrying.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
	"github.com/sells-group/dealflow/internal/triage"
)

// Server holds the HTTP handler dependencies.
type Server struct {
	store  store.Store
	engine *triage.Engine
}

// NewServer builds the API server.
func NewServer(st store.Store, engine *triage.Engine) *Server {
	return &Server{store: st, engine: engine}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/triage/events", s.handleTriageEvent)
		r.Get("/deals", s.handleListDeals)
		r.Get("/deals/{id}", s.handleGetDeal)
		r.Get("/outreach", s.handleListOutreach)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTriageEvent applies one review decision. Replays of an applied event
// id return 200 with duplicate set, so retrying senders converge without
// reapplying the action.
func (s *Server) handleTriageEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.TriageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if ev.EventID == "" {
		writeError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if ev.DealID == "" && ev.Identity == "" {
		writeError(w, http.StatusBadRequest, "deal_id or identity is required")
		return
	}

	res, err := s.engine.Apply(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, triage.ErrUnknownAction), errors.Is(err, triage.ErrInvalidReason):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, triage.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "deal not found")
	default:
		zap.L().Error("api: triage event failed",
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	filter := store.DealFilter{Limit: 100}

	if raw := r.URL.Query().Get("state"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			filter.States = append(filter.States, model.LifecycleState(strings.TrimSpace(st)))
		}
	}
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_score must be an integer")
			return
		}
		filter.MinScore = v
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = v
	}

	deals, err := s.store.ListDeals(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list deals failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": deals, "count": len(deals)})
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deal, err := s.store.GetDeal(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		zap.L().Error("api: get deal failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, deal)
}

func (s *Server) handleListOutreach(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.store.ListOutreach(r.Context(), 100)
	if err != nil {
		zap.L().Error("api: list outreach failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts, "count": len(drafts)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
