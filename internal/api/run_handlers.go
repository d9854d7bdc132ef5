package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/runner"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// submitRun handles POST /v1/runs. It returns 202 with the queued record,
// 429 when the queue is full, or 503 while shutting down.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	rec, err := s.deps.Runs.Submit(r.Context(), "api")
	switch {
	case err == nil:
		w.Header().Set("Location", "/v1/runs/"+rec.ID.String())
		writeJSON(w, http.StatusAccepted, map[string]any{"run": rec})
	case errors.Is(err, runner.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, runner.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("submit run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue run")
	}
}

// listRuns handles GET /v1/runs?limit=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.RunStore == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": s.deps.RunStore.List(r.Context(), limit)})
}

// getRun handles GET /v1/runs/{run_id}. It returns 400 for malformed IDs and
// 404 for unknown runs.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.RunStore == nil {
		writeError(w, http.StatusServiceUnavailable, "run store unavailable")
		return
	}
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.deps.RunStore.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, runner.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": rec})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
