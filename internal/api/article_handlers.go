package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	storeTimeout       = 5 * time.Second
)

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Articles == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	stats, err := s.deps.Articles.Stats(ctx)
	if err != nil {
		s.logger.Error("collect stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// getArticle handles GET /v1/articles/{id}. Embeddings are left out unless
// include_embedding=true.
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Articles == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	a, err := s.deps.Articles.Get(ctx, id)
	if err != nil {
		if errors.Is(err, article.ErrNotFound) {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.logger.Error("get article failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load article")
		return
	}
	if r.URL.Query().Get("include_embedding") != "true" {
		a.Embedding = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"article": a})
}

// searchArticles handles GET /v1/articles/search?q=&limit=.
func (s *Server) searchArticles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Articles == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := parseLimit(r, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	found, err := s.deps.Articles.Search(ctx, q, limit)
	if err != nil {
		s.logger.Error("search articles failed", zap.String("q", q), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	for i := range found {
		found[i].Embedding = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": found, "count": len(found)})
}
