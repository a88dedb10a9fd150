package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
	"github.com/DeafMist/wiki-offline/internal/search"
	"github.com/DeafMist/wiki-offline/internal/store"
)

const maxPreviewChars = 5000

// The API serves JSON only, so nothing it returns may load or frame content.
var securityHeaders = [][2]string{
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
}

type server struct {
	log    *slog.Logger
	cfg    *config.API
	store  store.Store
	search *search.Engine
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, h := range securityHeaders {
		r.Use(middleware.SetHeader(h[0], h[1]))
	}
	r.Use(middleware.ThrottleBacklog(s.cfg.MaxInFlight, s.cfg.Backlog, s.cfg.BacklogTimeout))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/articles", s.handleList)
		r.Get("/articles/{id}", s.handleArticle)
		r.Get("/articles/{id}/preview", s.handlePreview)
		r.Get("/wiki/{title}", s.handleWiki)
		r.Get("/search", s.handleSearch)
		r.Get("/browse", s.handleBrowse)
		r.Get("/random", s.handleRandom)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"mode":     s.store.Mode(),
		"articles": s.store.Count(),
	})
}

func (s *server) handleArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a, found, err := s.store.GetByID(ctx, id)
	s.writeArticle(w, a, found, err)
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	chars := clampInt(r.URL.Query().Get("chars"), s.cfg.PreviewChars, maxPreviewChars)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, found, err := s.store.Preview(ctx, id, chars)
	if err != nil {
		s.log.Error("preview", slog.Any("err", err), slog.Uint64("id", id))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleWiki(w http.ResponseWriter, r *http.Request) {
	title := chi.URLParam(r, "title")
	if unescaped, err := url.PathUnescape(title); err == nil {
		title = unescaped
	}
	if strings.TrimSpace(title) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid title"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	a, found, err := s.store.GetByTitle(ctx, title)
	s.writeArticle(w, a, found, err)
}

func (s *server) writeArticle(w http.ResponseWriter, a models.Article, found bool, err error) {
	if err != nil {
		s.log.Error("load article", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "article not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query().Get("q")
	page := clampInt(r.URL.Query().Get("page"), 1, 10_000)
	size := clampInt(r.URL.Query().Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage)

	result, err := s.search.Search(ctx, q, page, size)
	switch {
	case errors.Is(err, search.ErrQueryTooLong), errors.Is(err, search.ErrPageTooDeep):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, search.ErrNoIndex):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case err != nil:
		s.log.Error("search", slog.Any("err", err), slog.String("q", q))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	start := r.URL.Query().Get("start")
	letter := strings.TrimSpace(r.URL.Query().Get("letter"))
	size := clampInt(r.URL.Query().Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage)

	var prefix string
	if letter != "" {
		if utf8.RuneCountInString(letter) != 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "letter must be a single character"})
			return
		}
		prefix = processing.TitleKey(letter)
		if prefix == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "letter must be a single character"})
			return
		}
		if processing.TitleKey(start) < prefix {
			start = letter
		}
	}

	entries, err := s.store.Browse(ctx, start, size)
	if err != nil {
		s.log.Error("browse", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if prefix != "" {
		entries = withPrefix(entries, prefix)
	}
	resp := map[string]any{"start": start, "titles": entries}
	if letter != "" {
		resp["letter"] = letter
	}
	writeJSON(w, http.StatusOK, resp)
}

// withPrefix keeps the leading run of entries whose title key starts with
// prefix. Browse output is in key order, so the run ends at the first miss.
func withPrefix(entries []models.TitleEntry, prefix string) []models.TitleEntry {
	for i, e := range entries {
		if !strings.HasPrefix(processing.TitleKey(e.Title), prefix) {
			return entries[:i]
		}
	}
	return entries
}

type listResponse struct {
	Articles  []store.Preview `json:"articles"`
	Total     uint64          `json:"total"`
	NextAfter uint64          `json:"next_after,omitempty"`
}

// handleList pages through every article in id order. The cursor is the
// last id of the previous page.
func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var after uint64
	if raw := r.URL.Query().Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid after cursor"})
			return
		}
		after = v
	}
	size := clampInt(r.URL.Query().Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage)

	entries, err := s.store.After(ctx, after, size)
	if err != nil {
		s.log.Error("list articles", slog.Any("err", err), slog.Uint64("after", after))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := listResponse{Articles: make([]store.Preview, 0, len(entries)), Total: s.store.Count()}
	for _, e := range entries {
		p, found, err := s.store.Preview(ctx, e.ID, s.cfg.PreviewChars)
		if err != nil {
			s.log.Error("list preview", slog.Any("err", err), slog.Uint64("id", e.ID))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}
		if found {
			resp.Articles = append(resp.Articles, p)
		}
	}
	if len(entries) == size {
		resp.NextAfter = entries[len(entries)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRandom(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, found, err := s.store.Random(ctx)
	if err != nil || !found {
		s.writeArticle(w, models.Article{}, found, err)
		return
	}
	a, found, err := s.store.GetByID(ctx, e.ID)
	s.writeArticle(w, a, found, err)
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	data, err := os.ReadFile(s.cfg.StatsPath())
	if errors.Is(err, os.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no extraction stats"})
		return
	}
	if err != nil {
		s.log.Error("read stats", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	var stats models.ExtractionStats
	if err := json.Unmarshal(data, &stats); err != nil {
		s.log.Error("decode stats", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return 0, false
	}
	return id, true
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
