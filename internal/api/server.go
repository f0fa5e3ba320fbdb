package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pbaille/pagesync/internal/content"
	"github.com/pbaille/pagesync/internal/domain"
	"github.com/pbaille/pagesync/internal/store"
)

// Server exposes the markdown blob store and the page record store over HTTP
type Server struct {
	store   *store.Store
	content *content.Dir
	addr    string
	logger  *slog.Logger
}

// New creates a new API server
func New(s *store.Store, dir *content.Dir, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: s, content: dir, addr: addr, logger: logger}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Blob store
	mux.HandleFunc("GET /content/pages/{file}", s.readMarkdown)
	mux.HandleFunc("POST /api/content/pages", s.createMarkdown)
	mux.HandleFunc("GET /api/content/pages/{slug}", s.getMarkdown)
	mux.HandleFunc("PUT /api/content/pages/{slug}", s.putMarkdown)
	mux.HandleFunc("DELETE /api/content/pages/{slug}", s.deleteMarkdown)

	// Records
	mux.HandleFunc("GET /api/chapters", s.listChapters)
	mux.HandleFunc("POST /api/chapters", s.createChapter)
	mux.HandleFunc("GET /api/chapters/{slug}/pages", s.chapterPages)
	mux.HandleFunc("POST /api/pages", s.createPage)
	mux.HandleFunc("GET /api/pages/{slug}", s.getPage)
	mux.HandleFunc("PATCH /api/pages/{slug}", s.updatePage)
	mux.HandleFunc("DELETE /api/pages/{slug}", s.deletePage)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return s.withLogging(withCORS(mux))
}

// Run starts the HTTP server and stops it when ctx is done
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for browser readers
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h.ServeHTTP(w, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readMarkdown(w http.ResponseWriter, r *http.Request) {
	slug, ok := strings.CutSuffix(r.PathValue("file"), ".md")
	if !ok || slug == "" {
		http.NotFound(w, r)
		return
	}
	s.serveMarkdown(w, slug)
}

func (s *Server) getMarkdown(w http.ResponseWriter, r *http.Request) {
	s.serveMarkdown(w, r.PathValue("slug"))
}

func (s *Server) serveMarkdown(w http.ResponseWriter, slug string) {
	body, err := s.content.Read(slug)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "Markdown file not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("read markdown", slog.String("slug", slug), slog.String("error", err.Error()))
		http.Error(w, "Failed to read markdown file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write([]byte(body))
}

// CreateMarkdownRequest is the request body for creating a markdown file
type CreateMarkdownRequest struct {
	Slug    string `json:"slug"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

func (s *Server) createMarkdown(w http.ResponseWriter, r *http.Request) {
	var req CreateMarkdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slug := content.SanitizeSlug(req.Slug)
	if slug == "" {
		writeError(w, http.StatusBadRequest, "Invalid slug")
		return
	}

	err := s.content.Create(slug, req.Title, req.Content)
	if errors.Is(err, content.ErrExists) {
		writeError(w, http.StatusConflict, "Markdown file already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug})
}

func (s *Server) putMarkdown(w http.ResponseWriter, r *http.Request) {
	slug := content.SanitizeSlug(r.PathValue("slug"))
	if slug == "" {
		writeError(w, http.StatusBadRequest, "Slug is required")
		return
	}

	var req struct {
		Content *string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == nil {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := s.content.Write(slug, *req.Content); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug})
}

func (s *Server) deleteMarkdown(w http.ResponseWriter, r *http.Request) {
	slug := content.SanitizeSlug(r.PathValue("slug"))
	if slug == "" {
		writeError(w, http.StatusBadRequest, "Slug is required")
		return
	}
	if err := s.content.Delete(slug); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete markdown file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slug": slug})
}

func (s *Server) listChapters(w http.ResponseWriter, r *http.Request) {
	chapters, err := s.store.ListChapters(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"chapters": chapters})
}

// CreateChapterRequest is the request body for adding a chapter
type CreateChapterRequest struct {
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	IndexNum int    `json:"index_num"`
}

func (s *Server) createChapter(w http.ResponseWriter, r *http.Request) {
	var req CreateChapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slug := content.SanitizeSlug(req.Slug)
	if slug == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title and slug are required")
		return
	}

	ch, err := s.store.CreateChapter(r.Context(), req.Title, slug, req.IndexNum)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// CreatePageRequest is the request body for adding a page record
type CreatePageRequest struct {
	ChapterSlug string `json:"chapter_slug"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	IndexNum    int    `json:"index_num"`
	IsFree      bool   `json:"is_free"`
}

func (s *Server) createPage(w http.ResponseWriter, r *http.Request) {
	var req CreatePageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	slug := content.SanitizeSlug(req.Slug)
	if slug == "" || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title and slug are required")
		return
	}

	page, err := s.store.CreatePage(r.Context(), req.ChapterSlug, domain.PageMeta{
		Title:    req.Title,
		Slug:     slug,
		IndexNum: req.IndexNum,
		IsFree:   req.IsFree,
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	meta, err := s.store.SelectPage(r.Context(), r.PathValue("slug"), selectColumns(r, domain.PageColumns))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) chapterPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.store.SelectChapterPages(r.Context(), r.PathValue("slug"), selectColumns(r, domain.ChapterPageColumns))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if pages == nil {
		pages = []domain.PageMeta{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pages": pages})
}

func (s *Server) updatePage(w http.ResponseWriter, r *http.Request) {
	var req domain.PageUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UpdatedAt == "" {
		writeError(w, http.StatusBadRequest, "updated_at is required")
		return
	}
	if err := s.store.UpdatePage(r.Context(), r.PathValue("slug"), req); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeletePage(r.Context(), r.PathValue("slug")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// selectColumns parses ?select=a,b,c, falling back to def.
func selectColumns(r *http.Request, def []string) []string {
	raw := r.URL.Query().Get("select")
	if raw == "" {
		return def
	}
	var cols []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUndefinedColumn):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: domain.UndefinedColumnCode})
	default:
		s.logger.Error("store failure", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
