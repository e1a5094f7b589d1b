package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"libreria/internal/app"
	"libreria/internal/catalog"
	"libreria/internal/ratelimit"
	"libreria/internal/util"
	"libreria/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisAddr                  string
	RedisPassword              string
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
	MaxUploadBytes             int64
}

// Server exposes the catalog HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	maxUploadBytes  int64
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "libreria:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		loginLimiter:    loginLimiter,
		registerLimiter: registerLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// session view state
	s.mux.Handle("/api/session", s.authenticated(s.handleSession))
	s.mux.Handle("/api/session/view", s.authenticated(s.handleSessionView))
	s.mux.Handle("/api/session/filter", s.authenticated(s.handleSessionFilter))
	s.mux.Handle("/api/session/refresh", s.authenticated(s.handleSessionRefresh))

	// catalog
	s.mux.Handle("/api/catalog", s.authenticated(s.handleCatalog))
	s.mux.Handle("/api/categories/suggested", s.authenticated(s.handleSuggestedCategories))
	s.mux.Handle("/api/metadata", s.adminOnly(s.handleMetadata))

	// admin
	s.mux.Handle("/api/admin/books", s.adminOnly(s.handleAdminBooks))
	s.mux.Handle("/api/admin/books/", s.adminOnly(s.handleAdminBookByID))
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, string, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "catalog.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, token, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "catalog.admin.authorize", "fail", "reason", "unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "catalog.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "catalog.admin.authorize", "success", "user_id", user.ID)
		next(w, r, token, user)
	})
}

func (s *Server) authorize(r *http.Request) (string, domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return "", domain.User{}, false
	}
	user, ok, err := s.app.UserFromToken(token)
	if err != nil {
		s.audit(r, "catalog.token.verify", "fail", "reason", "lookup_failed")
		return "", domain.User{}, false
	}
	if !ok {
		s.audit(r, "catalog.token.verify", "fail", "reason", "invalid_token")
		return "", domain.User{}, false
	}
	return token, user, true
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "catalog.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "catalog.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "catalog.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "catalog.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:  token,
		User:   user,
		Screen: catalog.ScreenCatalog,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "catalog.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "catalog.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "catalog.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	ctrl := s.app.ControllerFor(r.Context(), token, user)
	s.audit(r, "catalog.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:  token,
		User:   user,
		Screen: ctrl.Snapshot().Screen,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "catalog.logout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "catalog.logout", "fail", "reason", err.Error())
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	s.audit(r, "catalog.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

// session handlers
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctrl := s.app.ControllerFor(r.Context(), token, user)
	writeJSON(w, http.StatusOK, viewResponse(ctrl.Snapshot()))
}

func (s *Server) handleSessionView(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req viewRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctrl := s.app.ControllerFor(r.Context(), token, user)
	if err := ctrl.NavigateTo(catalog.Screen(req.Screen)); err != nil {
		s.audit(r, "catalog.navigate", "fail", "user_id", user.ID, "screen", req.Screen)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse(ctrl.Snapshot()))
}

func (s *Server) handleSessionFilter(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req filterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ctrl := s.app.ControllerFor(r.Context(), token, user)
	ctrl.SetFilter(req.Query, req.Category)
	writeJSON(w, http.StatusOK, viewResponse(ctrl.Snapshot()))
}

func (s *Server) handleSessionRefresh(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	ctrl := s.app.ControllerFor(r.Context(), token, user)
	ctrl.Refresh(r.Context())
	writeJSON(w, http.StatusOK, viewResponse(ctrl.Snapshot()))
}

// catalog handlers
func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.ListBooks()
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("catalog load failed, serving empty list", "error", err)
		books = []domain.Book{}
	}
	query := r.URL.Query().Get("q")
	category := r.URL.Query().Get("category")
	if category == "" {
		category = catalog.CategoryAll
	}
	filtered := catalog.FilterBooks(books, query, category)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":      filtered,
		"count":      len(filtered),
		"categories": catalog.AvailableCategories(books),
	})
}

func (s *Server) handleSuggestedCategories(w http.ResponseWriter, r *http.Request, _ string, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.app.SuggestedCategories()})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request, _ string, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req metadataRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := s.app.GenerateMetadata(r.Context(), req.Title, req.Author)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// admin handlers
func (s *Server) handleAdminBooks(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		books, err := s.app.ListBooks()
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("admin book list failed, serving empty list", "error", err)
			books = []domain.Book{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": books,
			"count": len(books),
		})
	case http.MethodPost:
		var req app.BookInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		book, err := s.app.SaveBook(r.Context(), user, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		status := http.StatusOK
		if req.ID == "" {
			status = http.StatusCreated
		}
		s.audit(r, "catalog.book.save", "success", "user_id", user.ID, "book_id", book.ID)
		writeJSON(w, status, book)
	default:
		methodNotAllowed(w)
	}
}

// /api/admin/books/{id} or /api/admin/books/{id}/cover
func (s *Server) handleAdminBookByID(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/books/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "cover" {
		s.handleUploadCover(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteBook(r.Context(), user, id); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "catalog.book.delete", "success", "user_id", user.ID, "book_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUploadCover(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	book, err := s.app.UploadCover(r.Context(), user, id, file, header.Size, contentType)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "catalog.book.cover", "success", "user_id", user.ID, "book_id", id)
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers()
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("admin user list failed, serving empty list", "error", err)
			users = []domain.User{}
		}
		rows := make([]adminUserRow, 0, len(users))
		for _, u := range users {
			rows = append(rows, adminUserRow{
				User:      u,
				CanDelete: u.ID != user.ID,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": rows,
			"count": len(rows),
		})
	case http.MethodPost:
		var req app.UserInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		saved, err := s.app.SaveUser(r.Context(), user, req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		status := http.StatusOK
		if req.ID == "" {
			status = http.StatusCreated
		}
		s.audit(r, "catalog.user.save", "success", "user_id", user.ID, "target_id", saved.ID)
		writeJSON(w, status, saved)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, token string, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteUser(r.Context(), user, id); err != nil {
		s.audit(r, "catalog.user.delete", "fail", "user_id", user.ID, "target_id", id, "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "catalog.user.delete", "success", "user_id", user.ID, "target_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token  string         `json:"token"`
	User   domain.User    `json:"user"`
	Screen catalog.Screen `json:"screen"`
}

type viewRequest struct {
	Screen string `json:"screen"`
}

type filterRequest struct {
	Query    string `json:"query"`
	Category string `json:"category"`
}

type metadataRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

type adminUserRow struct {
	domain.User
	CanDelete bool `json:"canDelete"`
}

type viewPayload struct {
	User       *domain.User   `json:"user,omitempty"`
	Screen     catalog.Screen `json:"screen"`
	Query      string         `json:"query"`
	Category   string         `json:"category"`
	Busy       bool           `json:"busy"`
	Books      []domain.Book  `json:"books"`
	Categories []string       `json:"categories"`
}

func viewResponse(v catalog.View) viewPayload {
	return viewPayload{
		User:       v.User,
		Screen:     v.Screen,
		Query:      v.Query,
		Category:   v.Category,
		Busy:       v.Busy,
		Books:      v.Books,
		Categories: v.Categories,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingFields), errors.Is(err, app.ErrNegativeStock):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrSelfDelete), errors.Is(err, catalog.ErrForbiddenScreen):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrCoverStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 8 * 1024 * 1024
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
