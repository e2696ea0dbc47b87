package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"elibrary/internal/app"
	"elibrary/internal/ratelimit"
	"elibrary/internal/store"
	"elibrary/internal/util"
)

const sessionCookie = "elibrary_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	LoginLimiter      *ratelimit.FixedWindowLimiter
	TrustedProxies    *util.TrustedProxies
	MaxUploadBytes    int64
	AllowedExtensions []string
	SessionTTL        time.Duration
}

// Server exposes the server-rendered catalog UI.
type Server struct {
	app          *app.App
	loginLimiter *ratelimit.FixedWindowLimiter
	proxies      *util.TrustedProxies
	render       *renderer

	maxUploadBytes int64
	allowedExts    map[string]struct{}
	sessionTTL     time.Duration

	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	rend, err := newRenderer()
	if err != nil {
		return nil, err
	}
	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		proxies:        cfg.TrustedProxies,
		render:         rend,
		maxUploadBytes: cfg.MaxUploadBytes,
		allowedExts:    exts,
		sessionTTL:     cfg.SessionTTL,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/logout", s.handleLogout)

	// books
	s.mux.Handle("/book/add", s.requireRoles(store.RoleAdmin)(s.handleAddBook))
	s.mux.HandleFunc("/book/", s.handleBookSubtree)
	s.mux.HandleFunc("/uploads/", s.handleCover)

	// statistics
	s.mux.Handle("/statistics", s.requireRoles(store.RoleAdmin)(s.handleStatistics))
	s.mux.Handle("/export_journal_csv", s.requireRoles(store.RoleAdmin)(s.handleJournalCSV))
	s.mux.Handle("/export_stats_csv", s.requireRoles(store.RoleAdmin)(s.handleStatsCSV))
}

// authHandler receives the resolved session user.
type authHandler func(http.ResponseWriter, *http.Request, store.User)

// currentUser resolves the session cookie to a user, if any.
func (s *Server) currentUser(r *http.Request) (store.User, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		return store.User{}, false
	}
	return s.app.UserFromToken(c.Value)
}

// requireAuth redirects anonymous visitors to the login page, remembering
// where they were headed.
func (s *Server) requireAuth(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(r)
		if !ok {
			slog.Warn("unauthenticated access", "path", r.URL.Path)
			addFlash(w, r, "warning", "Please log in to access this page.")
			target := r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, "/login?next="+url.QueryEscape(target), http.StatusSeeOther)
			return
		}
		next(w, r, user)
	})
}

// requireRoles gates a handler to the named roles.
func (s *Server) requireRoles(roles ...string) func(authHandler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next authHandler) http.Handler {
		return s.requireAuth(func(w http.ResponseWriter, r *http.Request, user store.User) {
			if _, ok := allowed[user.Role.Name]; !ok {
				slog.Warn("role denied", "path", r.URL.Path, "login", user.Login, "role", user.Role.Name)
				addFlash(w, r, "danger", "You do not have permission to perform this action.")
				http.Redirect(w, r, "/", http.StatusSeeOther)
				return
			}
			next(w, r, user)
		})
	}
}

func (s *Server) viewer(r *http.Request) app.Viewer {
	v := app.Viewer{IP: util.ClientIP(r, s.proxies)}
	if user, ok := s.currentUser(r); ok {
		v.User = &user
	}
	return v
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// safeNext keeps redirects on-site: only rooted paths pass through.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}
