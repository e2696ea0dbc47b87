package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"elibrary/internal/app"
	"elibrary/internal/store"
	"elibrary/internal/util"
)

// basePage carries the data every template needs.
type basePage struct {
	Title   string
	User    *store.User
	Flashes []flash
}

func (s *Server) base(w http.ResponseWriter, r *http.Request, title string) basePage {
	p := basePage{Title: title, Flashes: popFlashes(w, r)}
	if user, ok := s.currentUser(r); ok {
		p.User = &user
	}
	return p
}

type loginPage struct {
	basePage
	Login string
	Next  string
	Error string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render.render(w, http.StatusOK, "login", loginPage{
			basePage: s.base(w, r, "Sign in"),
			Next:     r.URL.Query().Get("next"),
		})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		login := strings.TrimSpace(r.PostFormValue("login"))
		password := r.PostFormValue("password")
		next := r.PostFormValue("next")

		if !s.loginLimiter.Allow(util.ClientIP(r, s.proxies)) {
			s.render.render(w, http.StatusTooManyRequests, "login", loginPage{
				basePage: s.base(w, r, "Sign in"),
				Login:    login,
				Next:     next,
				Error:    "Too many login attempts. Try again in a minute.",
			})
			return
		}

		user, token, err := s.app.Login(login, password)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "Cannot authenticate with the provided login and password."
			if !errors.Is(err, app.ErrInvalidCredentials) {
				slog.Error("login", "err", err)
				status = http.StatusInternalServerError
				msg = "Something went wrong. Try again."
			}
			s.render.render(w, status, "login", loginPage{
				basePage: s.base(w, r, "Sign in"),
				Login:    login,
				Next:     next,
				Error:    msg,
			})
			return
		}
		s.setSessionCookie(w, token)
		addFlash(w, r, "success", "Welcome, "+user.FullName()+"!")
		http.Redirect(w, r, safeNext(next), http.StatusSeeOther)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		if err := s.app.Logout(c.Value); err != nil {
			slog.Error("logout", "err", err)
		}
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
