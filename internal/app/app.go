// Package app holds the application core: authentication, book and review
// workflows, view tracking, and statistics. It is constructed explicitly
// and passed to the HTTP layer; there are no package-level singletons.
package app

import (
	"context"
	"fmt"
	"io"

	"elibrary/internal/auth"
	"elibrary/internal/storage"
	"elibrary/internal/store"
)

// Config wires the application core.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Covers   storage.CoverStore

	PageSize          int
	DailyViewCap      int
	PopularWindowDays int
	PopularLimit      int
	RecentLimit       int
}

// App is the application core.
type App struct {
	store    store.Store
	sessions store.SessionStore
	covers   storage.CoverStore

	pageSize          int
	dailyViewCap      int
	popularWindowDays int
	popularLimit      int
	recentLimit       int
}

// New constructs the application core with defaults filled in.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Covers == nil {
		return nil, fmt.Errorf("cover store is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.DailyViewCap <= 0 {
		cfg.DailyViewCap = 10
	}
	if cfg.PopularWindowDays <= 0 {
		cfg.PopularWindowDays = 90
	}
	if cfg.PopularLimit <= 0 {
		cfg.PopularLimit = 5
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 5
	}
	return &App{
		store:             cfg.Store,
		sessions:          cfg.Sessions,
		covers:            cfg.Covers,
		pageSize:          cfg.PageSize,
		dailyViewCap:      cfg.DailyViewCap,
		popularWindowDays: cfg.PopularWindowDays,
		popularLimit:      cfg.PopularLimit,
		recentLimit:       cfg.RecentLimit,
	}, nil
}

// PageSize returns the configured listing page size.
func (a *App) PageSize() int {
	return a.pageSize
}

// Login validates credentials and issues a session token.
func (a *App) Login(login, password string) (store.User, string, error) {
	user, ok, err := a.store.GetUserByLogin(login)
	if err != nil {
		return store.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return store.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.New(user.ID)
	if err != nil {
		return store.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// Logout revokes a session token.
func (a *App) Logout(token string) error {
	return a.sessions.Delete(token)
}

// UserFromToken resolves a session token to its user.
func (a *App) UserFromToken(token string) (store.User, bool) {
	id, ok, err := a.sessions.UserID(token)
	if err != nil || !ok {
		return store.User{}, false
	}
	user, found, err := a.store.GetUserByID(id)
	if err != nil || !found {
		return store.User{}, false
	}
	return user, true
}

// OpenCover streams a stored cover file.
func (a *App) OpenCover(ctx context.Context, filename string) (io.ReadCloser, error) {
	return a.covers.Open(ctx, filename)
}

// ListGenres returns all genres for form choices and filters.
func (a *App) ListGenres() ([]store.Genre, error) {
	return a.store.ListGenres()
}

// PublicationYears returns the distinct years present in the catalog.
func (a *App) PublicationYears() ([]int, error) {
	return a.store.DistinctPublicationYears()
}
