package app

import (
	"fmt"
	"log/slog"
	"time"

	"elibrary/internal/store"
)

// Viewer identifies who is looking at a page: the user when authenticated,
// the request IP otherwise.
type Viewer struct {
	User *store.User
	IP   string
}

// Authenticated reports whether the viewer carries a logged-in user.
func (v Viewer) Authenticated() bool {
	return v.User != nil
}

func (v Viewer) userID() *uint {
	if v.User == nil {
		return nil
	}
	return &v.User.ID
}

// TrackView records a page-view event for the book unless the viewer has
// already hit the daily cap. The cap check and the insert are one store
// statement, so concurrent views cannot push past the cap. Tracking is
// best-effort: failures are logged and the page renders regardless.
func (a *App) TrackView(bookID uint, viewer Viewer) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	pv := &store.PageView{
		BookID:    bookID,
		UserID:    viewer.userID(),
		ViewTime:  now,
		IPAddress: viewer.IP,
	}
	if _, err := a.store.CreatePageViewCapped(pv, dayStart, now, a.dailyViewCap); err != nil {
		slog.Error("record page view", "book_id", bookID, "err", err)
	}
}

// PopularBooks returns the most viewed books inside the trailing window.
func (a *App) PopularBooks() ([]store.PopularBook, error) {
	since := time.Now().AddDate(0, 0, -a.popularWindowDays)
	popular, err := a.store.PopularBooks(since, a.popularLimit)
	if err != nil {
		return nil, fmt.Errorf("popular books: %w", err)
	}
	return popular, nil
}

// RecentBooks returns the books behind the viewer's latest page views.
func (a *App) RecentBooks(viewer Viewer) ([]store.Book, error) {
	books, err := a.store.RecentBooks(viewer.userID(), viewer.IP, a.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent books: %w", err)
	}
	return books, nil
}
