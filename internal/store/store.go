package store

import (
	"errors"
	"time"
)

// ErrDuplicate is returned when an insert hits a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

// BookFilter narrows the catalog search. Zero values mean "no filter".
type BookFilter struct {
	Title     string
	Author    string
	GenreIDs  []uint
	Years     []int
	PagesFrom *int
	PagesTo   *int
}

// PopularBook pairs a book with its view count inside the trailing window.
type PopularBook struct {
	Book      Book
	ViewCount int64
}

// BookViewStat is one row of the per-book authenticated-view aggregation.
type BookViewStat struct {
	BookID    uint
	Title     string
	ViewCount int64
}

// ReviewAggregate summarizes the reviews of one book.
type ReviewAggregate struct {
	Count   int64
	Average float64
}

// Store defines persistence operations for the catalog.
type Store interface {
	// users & roles
	GetUserByLogin(login string) (User, bool, error)
	GetUserByID(id uint) (User, bool, error)
	CreateUser(u *User) error
	CountUsers() (int64, error)
	GetRoleByName(name string) (Role, bool, error)

	// genres
	ListGenres() ([]Genre, error)
	GenresByIDs(ids []uint) ([]Genre, error)

	// books
	SearchBooks(f BookFilter, page, perPage int) ([]Book, int64, error)
	DistinctPublicationYears() ([]int, error)
	GetBook(id uint) (Book, bool, error)
	CreateBook(b *Book, genres []Genre, cover *Cover) (coverCreated bool, err error)
	UpdateBook(b *Book, genres []Genre) error
	DeleteBook(id uint) (orphanCover string, found bool, err error)

	// reviews
	GetReview(bookID, userID uint) (Review, bool, error)
	CreateReview(r *Review) error
	ListReviews(bookID uint) ([]Review, error)
	ReviewAggregates(bookIDs []uint) (map[uint]ReviewAggregate, error)

	// page views
	CountViews(bookID uint, userID *uint, ip string, from, to time.Time) (int64, error)
	CreatePageView(pv *PageView) error
	CreatePageViewCapped(pv *PageView, from, to time.Time, limit int) (inserted bool, err error)
	PopularBooks(since time.Time, limit int) ([]PopularBook, error)
	RecentBooks(userID *uint, ip string, limit int) ([]Book, error)

	// statistics
	Journal(page, perPage int) ([]PageView, int64, error)
	AllJournal() ([]PageView, error)
	BookViewStats(from, to *time.Time, page, perPage int) ([]BookViewStat, int64, error)
	AllBookViewStats(from, to *time.Time) ([]BookViewStat, error)
}

// SessionStore persists login session tokens.
type SessionStore interface {
	New(userID uint) (string, error)
	UserID(token string) (uint, bool, error)
	Delete(token string) error
}
