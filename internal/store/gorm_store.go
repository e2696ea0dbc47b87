package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on GORM. Postgres is used when a database URL
// is configured; otherwise an SQLite file keeps the zero-config default of
// the catalog usable.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database and runs auto-migrations.
func NewGormStore(databaseURL, sqlitePath string) (*GormStore, error) {
	var dialector gorm.Dialector
	if strings.TrimSpace(databaseURL) != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		if strings.TrimSpace(sqlitePath) == "" {
			return nil, errors.New("either database URL or sqlite path is required")
		}
		dialector = sqlite.Open(sqlitePath)
	}
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&Role{}, &User{}, &Genre{}, &Book{}, &Cover{}, &Review{}, &PageView{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// users & roles

func (s *GormStore) GetUserByLogin(login string) (User, bool, error) {
	var user User
	if err := s.db.Preload("Role").Where("login = ?", login).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *GormStore) GetUserByID(id uint) (User, bool, error) {
	var user User
	if err := s.db.Preload("Role").First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return user, true, nil
}

func (s *GormStore) CreateUser(u *User) error {
	if err := s.db.Omit(clause.Associations).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) CountUsers() (int64, error) {
	var count int64
	err := s.db.Model(&User{}).Count(&count).Error
	return count, err
}

func (s *GormStore) GetRoleByName(name string) (Role, bool, error) {
	var role Role
	if err := s.db.Where("name = ?", name).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Role{}, false, nil
		}
		return Role{}, false, err
	}
	return role, true, nil
}

// genres

func (s *GormStore) ListGenres() ([]Genre, error) {
	var genres []Genre
	err := s.db.Order("name ASC").Find(&genres).Error
	return genres, err
}

func (s *GormStore) GenresByIDs(ids []uint) ([]Genre, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var genres []Genre
	err := s.db.Where("id IN ?", ids).Find(&genres).Error
	return genres, err
}

// books

func (s *GormStore) SearchBooks(f BookFilter, page, perPage int) ([]Book, int64, error) {
	q := s.db.Model(&Book{})
	if f.Title != "" {
		q = q.Where("lower(books.title) LIKE ?", "%"+strings.ToLower(f.Title)+"%")
	}
	if f.Author != "" {
		q = q.Where("lower(books.author) LIKE ?", "%"+strings.ToLower(f.Author)+"%")
	}
	if len(f.Years) > 0 {
		q = q.Where("books.publication_year IN ?", f.Years)
	}
	if f.PagesFrom != nil {
		q = q.Where("books.pages >= ?", *f.PagesFrom)
	}
	if f.PagesTo != nil {
		q = q.Where("books.pages <= ?", *f.PagesTo)
	}
	if len(f.GenreIDs) > 0 {
		sub := s.db.Table("book_genres").Select("book_id").Where("genre_id IN ?", f.GenreIDs)
		q = q.Where("books.id IN (?)", sub)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count books: %w", err)
	}
	if page < 1 {
		page = 1
	}
	var books []Book
	err := q.Preload("Genres").Preload("Cover").
		Order("books.publication_year DESC, books.id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&books).Error
	if err != nil {
		return nil, 0, fmt.Errorf("search books: %w", err)
	}
	return books, total, nil
}

func (s *GormStore) DistinctPublicationYears() ([]int, error) {
	var years []int
	err := s.db.Model(&Book{}).Distinct("publication_year").
		Order("publication_year DESC").Pluck("publication_year", &years).Error
	return years, err
}

func (s *GormStore) GetBook(id uint) (Book, bool, error) {
	var book Book
	if err := s.db.Preload("Genres").Preload("Cover").First(&book, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Book{}, false, nil
		}
		return Book{}, false, err
	}
	return book, true, nil
}

// CreateBook inserts the book, its genre links, and the cover row inside one
// transaction. A cover whose content hash already exists is shared, not
// duplicated; coverCreated tells the caller whether a staged file must be
// committed for a newly created row.
func (s *GormStore) CreateBook(b *Book, genres []Genre, cover *Cover) (bool, error) {
	coverCreated := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if cover != nil {
			created, err := attachCover(tx, b, cover)
			if err != nil {
				return err
			}
			coverCreated = created
		}
		if err := tx.Omit(clause.Associations).Create(b).Error; err != nil {
			return fmt.Errorf("create book: %w", err)
		}
		if err := tx.Model(b).Association("Genres").Replace(genres); err != nil {
			return fmt.Errorf("set genres: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return coverCreated, nil
}

// attachCover points the book at the cover row for its content hash,
// creating the row when the hash is new. The insert runs under a savepoint
// so losing a same-hash race to a concurrent writer degrades into reusing
// the winner's row instead of failing the book.
func attachCover(tx *gorm.DB, b *Book, cover *Cover) (bool, error) {
	err := tx.Transaction(func(tx *gorm.DB) error {
		return tx.Create(cover).Error
	})
	if err == nil {
		b.CoverID = &cover.ID
		b.Cover = cover
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("create cover: %w", err)
	}
	var existing Cover
	if err := tx.Where("md5_hash = ?", cover.MD5Hash).First(&existing).Error; err != nil {
		return false, fmt.Errorf("lookup cover: %w", err)
	}
	b.CoverID = &existing.ID
	b.Cover = &existing
	return false, nil
}

// UpdateBook saves the editable fields and replaces the genre set whole.
// The cover is never touched on edit.
func (s *GormStore) UpdateBook(b *Book, genres []Genre) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Book{}).Where("id = ?", b.ID).Updates(map[string]any{
			"title":            b.Title,
			"description":      b.Description,
			"description_src":  b.DescriptionSrc,
			"publication_year": b.PublicationYear,
			"publisher":        b.Publisher,
			"author":           b.Author,
			"pages":            b.Pages,
		})
		if res.Error != nil {
			return fmt.Errorf("update book: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if err := tx.Model(b).Association("Genres").Replace(genres); err != nil {
			return fmt.Errorf("set genres: %w", err)
		}
		return nil
	})
}

// DeleteBook removes the book with its reviews, page views, and genre links
// in one transaction. The cover row goes too when the book was its last
// reference; the returned filename lets the caller remove the file after
// the transaction has committed.
func (s *GormStore) DeleteBook(id uint) (string, bool, error) {
	var orphan string
	found := true
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var book Book
		if err := tx.First(&book, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
				return nil
			}
			return err
		}
		if err := tx.Delete(&Review{}, "book_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete reviews: %w", err)
		}
		if err := tx.Delete(&PageView{}, "book_id = ?", id).Error; err != nil {
			return fmt.Errorf("delete page views: %w", err)
		}
		if err := tx.Model(&book).Association("Genres").Clear(); err != nil {
			return fmt.Errorf("clear genres: %w", err)
		}
		if err := tx.Delete(&Book{}, id).Error; err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if book.CoverID != nil {
			var refs int64
			if err := tx.Model(&Book{}).Where("cover_id = ?", *book.CoverID).Count(&refs).Error; err != nil {
				return fmt.Errorf("count cover refs: %w", err)
			}
			if refs == 0 {
				var cover Cover
				if err := tx.First(&cover, *book.CoverID).Error; err == nil {
					if err := tx.Delete(&cover).Error; err != nil {
						return fmt.Errorf("delete cover: %w", err)
					}
					orphan = cover.Filename
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", found, err
	}
	return orphan, found, nil
}

// reviews

func (s *GormStore) GetReview(bookID, userID uint) (Review, bool, error) {
	var review Review
	err := s.db.Where("book_id = ? AND user_id = ?", bookID, userID).First(&review).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Review{}, false, nil
		}
		return Review{}, false, err
	}
	return review, true, nil
}

// CreateReview inserts a review; a second review for the same (book, user)
// pair hits the composite unique index and comes back as ErrDuplicate.
func (s *GormStore) CreateReview(r *Review) error {
	if err := s.db.Omit(clause.Associations).Create(r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *GormStore) ListReviews(bookID uint) ([]Review, error) {
	var reviews []Review
	err := s.db.Preload("User").Where("book_id = ?", bookID).
		Order("created_at DESC, id DESC").Find(&reviews).Error
	return reviews, err
}

func (s *GormStore) ReviewAggregates(bookIDs []uint) (map[uint]ReviewAggregate, error) {
	out := make(map[uint]ReviewAggregate, len(bookIDs))
	if len(bookIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		BookID  uint
		Count   int64
		Average float64
	}
	err := s.db.Model(&Review{}).
		Select("book_id, COUNT(id) AS count, AVG(rating) AS average").
		Where("book_id IN ?", bookIDs).
		Group("book_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.BookID] = ReviewAggregate{Count: row.Count, Average: row.Average}
	}
	return out, nil
}

// page views

func (s *GormStore) CountViews(bookID uint, userID *uint, ip string, from, to time.Time) (int64, error) {
	q := s.db.Model(&PageView{}).
		Where("book_id = ?", bookID).
		Where("view_time BETWEEN ? AND ?", from, to)
	// Anonymous counting must exclude authenticated rows: two users behind
	// one IP would otherwise throttle each other.
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	} else {
		q = q.Where("ip_address = ? AND user_id IS NULL", ip)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (s *GormStore) CreatePageView(pv *PageView) error {
	return s.db.Omit(clause.Associations).Create(pv).Error
}

// CreatePageViewCapped inserts the view only while the viewer's count in
// the window is below limit. Guard and insert run as one statement so
// concurrent views of the same book cannot overshoot the cap.
func (s *GormStore) CreatePageViewCapped(pv *PageView, from, to time.Time, limit int) (bool, error) {
	count := s.db.Model(&PageView{}).
		Select("COUNT(*)").
		Where("book_id = ?", pv.BookID).
		Where("view_time BETWEEN ? AND ?", from, to)
	if pv.UserID != nil {
		count = count.Where("user_id = ?", *pv.UserID)
	} else {
		count = count.Where("ip_address = ? AND user_id IS NULL", pv.IPAddress)
	}
	res := s.db.Exec(
		"INSERT INTO page_views (book_id, user_id, view_time, ip_address) SELECT ?, ?, ?, ? WHERE (?) < ?",
		pv.BookID, pv.UserID, pv.ViewTime, pv.IPAddress, count, limit,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) PopularBooks(since time.Time, limit int) ([]PopularBook, error) {
	var rows []struct {
		BookID    uint
		ViewCount int64
	}
	err := s.db.Table("page_views").
		Select("book_id, COUNT(id) AS view_count").
		Where("view_time >= ?", since).
		Group("book_id").
		Order("view_count DESC, book_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("popular books: %w", err)
	}
	books, err := s.booksByID(rowIDs(rows))
	if err != nil {
		return nil, err
	}
	out := make([]PopularBook, 0, len(rows))
	for _, row := range rows {
		book, ok := books[row.BookID]
		if !ok {
			continue
		}
		out = append(out, PopularBook{Book: book, ViewCount: row.ViewCount})
	}
	return out, nil
}

func (s *GormStore) RecentBooks(userID *uint, ip string, limit int) ([]Book, error) {
	q := s.db.Model(&PageView{})
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	} else {
		q = q.Where("ip_address = ? AND user_id IS NULL", ip)
	}
	var views []PageView
	if err := q.Order("view_time DESC, id DESC").Limit(limit).Find(&views).Error; err != nil {
		return nil, fmt.Errorf("recent views: %w", err)
	}
	ids := make([]uint, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.BookID)
	}
	books, err := s.booksByID(ids)
	if err != nil {
		return nil, err
	}
	out := make([]Book, 0, len(views))
	for _, v := range views {
		// A concurrently deleted book simply drops out.
		if book, ok := books[v.BookID]; ok {
			out = append(out, book)
		}
	}
	return out, nil
}

func (s *GormStore) booksByID(ids []uint) (map[uint]Book, error) {
	out := make(map[uint]Book, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var books []Book
	if err := s.db.Preload("Cover").Where("id IN ?", ids).Find(&books).Error; err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	for _, b := range books {
		out[b.ID] = b
	}
	return out, nil
}

// statistics

func (s *GormStore) Journal(page, perPage int) ([]PageView, int64, error) {
	var total int64
	if err := s.db.Model(&PageView{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	var views []PageView
	err := s.db.Preload("User").Preload("Book").
		Order("view_time DESC, id DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&views).Error
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (s *GormStore) AllJournal() ([]PageView, error) {
	var views []PageView
	err := s.db.Preload("User").Preload("Book").
		Order("view_time DESC, id DESC").Find(&views).Error
	return views, err
}

func (s *GormStore) BookViewStats(from, to *time.Time, page, perPage int) ([]BookViewStat, int64, error) {
	countQ := s.statsBase(from, to)
	var total int64
	if err := countQ.Distinct("page_views.book_id").Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	stats, err := s.statsRows(from, to, (page-1)*perPage, perPage)
	if err != nil {
		return nil, 0, err
	}
	return stats, total, nil
}

func (s *GormStore) AllBookViewStats(from, to *time.Time) ([]BookViewStat, error) {
	return s.statsRows(from, to, 0, 0)
}

func (s *GormStore) statsBase(from, to *time.Time) *gorm.DB {
	q := s.db.Table("page_views").Where("page_views.user_id IS NOT NULL")
	if from != nil {
		q = q.Where("page_views.view_time >= ?", *from)
	}
	if to != nil {
		q = q.Where("page_views.view_time <= ?", *to)
	}
	return q
}

func (s *GormStore) statsRows(from, to *time.Time, offset, limit int) ([]BookViewStat, error) {
	q := s.statsBase(from, to).
		Select("page_views.book_id AS book_id, books.title AS title, COUNT(page_views.id) AS view_count").
		Joins("JOIN books ON books.id = page_views.book_id").
		Group("page_views.book_id, books.title").
		Order("view_count DESC, book_id ASC")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var stats []BookViewStat
	if err := q.Scan(&stats).Error; err != nil {
		return nil, fmt.Errorf("view stats: %w", err)
	}
	return stats, nil
}

func rowIDs(rows []struct {
	BookID    uint
	ViewCount int64
}) []uint {
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BookID)
	}
	return ids
}
