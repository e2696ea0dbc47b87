package store

import "time"

// Role names seeded at bootstrap. The set is fixed; rows are immutable
// after seeding.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:255;uniqueIndex;not null"`
	Description string `gorm:"type:text"`
}

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Login        string `gorm:"size:255;uniqueIndex;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	LastName     string `gorm:"size:255;not null"`
	FirstName    string `gorm:"size:255;not null"`
	Patronymic   string `gorm:"size:255"`
	RoleID       uint   `gorm:"not null"`
	Role         Role
}

// FullName returns "First Last [Patronymic]".
func (u User) FullName() string {
	name := u.FirstName + " " + u.LastName
	if u.Patronymic != "" {
		name += " " + u.Patronymic
	}
	return name
}

type Genre struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:255;uniqueIndex;not null"`
}

// Book is the aggregate root: deleting a book removes its reviews, page
// views, genre links, and its cover when no other book shares it.
type Book struct {
	ID              uint   `gorm:"primaryKey"`
	Title           string `gorm:"size:255;not null"`
	Description     string `gorm:"type:text;not null"` // sanitized HTML, never raw markup
	DescriptionSrc  string `gorm:"type:text;not null"` // markdown source, for edit forms
	PublicationYear int    `gorm:"not null;index"`
	Publisher       string `gorm:"size:255;not null"`
	Author          string `gorm:"size:255;not null"`
	Pages           int    `gorm:"not null"`
	CoverID         *uint
	Cover           *Cover
	Genres          []Genre `gorm:"many2many:book_genres"`
}

// Cover is a content-addressed shared blob: byte-identical uploads map to
// one row and one file, referenced by any number of books.
type Cover struct {
	ID       uint   `gorm:"primaryKey"`
	Filename string `gorm:"size:255;not null"`
	MimeType string `gorm:"size:255;not null"`
	MD5Hash  string `gorm:"size:32;uniqueIndex;not null"`
}

// Review rows are unique per (book, user); the composite index is the
// authoritative guard, the application pre-check only improves messages.
type Review struct {
	ID        uint `gorm:"primaryKey"`
	BookID    uint `gorm:"not null;uniqueIndex:idx_reviews_book_user"`
	UserID    uint `gorm:"not null;uniqueIndex:idx_reviews_book_user"`
	Rating    int  `gorm:"not null"`
	Text      string `gorm:"type:text;not null"` // sanitized HTML
	CreatedAt time.Time `gorm:"not null"`
	User      User
	Book      Book
}

// PageView records one viewing event. UserID is nil for anonymous visits,
// which are keyed by IP instead.
type PageView struct {
	ID        uint      `gorm:"primaryKey"`
	BookID    uint      `gorm:"not null;index"`
	UserID    *uint     `gorm:"index"`
	ViewTime  time.Time `gorm:"not null;index"`
	IPAddress string    `gorm:"size:45;not null"`
	User      *User
	Book      Book
}
