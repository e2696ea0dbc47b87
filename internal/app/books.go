package app

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"elibrary/internal/markup"
	"elibrary/internal/store"
)

// BookInput carries the submitted book form fields. Description is raw
// markdown; it is rendered and sanitized before anything is stored.
type BookInput struct {
	Title           string
	Description     string
	PublicationYear int
	Publisher       string
	Author          string
	Pages           int
	GenreIDs        []uint
}

// CoverUpload is an uploaded cover image. Data is bounded upstream by the
// request size cap.
type CoverUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SearchResult is one page of the catalog listing.
type SearchResult struct {
	Books      []store.Book
	Total      int64
	Aggregates map[uint]store.ReviewAggregate
}

func (in BookInput) validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(in.Description) == "" {
		fields["description"] = "description is required"
	}
	if strings.TrimSpace(in.Publisher) == "" {
		fields["publisher"] = "publisher is required"
	}
	if strings.TrimSpace(in.Author) == "" {
		fields["author"] = "author is required"
	}
	if in.PublicationYear < 1000 || in.PublicationYear > 2100 {
		fields["publication_year"] = "publication year must be between 1000 and 2100"
	}
	if in.Pages < 1 {
		fields["pages"] = "page count must be at least 1"
	}
	if len(in.GenreIDs) == 0 {
		fields["genres"] = "select at least one genre"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// SearchBooks returns one page of filtered catalog results together with
// review aggregates for display.
func (a *App) SearchBooks(f store.BookFilter, page int) (SearchResult, error) {
	books, total, err := a.store.SearchBooks(f, page, a.pageSize)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search books: %w", err)
	}
	ids := make([]uint, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	aggregates, err := a.store.ReviewAggregates(ids)
	if err != nil {
		return SearchResult{}, fmt.Errorf("review aggregates: %w", err)
	}
	return SearchResult{Books: books, Total: total, Aggregates: aggregates}, nil
}

// GetBook loads one book with its genres and cover.
func (a *App) GetBook(id uint) (store.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return store.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return store.Book{}, ErrNotFound
	}
	return book, nil
}

// CreateBook validates and stores a new book. The cover file is staged
// before the transaction and committed only after it; any failure discards
// the staged bytes so the filesystem never outruns the database.
func (a *App) CreateBook(ctx context.Context, in BookInput, cover *CoverUpload) (store.Book, error) {
	if err := in.validate(); err != nil {
		return store.Book{}, err
	}
	if cover == nil || len(cover.Data) == 0 {
		return store.Book{}, &ValidationError{Fields: map[string]string{"cover": "a cover image is required"}}
	}

	description, err := markup.RenderDescription(in.Description)
	if err != nil {
		return store.Book{}, fmt.Errorf("render description: %w", err)
	}
	genres, err := a.resolveGenres(in.GenreIDs)
	if err != nil {
		return store.Book{}, err
	}

	sum := md5.Sum(cover.Data)
	hash := hex.EncodeToString(sum[:])
	// Covers are content-addressed: the filename derives from the hash so
	// identical bytes always land on the same file.
	filename := hash + strings.ToLower(filepath.Ext(cover.Filename))
	coverRow := &store.Cover{Filename: filename, MimeType: cover.ContentType, MD5Hash: hash}

	staged, err := a.covers.Stage(ctx, filename, bytes.NewReader(cover.Data), int64(len(cover.Data)), cover.ContentType)
	if err != nil {
		return store.Book{}, fmt.Errorf("stage cover: %w", err)
	}

	book := store.Book{
		Title:           in.Title,
		Description:     description,
		DescriptionSrc:  in.Description,
		PublicationYear: in.PublicationYear,
		Publisher:       in.Publisher,
		Author:          in.Author,
		Pages:           in.Pages,
	}
	coverCreated, err := a.store.CreateBook(&book, genres, coverRow)
	if err != nil {
		if derr := staged.Discard(ctx); derr != nil {
			slog.Error("discard staged cover", "err", derr)
		}
		return store.Book{}, fmt.Errorf("save book: %w", err)
	}
	if coverCreated {
		if err := staged.Commit(ctx); err != nil {
			// The row exists but the file is missing; surface it loudly,
			// the book itself is saved.
			slog.Error("commit cover file", "book_id", book.ID, "filename", filename, "err", err)
		}
	} else {
		if err := staged.Discard(ctx); err != nil {
			slog.Error("discard staged cover", "err", err)
		}
	}
	return book, nil
}

// UpdateBook validates and saves edits. The cover is never replaced on
// edit; genres are replaced with exactly the submitted set.
func (a *App) UpdateBook(_ context.Context, id uint, in BookInput) (store.Book, error) {
	if err := in.validate(); err != nil {
		return store.Book{}, err
	}
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return store.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return store.Book{}, ErrNotFound
	}
	description, err := markup.RenderDescription(in.Description)
	if err != nil {
		return store.Book{}, fmt.Errorf("render description: %w", err)
	}
	genres, err := a.resolveGenres(in.GenreIDs)
	if err != nil {
		return store.Book{}, err
	}

	book.Title = in.Title
	book.Description = description
	book.DescriptionSrc = in.Description
	book.PublicationYear = in.PublicationYear
	book.Publisher = in.Publisher
	book.Author = in.Author
	book.Pages = in.Pages
	if err := a.store.UpdateBook(&book, genres); err != nil {
		return store.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// DeleteBook removes the book and everything it owns. The database rows go
// first; the cover file is removed only after the transaction committed,
// and only when no other book still references it.
func (a *App) DeleteBook(ctx context.Context, id uint) (store.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return store.Book{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return store.Book{}, ErrNotFound
	}
	orphan, found, err := a.store.DeleteBook(id)
	if err != nil {
		return store.Book{}, fmt.Errorf("delete book: %w", err)
	}
	if !found {
		return store.Book{}, ErrNotFound
	}
	if orphan != "" {
		if err := a.covers.Remove(ctx, orphan); err != nil {
			slog.Error("remove cover file", "filename", orphan, "err", err)
		}
	}
	return book, nil
}

func (a *App) resolveGenres(ids []uint) ([]store.Genre, error) {
	genres, err := a.store.GenresByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("load genres: %w", err)
	}
	if len(genres) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"genres": "select at least one genre"}}
	}
	return genres, nil
}
