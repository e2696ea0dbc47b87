package server

import (
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"elibrary/internal/app"
	"elibrary/internal/store"
)

type indexPage struct {
	basePage
	Books      []store.Book
	Aggregates map[uint]store.ReviewAggregate
	Total      int64
	Pagination []pageLink
	Popular    []store.PopularBook
	Recent     []store.Book

	Genres        []store.Genre
	Years         []int
	FilterTitle   string
	FilterAuthor  string
	SelectedGenre map[uint]bool
	SelectedYear  map[int]bool
	PagesFrom     string
	PagesTo       string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filter := store.BookFilter{
		Title:  strings.TrimSpace(q.Get("title")),
		Author: strings.TrimSpace(q.Get("author")),
	}
	selectedGenre := map[uint]bool{}
	for _, raw := range q["genre"] {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.GenreIDs = append(filter.GenreIDs, uint(id))
			selectedGenre[uint(id)] = true
		}
	}
	selectedYear := map[int]bool{}
	for _, raw := range q["year"] {
		if year, err := strconv.Atoi(raw); err == nil {
			filter.Years = append(filter.Years, year)
			selectedYear[year] = true
		}
	}
	if raw := q.Get("pages_from"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.PagesFrom = &n
		}
	}
	if raw := q.Get("pages_to"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.PagesTo = &n
		}
	}
	page := pageParam(q.Get("page"))

	result, err := s.app.SearchBooks(filter, page)
	if err != nil {
		s.internalError(w, r, "search books", err)
		return
	}

	// The sidebar blocks are independent queries; load them concurrently.
	var (
		genres  []store.Genre
		years   []int
		popular []store.PopularBook
		recent  []store.Book
	)
	viewer := s.viewer(r)
	var g errgroup.Group
	g.Go(func() (err error) {
		genres, err = s.app.ListGenres()
		return err
	})
	g.Go(func() (err error) {
		years, err = s.app.PublicationYears()
		return err
	})
	g.Go(func() (err error) {
		popular, err = s.app.PopularBooks()
		return err
	})
	g.Go(func() (err error) {
		recent, err = s.app.RecentBooks(viewer)
		return err
	})
	if err := g.Wait(); err != nil {
		s.internalError(w, r, "load index", err)
		return
	}

	s.render.render(w, http.StatusOK, "index", indexPage{
		basePage:      s.base(w, r, "Catalog"),
		Books:         result.Books,
		Aggregates:    result.Aggregates,
		Total:         result.Total,
		Pagination:    paginate("/", q, page, result.Total, s.app.PageSize()),
		Popular:       popular,
		Recent:        recent,
		Genres:        genres,
		Years:         years,
		FilterTitle:   filter.Title,
		FilterAuthor:  filter.Author,
		SelectedGenre: selectedGenre,
		SelectedYear:  selectedYear,
		PagesFrom:     q.Get("pages_from"),
		PagesTo:       q.Get("pages_to"),
	})
}

// handleBookSubtree dispatches /book/{id}[/edit|/delete|/add_review].
func (s *Server) handleBookSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/book/")
	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || id == 0 {
		http.NotFound(w, r)
		return
	}
	bookID := uint(id)
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "":
		s.handleBookDetail(w, r, bookID)
	case "edit":
		s.requireRoles(store.RoleModerator, store.RoleAdmin)(func(w http.ResponseWriter, r *http.Request, user store.User) {
			s.handleEditBook(w, r, user, bookID)
		}).ServeHTTP(w, r)
	case "delete":
		s.requireRoles(store.RoleAdmin)(func(w http.ResponseWriter, r *http.Request, user store.User) {
			s.handleDeleteBook(w, r, user, bookID)
		}).ServeHTTP(w, r)
	case "add_review":
		s.requireAuth(func(w http.ResponseWriter, r *http.Request, user store.User) {
			s.handleReview(w, r, user, bookID)
		}).ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

type reviewView struct {
	Author    string
	Rating    int
	TextHTML  template.HTML
	CreatedAt string
}

type bookDetailPage struct {
	basePage
	Book            store.Book
	DescriptionHTML template.HTML
	Aggregate       store.ReviewAggregate
	Reviews         []reviewView
	MyReview        *reviewView
	CanReview       bool
	CanEdit         bool
	CanDelete       bool
}

func (s *Server) handleBookDetail(w http.ResponseWriter, r *http.Request, bookID uint) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.GetBook(bookID)
	if errors.Is(err, app.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, r, "get book", err)
		return
	}

	viewer := s.viewer(r)
	s.app.TrackView(bookID, viewer)

	reviews, err := s.app.ListReviews(bookID)
	if err != nil {
		s.internalError(w, r, "list reviews", err)
		return
	}
	agg := reviewAggregate(reviews)

	page := bookDetailPage{
		basePage:        s.base(w, r, book.Title),
		Book:            book,
		DescriptionHTML: template.HTML(book.Description),
		Aggregate:       agg,
		Reviews:         make([]reviewView, 0, len(reviews)),
	}
	for _, rv := range reviews {
		page.Reviews = append(page.Reviews, reviewView{
			Author:    rv.User.FullName(),
			Rating:    rv.Rating,
			TextHTML:  template.HTML(rv.Text),
			CreatedAt: rv.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	if viewer.User != nil {
		role := viewer.User.Role.Name
		page.CanEdit = role == store.RoleModerator || role == store.RoleAdmin
		page.CanDelete = role == store.RoleAdmin
		mine, found, err := s.app.UserReview(bookID, viewer.User.ID)
		if err != nil {
			s.internalError(w, r, "load own review", err)
			return
		}
		if found {
			page.MyReview = &reviewView{
				Author:    viewer.User.FullName(),
				Rating:    mine.Rating,
				TextHTML:  template.HTML(mine.Text),
				CreatedAt: mine.CreatedAt.Format("2006-01-02 15:04"),
			}
		} else {
			page.CanReview = true
		}
	}
	s.render.render(w, http.StatusOK, "book_detail", page)
}

type bookFormPage struct {
	basePage
	Action        string
	IsEdit        bool
	Input         app.BookInput
	Genres        []store.Genre
	SelectedGenre map[uint]bool
	Errors        map[string]string
}

func (s *Server) newBookFormPage(w http.ResponseWriter, r *http.Request, title, action string, isEdit bool, in app.BookInput) (bookFormPage, error) {
	genres, err := s.app.ListGenres()
	if err != nil {
		return bookFormPage{}, err
	}
	selected := map[uint]bool{}
	for _, id := range in.GenreIDs {
		selected[id] = true
	}
	return bookFormPage{
		basePage:      s.base(w, r, title),
		Action:        action,
		IsEdit:        isEdit,
		Input:         in,
		Genres:        genres,
		SelectedGenre: selected,
	}, nil
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request, _ store.User) {
	switch r.Method {
	case http.MethodGet:
		page, err := s.newBookFormPage(w, r, "Add book", "/book/add", false, app.BookInput{})
		if err != nil {
			s.internalError(w, r, "build book form", err)
			return
		}
		s.render.render(w, http.StatusOK, "book_form", page)
	case http.MethodPost:
		in, cover, err := s.bookFormInput(w, r)
		if err != nil {
			addFlash(w, r, "danger", err.Error())
			http.Redirect(w, r, "/book/add", http.StatusSeeOther)
			return
		}
		book, err := s.app.CreateBook(r.Context(), in, cover)
		if err != nil {
			if ve, ok := app.AsValidation(err); ok {
				page, perr := s.newBookFormPage(w, r, "Add book", "/book/add", false, in)
				if perr != nil {
					s.internalError(w, r, "build book form", perr)
					return
				}
				page.Errors = ve.Fields
				s.render.render(w, http.StatusUnprocessableEntity, "book_form", page)
				return
			}
			slog.Error("create book", "err", err)
			addFlash(w, r, "danger", "Could not save the book: "+err.Error())
			http.Redirect(w, r, "/book/add", http.StatusSeeOther)
			return
		}
		addFlash(w, r, "success", "Book added.")
		http.Redirect(w, r, "/book/"+strconv.FormatUint(uint64(book.ID), 10), http.StatusSeeOther)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleEditBook(w http.ResponseWriter, r *http.Request, _ store.User, bookID uint) {
	action := "/book/" + strconv.FormatUint(uint64(bookID), 10) + "/edit"
	switch r.Method {
	case http.MethodGet:
		book, err := s.app.GetBook(bookID)
		if errors.Is(err, app.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.internalError(w, r, "get book", err)
			return
		}
		in := app.BookInput{
			Title:           book.Title,
			Description:     book.DescriptionSrc,
			PublicationYear: book.PublicationYear,
			Publisher:       book.Publisher,
			Author:          book.Author,
			Pages:           book.Pages,
		}
		for _, g := range book.Genres {
			in.GenreIDs = append(in.GenreIDs, g.ID)
		}
		page, err := s.newBookFormPage(w, r, "Edit "+book.Title, action, true, in)
		if err != nil {
			s.internalError(w, r, "build book form", err)
			return
		}
		s.render.render(w, http.StatusOK, "book_form", page)
	case http.MethodPost:
		in, _, err := s.bookFormInput(w, r)
		if err != nil {
			addFlash(w, r, "danger", err.Error())
			http.Redirect(w, r, action, http.StatusSeeOther)
			return
		}
		if _, err := s.app.UpdateBook(r.Context(), bookID, in); err != nil {
			if errors.Is(err, app.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			if ve, ok := app.AsValidation(err); ok {
				page, perr := s.newBookFormPage(w, r, "Edit book", action, true, in)
				if perr != nil {
					s.internalError(w, r, "build book form", perr)
					return
				}
				page.Errors = ve.Fields
				s.render.render(w, http.StatusUnprocessableEntity, "book_form", page)
				return
			}
			slog.Error("update book", "err", err)
			addFlash(w, r, "danger", "Could not save the book: "+err.Error())
			http.Redirect(w, r, action, http.StatusSeeOther)
			return
		}
		addFlash(w, r, "success", "Book updated.")
		http.Redirect(w, r, "/book/"+strconv.FormatUint(uint64(bookID), 10), http.StatusSeeOther)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ store.User, bookID uint) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	book, err := s.app.DeleteBook(r.Context(), bookID)
	if errors.Is(err, app.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("delete book", "err", err)
		addFlash(w, r, "danger", "Could not delete the book: "+err.Error())
		http.Redirect(w, r, "/book/"+strconv.FormatUint(uint64(bookID), 10), http.StatusSeeOther)
		return
	}
	addFlash(w, r, "success", "Deleted \""+book.Title+"\".")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type reviewFormPage struct {
	basePage
	Book   store.Book
	Rating int
	Text   string
	Errors map[string]string
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, user store.User, bookID uint) {
	book, err := s.app.GetBook(bookID)
	if errors.Is(err, app.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, r, "get book", err)
		return
	}
	bookURL := "/book/" + strconv.FormatUint(uint64(bookID), 10)

	switch r.Method {
	case http.MethodGet:
		s.render.render(w, http.StatusOK, "review_form", reviewFormPage{
			basePage: s.base(w, r, "Review "+book.Title),
			Book:     book,
			Rating:   5,
		})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		rating, _ := strconv.Atoi(r.PostFormValue("rating"))
		text := r.PostFormValue("text")
		err := s.app.AddReview(bookID, user, rating, text)
		switch {
		case err == nil:
			addFlash(w, r, "success", "Review saved.")
			http.Redirect(w, r, bookURL, http.StatusSeeOther)
		case errors.Is(err, app.ErrAlreadyReviewed):
			addFlash(w, r, "warning", "You have already reviewed this book.")
			http.Redirect(w, r, bookURL, http.StatusSeeOther)
		case errors.Is(err, app.ErrForbidden):
			addFlash(w, r, "danger", "You do not have permission to perform this action.")
			http.Redirect(w, r, "/", http.StatusSeeOther)
		default:
			if ve, ok := app.AsValidation(err); ok {
				s.render.render(w, http.StatusUnprocessableEntity, "review_form", reviewFormPage{
					basePage: s.base(w, r, "Review "+book.Title),
					Book:     book,
					Rating:   rating,
					Text:     text,
					Errors:   ve.Fields,
				})
				return
			}
			s.internalError(w, r, "add review", err)
		}
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/uploads/")
	if filename == "" || strings.Contains(filename, "/") {
		http.NotFound(w, r)
		return
	}
	rc, err := s.app.OpenCover(r.Context(), filename)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rc.Close()
	if ct := contentTypeForExt(filepath.Ext(filename)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("stream cover", "filename", filename, "err", err)
	}
}

// bookFormInput parses the multipart book form. The request body is capped
// before parsing so oversized uploads fail fast.
func (s *Server) bookFormInput(w http.ResponseWriter, r *http.Request) (app.BookInput, *app.CoverUpload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return app.BookInput{}, nil, errors.New("upload is too large or malformed")
	}
	in := app.BookInput{
		Title:       strings.TrimSpace(r.PostFormValue("title")),
		Description: r.PostFormValue("description"),
		Publisher:   strings.TrimSpace(r.PostFormValue("publisher")),
		Author:      strings.TrimSpace(r.PostFormValue("author")),
	}
	in.PublicationYear, _ = strconv.Atoi(r.PostFormValue("publication_year"))
	in.Pages, _ = strconv.Atoi(r.PostFormValue("pages"))
	for _, raw := range r.PostForm["genre"] {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			in.GenreIDs = append(in.GenreIDs, uint(id))
		}
	}

	file, header, err := r.FormFile("cover")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return app.BookInput{}, nil, errors.New("cannot read the uploaded cover")
	}
	defer file.Close()
	cover, err := s.readCover(file, header)
	if err != nil {
		return app.BookInput{}, nil, err
	}
	return in, cover, nil
}

func (s *Server) readCover(file multipart.File, header *multipart.FileHeader) (*app.CoverUpload, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := s.allowedExts[ext]; !ok {
		return nil, errors.New("unsupported cover file type")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New("cannot read the uploaded cover")
	}
	ct := header.Header.Get("Content-Type")
	if ct == "" {
		ct = contentTypeForExt(ext)
	}
	return &app.CoverUpload{Filename: header.Filename, ContentType: ct, Data: data}, nil
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return ""
	}
}

func pageParam(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func reviewAggregate(reviews []store.Review) store.ReviewAggregate {
	agg := store.ReviewAggregate{Count: int64(len(reviews))}
	if agg.Count == 0 {
		return agg
	}
	var sum int
	for _, r := range reviews {
		sum += r.Rating
	}
	agg.Average = float64(sum) / float64(agg.Count)
	return agg
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	slog.Error(op, "path", r.URL.Path, "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
