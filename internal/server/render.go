package server

import (
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages are parsed once at startup; each page template is combined with the
// shared base layout.
var pageNames = []string{
	"index", "login", "book_detail", "book_form", "review_form",
	"statistics",
}

type renderer struct {
	pages map[string]*template.Template
}

func newRenderer() (*renderer, error) {
	r := &renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.New("base.html").Funcs(template.FuncMap{
			"inc": func(i int) int { return i + 1 },
		}).ParseFS(templateFS,
			"templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func (r *renderer) render(w http.ResponseWriter, status int, page string, data any) {
	t, ok := r.pages[page]
	if !ok {
		slog.Error("unknown template", "page", page)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := t.ExecuteTemplate(w, "base.html", data); err != nil {
		slog.Error("render template", "page", page, "err", err)
	}
}

// pageLink is one entry of a pagination strip.
type pageLink struct {
	Number  int
	URL     string
	Current bool
}

// paginate builds a pagination strip for the given base path, preserving
// the query string apart from the page parameter.
func paginate(path string, query url.Values, page int, total int64, perPage int) []pageLink {
	if perPage <= 0 {
		return nil
	}
	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	if totalPages <= 1 {
		return nil
	}
	links := make([]pageLink, 0, totalPages)
	for n := 1; n <= totalPages; n++ {
		q := url.Values{}
		for k, vs := range query {
			if k == "page" {
				continue
			}
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(n))
		links = append(links, pageLink{
			Number:  n,
			URL:     path + "?" + q.Encode(),
			Current: n == page,
		})
	}
	return links
}
