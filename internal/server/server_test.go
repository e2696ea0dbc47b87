package server

import (
	"encoding/csv"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"elibrary/internal/app"
	"elibrary/internal/auth"
	"elibrary/internal/storage"
	"elibrary/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.GormStore, *app.App) {
	t.Helper()
	hash, err := auth.HashPassword("admin-pass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	st, err := store.NewGormStore("", filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Seed(store.SeedConfig{
		AdminLogin:        "admin",
		AdminPasswordHash: hash,
		AdminFirstName:    "Ada",
		AdminLastName:     "Admin",
		Genres:            []string{"Fantasy", "Classic"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	covers, err := storage.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("cover store: %v", err)
	}
	a, err := app.New(app.Config{
		Store:    st,
		Sessions: store.NewJWTSessionStore("test-secret", time.Hour),
		Covers:   covers,
	})
	if err != nil {
		t.Fatalf("construct app: %v", err)
	}
	srv, err := New(Config{App: a, SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("construct server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st, a
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func login(t *testing.T, ts *httptest.Server, client *http.Client, user, password string) {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/login", url.Values{
		"login":    {user},
		"password": {password},
	})
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login final status = %d", resp.StatusCode)
	}
}

func registerUser(t *testing.T, st *store.GormStore, loginName, roleName, password string) {
	t.Helper()
	role, ok, err := st.GetRoleByName(roleName)
	if err != nil || !ok {
		t.Fatalf("role %s: ok=%v err=%v", roleName, ok, err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := store.User{Login: loginName, PasswordHash: hash, FirstName: "Test", LastName: loginName, RoleID: role.ID}
	if err := st.CreateUser(&u); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func TestIndexIsPublic(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get index: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("index status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Library Catalog") {
		t.Fatalf("index body missing title")
	}
}

func TestStatisticsRedirectsAnonymousToLogin(t *testing.T) {
	ts, _, _ := newTestServer(t)

	client := newClient(t)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(ts.URL + "/statistics")
	if err != nil {
		t.Fatalf("get statistics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want redirect", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	if !strings.HasPrefix(loc, "/login?next=") {
		t.Fatalf("redirect = %q, want login with next", loc)
	}
	if !strings.Contains(loc, url.QueryEscape("/statistics")) {
		t.Fatalf("next must point back to /statistics: %q", loc)
	}
}

func TestStatisticsRejectsRegularUser(t *testing.T) {
	ts, st, _ := newTestServer(t)
	registerUser(t, st, "reader", store.RoleUser, "reader-pass")

	client := newClient(t)
	login(t, ts, client, "reader", "reader-pass")

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(ts.URL + "/statistics")
	if err != nil {
		t.Fatalf("get statistics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("regular user must be sent home: status=%d loc=%q",
			resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestStatisticsAllowsAdmin(t *testing.T) {
	ts, _, _ := newTestServer(t)

	client := newClient(t)
	login(t, ts, client, "admin", "admin-pass")

	resp, err := client.Get(ts.URL + "/statistics")
	if err != nil {
		t.Fatalf("get statistics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin statistics status = %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts, _, _ := newTestServer(t)

	client := newClient(t)
	resp, err := client.PostForm(ts.URL+"/login", url.Values{
		"login":    {"admin"},
		"password": {"wrong"},
	})
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Cannot authenticate") {
		t.Fatalf("error message missing from login page")
	}
}

func TestStatsCSVExport(t *testing.T) {
	ts, st, a := newTestServer(t)
	registerUser(t, st, "reader", store.RoleUser, "reader-pass")

	genres, err := st.ListGenres()
	if err != nil || len(genres) == 0 {
		t.Fatalf("genres: %v", err)
	}
	b := store.Book{Title: "Tracked", Description: "<p>d</p>", PublicationYear: 2020, Publisher: "P", Author: "A", Pages: 10}
	if _, err := st.CreateBook(&b, genres[:1], &store.Cover{Filename: "c.png", MimeType: "image/png", MD5Hash: "c0ffee"}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	reader, ok, err := st.GetUserByLogin("reader")
	if err != nil || !ok {
		t.Fatalf("load reader: %v", err)
	}
	a.TrackView(b.ID, app.Viewer{User: &reader, IP: "10.0.0.1"})

	client := newClient(t)
	login(t, ts, client, "admin", "admin-pass")

	resp, err := client.Get(ts.URL + "/export_stats_csv")
	if err != nil {
		t.Fatalf("get csv: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("content disposition = %q", cd)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(rows))
	}
	if rows[1][1] != "Tracked" || rows[1][2] != "1" {
		t.Fatalf("unexpected data row: %v", rows[1])
	}
}

func TestBookDetailTracksAnonymousView(t *testing.T) {
	ts, st, _ := newTestServer(t)

	genres, err := st.ListGenres()
	if err != nil || len(genres) == 0 {
		t.Fatalf("genres: %v", err)
	}
	b := store.Book{Title: "Seen", Description: "<p>d</p>", PublicationYear: 2020, Publisher: "P", Author: "A", Pages: 10}
	if _, err := st.CreateBook(&b, genres[:1], &store.Cover{Filename: "s.png", MimeType: "image/png", MD5Hash: "5ee"}); err != nil {
		t.Fatalf("create book: %v", err)
	}

	resp, err := http.Get(ts.URL + "/book/1")
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detail status = %d", resp.StatusCode)
	}
	total, err := st.CountViews(b.ID, nil, "127.0.0.1", time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("count views: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected one recorded view, got %d", total)
	}
}

func TestUnknownBookIs404(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/book/999")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
