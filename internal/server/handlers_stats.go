package server

import (
	"net/http"
	"time"

	"elibrary/internal/app"
	"elibrary/internal/store"
)

const dateLayout = "2006-01-02"

type journalEntry struct {
	Viewer   string
	Book     string
	ViewedAt string
}

// statisticsPage renders one of the two tabs: the visit journal or the
// per-book view counts.
type statisticsPage struct {
	basePage
	Tab        string // "journal" or "stats"
	Entries    []journalEntry
	Rows       []store.BookViewStat
	Total      int64
	Pagination []pageLink
	DateFrom   string
	DateTo     string
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request, _ store.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	page := pageParam(q.Get("page"))
	tab := q.Get("tab")
	if tab != "stats" {
		tab = "journal"
	}

	data := statisticsPage{
		basePage: s.base(w, r, "Statistics"),
		Tab:      tab,
		DateFrom: q.Get("date_from"),
		DateTo:   q.Get("date_to"),
	}
	if tab == "stats" {
		result, err := s.app.ViewStats(statsFilter(data.DateFrom, data.DateTo), page)
		if err != nil {
			s.internalError(w, r, "view stats", err)
			return
		}
		data.Rows = result.Rows
		data.Total = result.Total
	} else {
		result, err := s.app.Journal(page)
		if err != nil {
			s.internalError(w, r, "journal", err)
			return
		}
		data.Entries = make([]journalEntry, 0, len(result.Entries))
		for _, e := range result.Entries {
			viewer := "Anonymous"
			if e.User != nil {
				viewer = e.User.FullName()
			}
			title := e.Book.Title
			if e.Book.ID == 0 {
				title = "(deleted book)"
			}
			data.Entries = append(data.Entries, journalEntry{
				Viewer:   viewer,
				Book:     title,
				ViewedAt: e.ViewTime.Format("2006-01-02 15:04:05"),
			})
		}
		data.Total = result.Total
	}
	data.Pagination = paginate("/statistics", q, page, data.Total, s.app.PageSize())
	s.render.render(w, http.StatusOK, "statistics", data)
}

func (s *Server) handleJournalCSV(w http.ResponseWriter, r *http.Request, _ store.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	setCSVHeaders(w, "journal")
	if err := s.app.ExportJournalCSV(w); err != nil {
		s.internalError(w, r, "export journal", err)
	}
}

func (s *Server) handleStatsCSV(w http.ResponseWriter, r *http.Request, _ store.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	setCSVHeaders(w, "stats")
	if err := s.app.ExportStatsCSV(w, statsFilter(q.Get("date_from"), q.Get("date_to"))); err != nil {
		s.internalError(w, r, "export stats", err)
	}
}

func setCSVHeaders(w http.ResponseWriter, prefix string) {
	name := prefix + "_" + time.Now().Format("20060102_150405") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
}

func statsFilter(fromRaw, toRaw string) app.StatsFilter {
	var filter app.StatsFilter
	if fromRaw != "" {
		if t, err := time.ParseInLocation(dateLayout, fromRaw, time.Local); err == nil {
			filter.DateFrom = &t
		}
	}
	if toRaw != "" {
		if t, err := time.ParseInLocation(dateLayout, toRaw, time.Local); err == nil {
			filter.DateTo = &t
		}
	}
	return filter
}
