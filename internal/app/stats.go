package app

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"elibrary/internal/store"
)

const statsTimeLayout = "2006-01-02 15:04:05"

// StatsFilter bounds the per-book view aggregation by calendar date.
type StatsFilter struct {
	DateFrom *time.Time
	DateTo   *time.Time
}

// bounds converts the calendar dates into timestamp bounds. The upper bound
// is pushed to the end of its day so the whole DateTo day is included.
func (f StatsFilter) bounds() (*time.Time, *time.Time) {
	var to *time.Time
	if f.DateTo != nil {
		t := f.DateTo.AddDate(0, 0, 1).Add(-time.Microsecond)
		to = &t
	}
	return f.DateFrom, to
}

// JournalPage is one page of the visit journal.
type JournalPage struct {
	Entries []store.PageView
	Total   int64
}

// StatsPage is one page of the per-book view aggregation.
type StatsPage struct {
	Rows  []store.BookViewStat
	Total int64
}

// Journal returns one page of the visit journal, newest first.
func (a *App) Journal(page int) (JournalPage, error) {
	entries, total, err := a.store.Journal(page, a.pageSize)
	if err != nil {
		return JournalPage{}, fmt.Errorf("load journal: %w", err)
	}
	return JournalPage{Entries: entries, Total: total}, nil
}

// ViewStats returns one page of authenticated view counts per book.
func (a *App) ViewStats(f StatsFilter, page int) (StatsPage, error) {
	from, to := f.bounds()
	rows, total, err := a.store.BookViewStats(from, to, page, a.pageSize)
	if err != nil {
		return StatsPage{}, fmt.Errorf("load view stats: %w", err)
	}
	return StatsPage{Rows: rows, Total: total}, nil
}

// ExportJournalCSV writes the full visit journal as CSV.
func (a *App) ExportJournalCSV(w io.Writer) error {
	entries, err := a.store.AllJournal()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"#", "User", "Book", "Viewed At"}); err != nil {
		return err
	}
	for i, e := range entries {
		viewer := "Anonymous"
		if e.User != nil {
			viewer = e.User.FullName()
		}
		title := e.Book.Title
		if e.Book.ID == 0 {
			title = "(deleted book)"
		}
		row := []string{
			strconv.Itoa(i + 1),
			viewer,
			title,
			e.ViewTime.Format(statsTimeLayout),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportStatsCSV writes the filtered per-book view counts as CSV.
func (a *App) ExportStatsCSV(w io.Writer, f StatsFilter) error {
	from, to := f.bounds()
	rows, err := a.store.AllBookViewStats(from, to)
	if err != nil {
		return fmt.Errorf("load view stats: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"#", "Book", "Views"}); err != nil {
		return err
	}
	for i, r := range rows {
		row := []string{
			strconv.Itoa(i + 1),
			r.Title,
			strconv.FormatInt(r.ViewCount, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
