package objectlog

import (
	"math"
	"time"

	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
)

const (
	// DefaultPerPage is used when ListOptions.PerPage is not set.
	DefaultPerPage = 20
	// MaxPerPage caps ListOptions.PerPage.
	MaxPerPage = 100
	// MaxPage caps ListOptions.Page so the row offset always fits in an int.
	MaxPage = math.MaxInt32 / MaxPerPage
)

// ListOptions selects a page of entries and optional filters.
type ListOptions struct {
	Page    int
	PerPage int
	Action  string
	Since   *time.Time
	Until   *time.Time
}

func (o ListOptions) normalize() ListOptions {
	switch {
	case o.Page < 1:
		o.Page = 1
	case o.Page > MaxPage:
		o.Page = MaxPage
	}
	switch {
	case o.PerPage <= 0:
		o.PerPage = DefaultPerPage
	case o.PerPage > MaxPerPage:
		o.PerPage = MaxPerPage
	}
	return o
}

func (o ListOptions) offset() int {
	return (o.Page - 1) * o.PerPage
}

func (o ListOptions) filters() repositories.LogEntryFilters {
	f := repositories.LogEntryFilters{Since: o.Since, Until: o.Until}
	if o.Action != "" {
		action := o.Action
		f.Action = &action
	}
	return f
}

// Page is one page of entries, newest first.
type Page struct {
	Entries []*models.LogEntry `json:"entries"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
	PerPage int                `json:"per_page"`
}

// TotalPages returns the number of pages needed for Total entries.
func (p *Page) TotalPages() int {
	if p.PerPage <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}

// HasNext reports whether a later page exists.
func (p *Page) HasNext() bool { return p.Page < p.TotalPages() }

// HasPrev reports whether an earlier page exists.
func (p *Page) HasPrev() bool { return p.Page > 1 }
