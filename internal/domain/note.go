package domain

import (
	"context"
	"errors"
)

// NoteRecord is the structured extraction result from a rendered notes page.
// All fields except SourceURL are optional: partial extraction is success.
type NoteRecord struct {
	SourceURL   string
	Title       string
	Summary     string
	ActionItems []string
}

// HasContent reports whether any extractable field is present.
func (r *NoteRecord) HasContent() bool {
	return r.Title != "" || r.Summary != "" || len(r.ActionItems) > 0
}

// Scraper turns a normalized notes URL into a NoteRecord.
// Errors wrap one of the sentinel scrape errors below.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*NoteRecord, error)
}

// Scrape failure taxonomy. The dispatcher converts these into degraded
// user-facing replies; they never propagate further.
var (
	ErrScrapeTimeout = errors.New("page load timed out")
	ErrNavigation    = errors.New("navigation failed")
	ErrPrivateNote   = errors.New("note requires login")
	ErrEmptyNote     = errors.New("note has no content")
)
