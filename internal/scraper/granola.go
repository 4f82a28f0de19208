// Package scraper extracts structured note records from rendered Granola
// pages using the shared browser session.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"granolabot/internal/browser"
	"granolabot/internal/domain"

	"github.com/chromedp/chromedp"
)

// Scraper renders a notes page in a checked-out tab and extracts a
// NoteRecord. One Scraper is shared by all concurrent scrape cycles; each
// call scopes its own tab and closes it on every exit path.
type Scraper struct {
	session *browser.Session
	profile Profile
	timeout time.Duration
	settle  time.Duration
	logger  *slog.Logger
}

// Config holds dependencies and tuning for the scraper.
type Config struct {
	Session *browser.Session
	Profile Profile
	Timeout time.Duration // page load + extraction budget per scrape
	Settle  time.Duration // extra wait after the content container appears
	Logger  *slog.Logger
}

func New(cfg Config) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Profile.Container == "" {
		cfg.Profile = DefaultProfile()
	}
	return &Scraper{
		session: cfg.Session,
		profile: cfg.Profile,
		timeout: cfg.Timeout,
		settle:  cfg.Settle,
		logger:  cfg.Logger,
	}
}

// pageData is the raw DOM extraction result produced by the in-page script.
type pageData struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Items   []string `json:"items"`
}

// Scrape navigates to url, waits for the content container, and extracts
// title, summary, and action items. Partial extraction is success; failures
// wrap one of the domain scrape sentinels.
func (s *Scraper) Scrape(ctx context.Context, url string) (*domain.NoteRecord, error) {
	tabCtx, closeTab, err := s.session.NewTab()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNavigation, err)
	}
	defer closeTab()

	runCtx, cancel := context.WithTimeout(tabCtx, s.timeout)
	defer cancel()

	// Abort the tab when the caller gives up before the timeout.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.logger.Info("scraping page", "url", url, "timeout", s.timeout)

	var data pageData
	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.WaitVisible(s.profile.Container, chromedp.ByQuery),
		chromedp.Sleep(s.settle),
		chromedp.Evaluate(extractScript(s.profile), &data),
	)
	if err != nil {
		return nil, s.classify(err, url)
	}

	rec, err := assembleRecord(data, url, s.profile.SkipPhrases)
	if err != nil {
		s.logger.Warn("page rendered but yielded no usable note", "url", url, "err", err)
		return nil, err
	}

	s.logger.Info("scrape complete",
		"url", url,
		"title", rec.Title,
		"action_items", len(rec.ActionItems),
	)
	return rec, nil
}

func (s *Scraper) classify(err error, url string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		s.logger.Error("page load timed out", "url", url)
		return fmt.Errorf("%w: %s", domain.ErrScrapeTimeout, url)
	}
	s.logger.Error("navigation failed", "url", url, "err", err)
	return fmt.Errorf("%w: %v", domain.ErrNavigation, err)
}

// extractScript builds the in-page extraction script from profile selectors.
// Whitespace is collapsed in-page so the wire payload stays small.
func extractScript(p Profile) string {
	return fmt.Sprintf(`(() => {
	const clean = s => (s || '').replace(/\s+/g, ' ').trim();
	const title = clean(document.querySelector(%q)?.innerText);
	const summaryEl = document.querySelector(%q);
	const summary = clean(summaryEl?.innerText);
	const items = Array.from(document.querySelectorAll(%q))
		.map(el => clean(el.innerText))
		.filter(t => t.length > 0);
	return {title, summary, items};
})()`, p.Title, p.Summary, p.ActionItems)
}

// assembleRecord turns raw page data into a NoteRecord, applying the login
// wall check, UI chrome filtering, and dedup. Pure; exercised directly by
// tests without a browser.
func assembleRecord(data pageData, url string, skipPhrases []string) (*domain.NoteRecord, error) {
	title := collapseWhitespace(data.Title)
	if isLoginWall(title) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPrivateNote, url)
	}

	rec := &domain.NoteRecord{
		SourceURL:   url,
		Title:       title,
		Summary:     collapseWhitespace(data.Summary),
		ActionItems: filterItems(data.Items, skipPhrases),
	}

	// A summary that merely repeats the title adds nothing.
	if rec.Summary == rec.Title {
		rec.Summary = ""
	}

	if !rec.HasContent() {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyNote, url)
	}
	return rec, nil
}

// loginIndicators mark headings shown on private notes instead of content.
var loginIndicators = []string{
	"login to access",
	"sign in to access",
	"you don't have access",
	"you do not have access",
	"access denied",
}

func isLoginWall(title string) bool {
	lower := strings.ToLower(title)
	for _, indicator := range loginIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
