// Package browser owns the shared headless Chrome session. Starting Chrome
// is expensive, so one browser process is kept alive for the lifetime of the
// gateway and each scrape checks out its own tab.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Session manages the shared Chrome instance.
type Session struct {
	profileDir string
	headless   bool
	logger     *slog.Logger

	mu            sync.Mutex
	parent        context.Context
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// SessionConfig holds configuration for the browser session.
type SessionConfig struct {
	ProfileDir string // Chrome user data directory
	Headless   bool
	Logger     *slog.Logger
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".granolabot", "chrome-profile")
	}
	return &Session{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		logger:     cfg.Logger,
	}
}

// Start launches the shared Chrome process. parentCtx bounds the lifetime of
// the whole session; cancelling it tears the browser down.
func (s *Session) Start(parentCtx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = parentCtx
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if err := os.MkdirAll(s.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir %s: %w", s.profileDir, err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(s.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgent),
	)
	if s.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(s.parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Launch the browser process up front so the first scrape doesn't pay
	// the startup cost and a broken Chrome install fails fast.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("launch chrome: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocCancel = allocCancel
	s.logger.Info("browser session started", "profile", s.profileDir, "headless", s.headless)
	return nil
}

// NewTab checks out a fresh tab in the shared browser. The caller MUST call
// cancel() on every exit path; cancelling closes the tab. A dead browser
// session is detected here and restarted before the tab is created.
func (s *Session) NewTab() (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browserCtx == nil {
		return nil, nil, fmt.Errorf("browser session not started")
	}

	if s.browserCtx.Err() != nil {
		if s.parent == nil || s.parent.Err() != nil {
			return nil, nil, fmt.Errorf("browser session closed")
		}
		s.logger.Warn("browser session died, restarting")
		s.closeLocked()
		if err := s.startLocked(); err != nil {
			return nil, nil, fmt.Errorf("restart browser: %w", err)
		}
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	return tabCtx, tabCancel, nil
}

// Close shuts down the shared browser process.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.logger.Info("browser session closed")
}

func (s *Session) closeLocked() {
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.browserCtx = nil
}
