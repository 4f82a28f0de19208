// Package dispatch filters inbound chat events and drives the
// extract → scrape → format → reply pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"granolabot/internal/bus"
	"granolabot/internal/domain"
	"granolabot/internal/format"
	"granolabot/internal/links"
)

const defaultConcurrency = 2

// Dispatcher consumes inbound messages and replies with note summaries.
// Eligibility rules: the event must post-date startup, must not come from
// the bot itself, and must contain at least one note link. Each message ID
// is processed at most once per process lifetime.
type Dispatcher struct {
	bus         domain.MessageBus
	scraper     domain.Scraper
	events      *bus.EventBus
	logger      *slog.Logger
	maxLen      int
	concurrency int
	startup     time.Time

	mu        sync.Mutex
	processed map[string]struct{}
}

// Config holds dependencies and tuning for the dispatcher.
type Config struct {
	Bus              domain.MessageBus
	Scraper          domain.Scraper
	Events           *bus.EventBus // optional
	Logger           *slog.Logger
	MaxContentLength int
	Concurrency      int       // max parallel scrape cycles (default 2)
	StartupTime      time.Time // zero = now
}

func New(cfg Config) *Dispatcher {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 3000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.StartupTime.IsZero() {
		cfg.StartupTime = time.Now()
	}
	return &Dispatcher{
		bus:         cfg.Bus,
		scraper:     cfg.Scraper,
		events:      cfg.Events,
		logger:      cfg.Logger,
		maxLen:      cfg.MaxContentLength,
		concurrency: cfg.Concurrency,
		startup:     cfg.StartupTime,
		processed:   make(map[string]struct{}),
	}
}

// Run consumes inbound messages until ctx is done. Scrape cycles run with
// bounded concurrency; one cycle handles all links of one message
// sequentially, so at most `concurrency` browser tabs exist at a time.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		"startup", d.startup.Format(time.RFC3339),
		"concurrency", d.concurrency,
	)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			cands, ok := d.eligible(msg)
			if !ok {
				continue
			}
			// Block for a free worker slot, but never past shutdown.
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				d.logger.Info("dispatcher stopping")
				return
			}
			go func(m domain.InboundMessage, cands []links.Candidate) {
				defer func() { <-sem }()
				d.process(ctx, m, cands)
			}(msg, cands)
		}
	}
}

// eligible applies the cheap filter rules and claims the message ID.
// Returns the link candidates when the message should be processed.
func (d *Dispatcher) eligible(msg domain.InboundMessage) ([]links.Candidate, bool) {
	if msg.Timestamp.Before(d.startup) {
		d.logger.Debug("ignoring pre-startup message", "message_id", msg.MessageID)
		return nil, false
	}
	if msg.FromSelf {
		return nil, false
	}

	cands := links.Extract(msg.Content)
	if len(cands) == 0 {
		return nil, false
	}

	if !d.claim(msg.Channel + "/" + msg.MessageID) {
		d.logger.Debug("message already processed", "message_id", msg.MessageID)
		return nil, false
	}
	return cands, true
}

// claim inserts the key into the processed set, returning false when it was
// already present. The set lives in memory only; the startup cutoff bounds
// replay after a restart.
func (d *Dispatcher) claim(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, done := d.processed[key]; done {
		return false
	}
	d.processed[key] = struct{}{}
	return true
}

func (d *Dispatcher) process(ctx context.Context, msg domain.InboundMessage, cands []links.Candidate) {
	d.logger.Info("processing message",
		"channel", msg.Channel,
		"message_id", msg.MessageID,
		"links", len(cands),
	)

	for _, cand := range cands {
		d.handleLink(ctx, msg, cand)
	}
}

func (d *Dispatcher) handleLink(ctx context.Context, msg domain.InboundMessage, cand links.Candidate) {
	d.emit(bus.EventLinkDetected, map[string]any{
		"channel":    msg.Channel,
		"message_id": msg.MessageID,
		"url":        cand.Normalized,
	})

	start := time.Now()
	rec, err := d.scraper.Scrape(ctx, cand.Normalized)
	elapsed := time.Since(start)

	var body string
	if err != nil {
		d.logger.Error("scrape failed", "url", cand.Normalized, "err", err, "elapsed", elapsed)
		body = degradedReply(err, cand.Normalized)
		d.emit(bus.EventScrapeFailed, map[string]any{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"message_id":  msg.MessageID,
			"url":         cand.Normalized,
			"error":       err.Error(),
			"reason":      failureReason(err),
			"duration_ms": elapsed.Milliseconds(),
		})
	} else {
		reply := format.Format(rec, d.maxLen)
		if reply.Truncated {
			d.logger.Info("reply truncated", "url", cand.Normalized, "max", d.maxLen)
		}
		body = reply.Body
		d.emit(bus.EventScrapeSucceeded, map[string]any{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"message_id":  msg.MessageID,
			"url":         cand.Normalized,
			"title":       rec.Title,
			"duration_ms": elapsed.Milliseconds(),
		})
	}

	// Anchor the reply onto the existing thread when the source message is
	// already threaded, otherwise start a thread on the message itself.
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = msg.MessageID
	}

	d.bus.SendOutbound(domain.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		ThreadID: threadID,
		Content:  body,
	})

	d.emit(bus.EventReplyPosted, map[string]any{
		"channel":    msg.Channel,
		"message_id": msg.MessageID,
		"url":        cand.Normalized,
	})
}

func (d *Dispatcher) emit(eventType string, payload map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Emit(bus.Event{Type: eventType, Source: "dispatcher", Payload: payload})
}

// degradedReply builds the user-facing fallback when a scrape fails.
func degradedReply(err error, url string) string {
	switch {
	case errors.Is(err, domain.ErrPrivateNote):
		return fmt.Sprintf("🔒 This note is private: %s\n_Make the page public in Granola to share it._", url)
	case errors.Is(err, domain.ErrEmptyNote):
		return fmt.Sprintf("📭 This Granola note is empty: %s", url)
	case errors.Is(err, domain.ErrScrapeTimeout):
		return fmt.Sprintf("⚠️ Couldn't load this link (timed out): %s", url)
	default:
		return fmt.Sprintf("⚠️ Couldn't load this link: %s", url)
	}
}

// failureReason maps a scrape error onto a stable label for metrics and the
// processing journal.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrPrivateNote):
		return "private"
	case errors.Is(err, domain.ErrEmptyNote):
		return "empty"
	case errors.Is(err, domain.ErrScrapeTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrNavigation):
		return "navigation"
	default:
		return "unknown"
	}
}
