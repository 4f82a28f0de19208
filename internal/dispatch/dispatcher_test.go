package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"granolabot/internal/bus"
	"granolabot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeScraper returns canned results per URL and counts invocations.
type fakeScraper struct {
	calls  atomic.Int32
	result func(url string) (*domain.NoteRecord, error)
}

func (f *fakeScraper) Scrape(ctx context.Context, url string) (*domain.NoteRecord, error) {
	f.calls.Add(1)
	return f.result(url)
}

func happyScraper() *fakeScraper {
	return &fakeScraper{result: func(url string) (*domain.NoteRecord, error) {
		return &domain.NoteRecord{
			SourceURL:   url,
			Title:       "Weekly Sync",
			Summary:     "Discussed Q3 roadmap.",
			ActionItems: []string{"Follow up with design"},
		}, nil
	}}
}

// harness wires a real InMemoryBus to a dispatcher under test and captures
// outbound replies.
type harness struct {
	bus     *bus.InMemoryBus
	replies chan domain.OutboundMessage
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, scraper domain.Scraper) *harness {
	t.Helper()

	b := bus.New(32, testLogger())
	replies := make(chan domain.OutboundMessage, 32)
	b.OnOutbound("slack", func(msg domain.OutboundMessage) {
		replies <- msg
	})

	d := New(Config{
		Bus:              b,
		Scraper:          scraper,
		Events:           bus.NewEventBus(testLogger()),
		Logger:           testLogger(),
		MaxContentLength: 3000,
		Concurrency:      2,
		StartupTime:      time.Now().Add(-time.Minute),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	t.Cleanup(func() {
		cancel()
		b.Close()
	})
	return &harness{bus: b, replies: replies, cancel: cancel}
}

func (h *harness) waitReply(t *testing.T) domain.OutboundMessage {
	t.Helper()
	select {
	case msg := <-h.replies:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no reply posted")
		return domain.OutboundMessage{}
	}
}

func (h *harness) expectNoReply(t *testing.T) {
	t.Helper()
	select {
	case msg := <-h.replies:
		t.Fatalf("unexpected reply: %+v", msg)
	case <-time.After(150 * time.Millisecond):
	}
}

func inbound(content string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "slack",
		ChatID:    "C123",
		MessageID: "1700000000.000100",
		SenderID:  "U456",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestDispatcher_EndToEnd(t *testing.T) {
	h := newHarness(t, happyScraper())

	h.bus.Publish(inbound("check notes https://notes.granola.ai/d/abc123"))

	reply := h.waitReply(t)
	if reply.ChatID != "C123" {
		t.Errorf("wrong chat: %s", reply.ChatID)
	}
	if reply.ThreadID != "1700000000.000100" {
		t.Errorf("reply not threaded onto source message: %q", reply.ThreadID)
	}

	body := reply.Content
	ti := strings.Index(body, "Weekly Sync")
	si := strings.Index(body, "Discussed Q3 roadmap.")
	ai := strings.Index(body, "Follow up with design")
	if ti < 0 || si < 0 || ai < 0 || !(ti < si && si < ai) {
		t.Errorf("sections missing or out of order:\n%s", body)
	}
}

func TestDispatcher_ExistingThreadRootPreferred(t *testing.T) {
	h := newHarness(t, happyScraper())

	msg := inbound("https://notes.granola.ai/d/abc123")
	msg.ThreadID = "1699999999.000001"
	h.bus.Publish(msg)

	reply := h.waitReply(t)
	if reply.ThreadID != "1699999999.000001" {
		t.Errorf("expected existing thread root, got %q", reply.ThreadID)
	}
}

func TestDispatcher_TimeoutYieldsDegradedReply(t *testing.T) {
	scraper := &fakeScraper{result: func(url string) (*domain.NoteRecord, error) {
		return nil, fmt.Errorf("%w: %s", domain.ErrScrapeTimeout, url)
	}}
	h := newHarness(t, scraper)

	h.bus.Publish(inbound("https://notes.granola.ai/d/abc123"))

	reply := h.waitReply(t)
	if !strings.Contains(reply.Content, "Couldn't load this link") {
		t.Errorf("expected degraded reply, got:\n%s", reply.Content)
	}
	if !strings.Contains(reply.Content, "https://notes.granola.ai/d/abc123") {
		t.Errorf("degraded reply should reference the url:\n%s", reply.Content)
	}
	if reply.ThreadID == "" {
		t.Error("degraded reply must still be threaded")
	}
}

func TestDispatcher_PrivateNoteDegradedReply(t *testing.T) {
	scraper := &fakeScraper{result: func(url string) (*domain.NoteRecord, error) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPrivateNote, url)
	}}
	h := newHarness(t, scraper)

	h.bus.Publish(inbound("https://notes.granola.ai/d/abc123"))

	reply := h.waitReply(t)
	if !strings.Contains(reply.Content, "private") {
		t.Errorf("expected private-note reply, got:\n%s", reply.Content)
	}
}

func TestDispatcher_PreStartupMessageIgnored(t *testing.T) {
	scraper := happyScraper()
	h := newHarness(t, scraper)

	msg := inbound("https://notes.granola.ai/d/abc123")
	msg.Timestamp = time.Now().Add(-time.Hour)
	h.bus.Publish(msg)

	h.expectNoReply(t)
	if scraper.calls.Load() != 0 {
		t.Error("scraper must not run for pre-startup messages")
	}
}

func TestDispatcher_SelfMessageIgnored(t *testing.T) {
	scraper := happyScraper()
	h := newHarness(t, scraper)

	msg := inbound("https://notes.granola.ai/d/abc123")
	msg.FromSelf = true
	h.bus.Publish(msg)

	h.expectNoReply(t)
	if scraper.calls.Load() != 0 {
		t.Error("scraper must not run for the bot's own messages")
	}
}

func TestDispatcher_NoLinkNoReply(t *testing.T) {
	scraper := happyScraper()
	h := newHarness(t, scraper)

	h.bus.Publish(inbound("nothing interesting here"))

	h.expectNoReply(t)
	if scraper.calls.Load() != 0 {
		t.Error("scraper must not run without a note link")
	}
}

func TestDispatcher_DuplicateDeliveryProcessedOnce(t *testing.T) {
	scraper := happyScraper()
	h := newHarness(t, scraper)

	msg := inbound("https://notes.granola.ai/d/abc123")
	h.bus.Publish(msg)
	h.bus.Publish(msg)

	h.waitReply(t)
	h.expectNoReply(t)
	if got := scraper.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 scrape for duplicate delivery, got %d", got)
	}
}

func TestDispatcher_MultipleLinksOneMessage(t *testing.T) {
	scraper := happyScraper()
	h := newHarness(t, scraper)

	h.bus.Publish(inbound("https://notes.granola.ai/d/aaa and https://notes.granola.ai/d/bbb"))

	first := h.waitReply(t)
	second := h.waitReply(t)
	if first.ThreadID != second.ThreadID {
		t.Error("both replies must thread onto the same source message")
	}
	if got := scraper.calls.Load(); got != 2 {
		t.Errorf("expected 2 scrapes, got %d", got)
	}
}

func TestDispatcher_FailureIsolatedPerEvent(t *testing.T) {
	scraper := &fakeScraper{result: func(url string) (*domain.NoteRecord, error) {
		if strings.Contains(url, "bad") {
			return nil, fmt.Errorf("%w: boom", domain.ErrNavigation)
		}
		return &domain.NoteRecord{SourceURL: url, Title: "OK"}, nil
	}}
	h := newHarness(t, scraper)

	bad := inbound("https://notes.granola.ai/d/bad")
	h.bus.Publish(bad)

	good := inbound("https://notes.granola.ai/d/good")
	good.MessageID = "1700000000.000200"
	h.bus.Publish(good)

	a := h.waitReply(t)
	b := h.waitReply(t)
	bodies := a.Content + "\n" + b.Content
	if !strings.Contains(bodies, "Couldn't load this link") || !strings.Contains(bodies, "OK") {
		t.Errorf("expected one degraded and one normal reply, got:\n%s", bodies)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: x", domain.ErrScrapeTimeout), "timeout"},
		{fmt.Errorf("%w: x", domain.ErrNavigation), "navigation"},
		{fmt.Errorf("%w: x", domain.ErrPrivateNote), "private"},
		{fmt.Errorf("%w: x", domain.ErrEmptyNote), "empty"},
		{fmt.Errorf("plain"), "unknown"},
	}
	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

// blockingScraper holds its worker until the context is cancelled.
type blockingScraper struct {
	started chan struct{}
}

func (b *blockingScraper) Scrape(ctx context.Context, url string) (*domain.NoteRecord, error) {
	b.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatcher_ShutdownWhileWorkersBusy(t *testing.T) {
	b := bus.New(32, testLogger())
	defer b.Close()
	scraper := &blockingScraper{started: make(chan struct{}, 1)}

	d := New(Config{
		Bus:         b,
		Scraper:     scraper,
		Logger:      testLogger(),
		Concurrency: 1,
		StartupTime: time.Now().Add(-time.Minute),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	first := inbound("https://notes.granola.ai/d/one")
	first.MessageID = "1700000000.000101"
	b.Publish(first)

	select {
	case <-scraper.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}

	// The only worker slot is taken; this message parks the loop on the
	// slot acquire.
	second := inbound("https://notes.granola.ai/d/two")
	second.MessageID = "1700000000.000102"
	b.Publish(second)
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop while waiting for a worker slot")
	}
}
