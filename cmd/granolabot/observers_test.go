package main

import (
	"log/slog"
	"os"
	"testing"

	"granolabot/internal/bus"
	"granolabot/internal/metrics"
)

func testEventBus(t *testing.T) *bus.EventBus {
	t.Helper()
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return bus.NewEventBus(logger)
}

func TestScrapesInFlightGauge(t *testing.T) {
	events := testEventBus(t)
	registerMetricsObservers(events)

	base := metrics.ScrapesInFlight.Value()

	events.Emit(bus.Event{Type: bus.EventLinkDetected, Payload: map[string]any{}})
	if got := metrics.ScrapesInFlight.Value(); got != base+1 {
		t.Errorf("after link.detected: inflight = %d, want %d", got, base+1)
	}

	events.Emit(bus.Event{Type: bus.EventLinkDetected, Payload: map[string]any{}})
	events.Emit(bus.Event{Type: bus.EventScrapeSucceeded, Payload: map[string]any{"duration_ms": int64(120)}})
	if got := metrics.ScrapesInFlight.Value(); got != base+1 {
		t.Errorf("after scrape.succeeded: inflight = %d, want %d", got, base+1)
	}

	events.Emit(bus.Event{Type: bus.EventScrapeFailed, Payload: map[string]any{
		"reason":      "timeout",
		"duration_ms": int64(10000),
	}})
	if got := metrics.ScrapesInFlight.Value(); got != base {
		t.Errorf("after scrape.failed: inflight = %d, want %d", got, base)
	}
}

func TestScrapeOutcomeCounters(t *testing.T) {
	events := testEventBus(t)
	registerMetricsObservers(events)

	okBase := metrics.ScrapesOK.Value()
	failBase := metrics.ScrapesFailed.Value()

	events.Emit(bus.Event{Type: bus.EventLinkDetected, Payload: map[string]any{}})
	events.Emit(bus.Event{Type: bus.EventScrapeSucceeded, Payload: map[string]any{"duration_ms": int64(50)}})
	events.Emit(bus.Event{Type: bus.EventLinkDetected, Payload: map[string]any{}})
	events.Emit(bus.Event{Type: bus.EventScrapeFailed, Payload: map[string]any{"reason": "private"}})

	if got := metrics.ScrapesOK.Value(); got != okBase+1 {
		t.Errorf("success counter = %d, want %d", got, okBase+1)
	}
	if got := metrics.ScrapesFailed.Value(); got != failBase+1 {
		t.Errorf("failure counter = %d, want %d", got, failBase+1)
	}
}
