package main

import (
	"context"
	"time"

	"granolabot/internal/bus"
	"granolabot/internal/history"
	"granolabot/internal/metrics"
)

// registerMetricsObservers subscribes the metrics collector to pipeline
// events so the dispatcher and channels stay free of counter bookkeeping.
// The dispatcher emits link.detected when a scrape starts and exactly one
// of scrape.succeeded/scrape.failed when it ends, so that event pair also
// tracks the in-flight gauge.
func registerMetricsObservers(events *bus.EventBus) {
	events.On(bus.EventLinkDetected, func(e bus.Event) {
		metrics.LinksDetected.Inc()
		metrics.ScrapesInFlight.Inc()
	})
	events.On(bus.EventScrapeSucceeded, func(e bus.Event) {
		metrics.ScrapesOK.Inc()
		metrics.ScrapesInFlight.Dec()
		observeDuration(metrics.ScrapeDuration, e)
	})
	events.On(bus.EventScrapeFailed, func(e bus.Event) {
		metrics.ScrapesFailed.Inc()
		metrics.ScrapesInFlight.Dec()
		if reason, ok := e.Payload["reason"].(string); ok {
			metrics.Collector.Counter("granolabot_scrape_failures_total",
				"Scrape failures by reason", `reason="`+reason+`"`).Inc()
		}
		observeDuration(metrics.ScrapeDuration, e)
	})
	events.On(bus.EventReplyPosted, func(e bus.Event) {
		metrics.RepliesPosted.Inc()
	})
	events.On(bus.EventReplyFailed, func(e bus.Event) {
		metrics.RepliesFailed.Inc()
	})
}

func observeDuration(h *metrics.Histogram, e bus.Event) {
	if ms, ok := e.Payload["duration_ms"].(int64); ok {
		h.Observe(float64(ms) / 1000)
	}
}

// registerJournalObservers records every scrape outcome in the processing
// journal. Journal writes run with their own timeout so a slow disk never
// blocks an event handler for long.
func registerJournalObservers(events *bus.EventBus, journal *history.Store) {
	record := func(e bus.Event, outcome, errText string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		entry := history.Entry{
			Channel:   payloadString(e, "channel"),
			ChatID:    payloadString(e, "chat_id"),
			MessageID: payloadString(e, "message_id"),
			URL:       payloadString(e, "url"),
			Outcome:   outcome,
			Error:     errText,
		}
		if ms, ok := e.Payload["duration_ms"].(int64); ok {
			entry.DurationMS = ms
		}
		if err := journal.Record(ctx, entry); err != nil {
			logger.Warn("journal write failed", "err", err)
		}
	}

	events.On(bus.EventScrapeSucceeded, func(e bus.Event) {
		record(e, "success", "")
	})
	events.On(bus.EventScrapeFailed, func(e bus.Event) {
		outcome := payloadString(e, "reason")
		if outcome == "" {
			outcome = "unknown"
		}
		record(e, outcome, payloadString(e, "error"))
	})
}

func payloadString(e bus.Event, key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}
