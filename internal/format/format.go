// Package format renders a NoteRecord into a bounded chat reply.
package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"granolabot/internal/domain"
)

const truncationMarker = " …"

// Reply is the rendered, bounded-length reply body.
type Reply struct {
	Body      string
	Truncated bool
}

// Format assembles the reply: bold title, summary paragraph, then action
// items as a bulleted list, with blank lines between sections. Absent
// sections are omitted entirely. Output never exceeds maxLen; over-length
// bodies are cut at a whitespace boundary and marked as truncated.
func Format(rec *domain.NoteRecord, maxLen int) Reply {
	if !rec.HasContent() {
		return Reply{Body: fmt.Sprintf("📭 Nothing to summarize on this page: %s", rec.SourceURL)}
	}

	var sections []string
	if rec.Title != "" {
		sections = append(sections, "📋 *"+rec.Title+"*")
	}
	if rec.Summary != "" {
		sections = append(sections, rec.Summary)
	}
	if len(rec.ActionItems) > 0 {
		var b strings.Builder
		for i, item := range rec.ActionItems {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("• ")
			b.WriteString(item)
		}
		sections = append(sections, b.String())
	}

	body := strings.Join(sections, "\n\n")
	body, truncated := Truncate(body, maxLen)
	return Reply{Body: body, Truncated: truncated}
}

// Truncate cuts body down to at most maxLen bytes, breaking at the nearest
// preceding whitespace and appending a truncation marker. The marker counts
// against the limit.
func Truncate(body string, maxLen int) (string, bool) {
	if len(body) <= maxLen {
		return body, false
	}

	limit := maxLen - len(truncationMarker)
	if limit < 1 {
		// Degenerate cap: the bare marker when it fits, otherwise nothing.
		marker := strings.TrimSpace(truncationMarker)
		if len(marker) <= maxLen {
			return marker, true
		}
		return "", true
	}

	// Never cut inside a multi-byte rune.
	for limit > 0 && !utf8.RuneStart(body[limit]) {
		limit--
	}

	if idx := strings.LastIndexAny(body[:limit], " \t\n"); idx > 0 {
		limit = idx
	}

	return strings.TrimRight(body[:limit], " \t\n") + truncationMarker, true
}

// Split chunks a body on newline boundaries for platforms with a hard
// per-message length cap.
func Split(body string, maxLen int) []string {
	if len(body) <= maxLen {
		return []string{body}
	}

	var chunks []string
	for len(body) > 0 {
		if len(body) <= maxLen {
			chunks = append(chunks, body)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(body[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, body[:cut])
		body = body[cut:]
	}
	return chunks
}
