package format

import (
	"strings"
	"testing"

	"granolabot/internal/domain"
)

func TestFormat_AllSections(t *testing.T) {
	rec := &domain.NoteRecord{
		SourceURL:   "https://notes.granola.ai/d/abc123",
		Title:       "Weekly Sync",
		Summary:     "Discussed Q3 roadmap.",
		ActionItems: []string{"Follow up with design"},
	}

	reply := Format(rec, 3000)
	if reply.Truncated {
		t.Error("short reply must not be truncated")
	}

	body := reply.Body
	ti := strings.Index(body, "Weekly Sync")
	si := strings.Index(body, "Discussed Q3 roadmap.")
	ai := strings.Index(body, "• Follow up with design")
	if ti < 0 || si < 0 || ai < 0 {
		t.Fatalf("missing section in body:\n%s", body)
	}
	if !(ti < si && si < ai) {
		t.Errorf("sections out of order:\n%s", body)
	}
	if !strings.Contains(body, "*Weekly Sync*") {
		t.Errorf("title not bolded:\n%s", body)
	}
}

func TestFormat_OmitsAbsentSections(t *testing.T) {
	rec := &domain.NoteRecord{
		SourceURL: "https://notes.granola.ai/d/abc123",
		Title:     "Standup",
	}

	body := Format(rec, 3000).Body
	if strings.Contains(body, "•") {
		t.Errorf("empty action items must be omitted:\n%s", body)
	}
	if strings.Contains(body, "\n\n\n") {
		t.Errorf("absent sections must not leave extra blank lines:\n%s", body)
	}
}

func TestFormat_EmptyRecordFallback(t *testing.T) {
	rec := &domain.NoteRecord{SourceURL: "https://notes.granola.ai/d/abc123"}

	reply := Format(rec, 3000)
	if reply.Body == "" {
		t.Fatal("fallback body must not be empty")
	}
	if !strings.Contains(reply.Body, rec.SourceURL) {
		t.Errorf("fallback must reference the source url:\n%s", reply.Body)
	}
	if reply.Truncated {
		t.Error("fallback must not be marked truncated")
	}
}

func TestFormat_TruncatesOnWhitespace(t *testing.T) {
	items := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		items = append(items, "follow up on the quarterly planning document once more")
	}
	rec := &domain.NoteRecord{
		SourceURL:   "https://notes.granola.ai/d/abc123",
		Title:       "Planning",
		Summary:     "Long meeting.",
		ActionItems: items,
	}

	const maxLen = 500
	reply := Format(rec, maxLen)
	if !reply.Truncated {
		t.Fatal("expected truncation")
	}
	if len(reply.Body) > maxLen {
		t.Errorf("body length %d exceeds max %d", len(reply.Body), maxLen)
	}

	// The cut must fall on a word boundary: strip the marker and check that
	// the remaining text is a prefix of the full body ending at whitespace.
	stripped := strings.TrimSuffix(reply.Body, "…")
	stripped = strings.TrimRight(stripped, " ")
	full := Format(rec, 1<<20).Body
	if !strings.HasPrefix(full, stripped) {
		t.Fatal("truncated body is not a prefix of the full body")
	}
	if next := full[len(stripped)]; next != ' ' && next != '\n' && next != '\t' {
		t.Errorf("cut mid-word, next byte %q", next)
	}
}

func TestTruncate_ShortInputUntouched(t *testing.T) {
	got, truncated := Truncate("hello world", 100)
	if truncated || got != "hello world" {
		t.Errorf("short input modified: %q truncated=%v", got, truncated)
	}
}

func TestTruncate_ExactLimit(t *testing.T) {
	s := strings.Repeat("a", 50)
	got, truncated := Truncate(s, 50)
	if truncated || got != s {
		t.Errorf("input at limit modified: len=%d truncated=%v", len(got), truncated)
	}
}

func TestSplit(t *testing.T) {
	body := strings.Repeat("line one\n", 100)
	chunks := Split(body, 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) > 200 {
			t.Errorf("chunk exceeds max: %d", len(c))
		}
		total += len(c)
	}
	if total != len(body) {
		t.Errorf("split lost bytes: %d != %d", total, len(body))
	}
}

func TestSplit_ShortBody(t *testing.T) {
	chunks := Split("short", 100)
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
}

func TestTruncate_TinyLimitNeverExceeded(t *testing.T) {
	body := "hello world, this will not fit"
	for _, maxLen := range []int{0, 1, 2, 3, 4, 5} {
		got, truncated := Truncate(body, maxLen)
		if len(got) > maxLen {
			t.Errorf("maxLen=%d: result %q is %d bytes", maxLen, got, len(got))
		}
		if !truncated {
			t.Errorf("maxLen=%d: expected truncated=true", maxLen)
		}
	}
}
