// Package links recognizes and normalizes Granola note URLs in free-form
// message text. Pure string work, no network access.
package links

import (
	"net/url"
	"regexp"
	"strings"
)

// granolaURLPattern matches any URL on the notes hosting domain.
// Document pages live under /d/<id> but shared notes have appeared under
// other paths too, so any non-empty path on the host is a candidate.
var granolaURLPattern = regexp.MustCompile(`https?://notes\.granola\.ai/[^\s<>"'|]+`)

// Candidate is a recognized note link within one message.
type Candidate struct {
	Raw        string // the text span as matched
	Normalized string // cleaned URL used for scraping and dedup
}

// Extract returns all note link candidates in first-occurrence order.
// Duplicate normalized URLs within one message collapse to a single entry.
// Unmatched text yields an empty result; Extract never fails.
func Extract(text string) []Candidate {
	matches := granolaURLPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]Candidate, 0, len(matches))
	for _, raw := range matches {
		normalized := Normalize(raw)
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, Candidate{Raw: raw, Normalized: normalized})
	}
	return out
}

// Normalize lowercases the host and strips the query string and fragment,
// e.g. tracking parameters appended by chat clients.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Contains reports whether the text holds at least one note link.
func Contains(text string) bool {
	return granolaURLPattern.MatchString(text)
}
