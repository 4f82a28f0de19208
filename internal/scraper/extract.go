package scraper

import "strings"

// defaultSkipPhrases filter UI chrome the notes page renders inside the
// content container (buttons, prompts) out of the action item list.
var defaultSkipPhrases = []string{
	"download",
	"new chat",
	"ask anything",
	"list action",
	"write follow",
	"all recipes",
	"list q&a",
	"click to",
	"sign in",
	"log in",
}

// collapseWhitespace normalizes all runs of whitespace to single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// filterItems drops UI chrome and duplicates from extracted list items,
// preserving first-occurrence order. Items shorter than three characters are
// noise from partially rendered nodes.
func filterItems(items []string, skipPhrases []string) []string {
	if len(skipPhrases) == 0 {
		skipPhrases = defaultSkipPhrases
	}

	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		item = collapseWhitespace(item)
		if len(item) < 3 {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		if matchesAny(item, skipPhrases) {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func matchesAny(item string, phrases []string) bool {
	lower := strings.ToLower(item)
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
