package scraper

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile holds the CSS selectors for one page template family. The notes
// host occasionally reshuffles class names; profiles let operators patch
// selectors without a rebuild.
type Profile struct {
	Name        string   `yaml:"name"`
	Container   string   `yaml:"container"`   // readiness signal: content is rendered
	Title       string   `yaml:"title"`       // first matching heading
	Summary     string   `yaml:"summary"`     // first matching body/summary block
	ActionItems string   `yaml:"actionItems"` // ordered list items
	SkipPhrases []string `yaml:"skipPhrases,omitempty"`
}

// DefaultProfile returns the built-in selectors for the Granola public
// notes template.
func DefaultProfile() Profile {
	return Profile{
		Name:        "granola",
		Container:   ".ProseMirror",
		Title:       "h1",
		Summary:     ".ProseMirror p",
		ActionItems: ".ProseMirror li",
	}
}

// LoadProfiles loads selector profile overrides from YAML files in dir.
// A missing directory is not an error.
func LoadProfiles(dir string, logger *slog.Logger) (map[string]Profile, error) {
	profiles := make(map[string]Profile)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("profile directory does not exist, skipping", "dir", dir)
		return profiles, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read profile file", "path", path, "err", err)
			continue
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse profile file", "path", path, "err", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if p.Container == "" {
			logger.Warn("profile missing container selector, skipping", "path", path)
			continue
		}

		logger.Info("loaded selector profile", "name", p.Name, "path", path)
		profiles[p.Name] = p
	}

	return profiles, nil
}

// ResolveProfile picks the named profile from dir, falling back to the
// built-in default when no override exists.
func ResolveProfile(dir, name string, logger *slog.Logger) Profile {
	if name == "" {
		name = "granola"
	}
	profiles, err := LoadProfiles(dir, logger)
	if err != nil {
		logger.Warn("cannot load selector profiles, using built-in", "err", err)
		return DefaultProfile()
	}
	if p, ok := profiles[name]; ok {
		return p
	}
	return DefaultProfile()
}
