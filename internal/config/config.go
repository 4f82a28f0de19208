package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for granolabot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Channels ChannelsConfig `json:"channels"`
	Browser  BrowserConfig  `json:"browser"`
	Scraper  ScraperConfig  `json:"scraper"`
	History  HistoryConfig  `json:"history"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel"`
	MaxContentLength      int    `json:"maxContentLength"`      // reply body cap in bytes
	RequestTimeoutSeconds int    `json:"requestTimeoutSeconds"` // per-scrape page load budget
	Concurrency           int    `json:"concurrency"`           // max parallel scrape cycles (1-4)
}

type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"` // xoxb-...
	AppToken string `json:"appToken"` // xapp-..., required for Socket Mode
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type BrowserConfig struct {
	ProfileDir string `json:"profileDir,omitempty"` // Chrome user data directory
	Headless   bool   `json:"headless"`
}

type ScraperConfig struct {
	ProfileDir   string `json:"profileDir,omitempty"` // YAML selector profile overrides
	Profile      string `json:"profile,omitempty"`    // profile name to use (default "granola")
	SettleMillis int    `json:"settleMillis"`         // extra wait after the content container appears
}

type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // HTTP listen address for /metrics
}

// DefaultConfigDir returns the default config directory (~/.granolabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".granolabot"
	}
	return filepath.Join(home, ".granolabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)

	ExpandPaths(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays well-known environment variables onto the config.
// Tokens come from the environment (or a .env file loaded by the caller)
// so they never have to live in config.json.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Channels.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_APP_TOKEN"); v != "" {
		cfg.Channels.Slack.AppToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
	}
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
	}
	if v := os.Getenv("MAX_CONTENT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.MaxContentLength = n
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.General.RequestTimeoutSeconds = n
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxContentLength < 100 {
		errs = append(errs, "general.maxContentLength must be >= 100")
	}
	if cfg.General.RequestTimeoutSeconds < 1 {
		errs = append(errs, "general.requestTimeoutSeconds must be >= 1")
	}
	if cfg.General.Concurrency < 1 || cfg.General.Concurrency > 4 {
		errs = append(errs, "general.concurrency must be between 1 and 4")
	}
	if cfg.Scraper.SettleMillis < 0 {
		errs = append(errs, "scraper.settleMillis must be >= 0")
	}

	if cfg.Channels.Slack.Enabled {
		if !strings.HasPrefix(cfg.Channels.Slack.BotToken, "xoxb-") {
			errs = append(errs, "channels.slack.botToken must start with 'xoxb-'")
		}
		if !strings.HasPrefix(cfg.Channels.Slack.AppToken, "xapp-") {
			errs = append(errs, "channels.slack.appToken must start with 'xapp-'")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord.token is required when discord is enabled")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// ExpandPaths resolves ~/ prefixes in every path-valued config field.
func ExpandPaths(cfg *Config) {
	cfg.Browser.ProfileDir = expandPath(cfg.Browser.ProfileDir)
	cfg.Scraper.ProfileDir = expandPath(cfg.Scraper.ProfileDir)
	cfg.History.DBPath = expandPath(cfg.History.DBPath)
}

// expandPath resolves a leading ~/ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
