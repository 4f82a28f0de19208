package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxContentLength:      3000,
			RequestTimeoutSeconds: 10,
			Concurrency:           2,
		},
		Channels: ChannelsConfig{
			Slack: SlackConfig{
				Enabled: true,
			},
		},
		Browser: BrowserConfig{
			ProfileDir: "~/.granolabot/chrome-profile",
			Headless:   true,
		},
		Scraper: ScraperConfig{
			ProfileDir:   "~/.granolabot/profiles",
			Profile:      "granola",
			SettleMillis: 1000,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "~/.granolabot/history.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
