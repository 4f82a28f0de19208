package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"granolabot/internal/browser"
	"granolabot/internal/bus"
	"granolabot/internal/channel"
	"granolabot/internal/config"
	"granolabot/internal/dispatch"
	"granolabot/internal/domain"
	"granolabot/internal/format"
	"granolabot/internal/history"
	"granolabot/internal/metrics"
	"granolabot/internal/scraper"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "granolabot",
		Short: "Granola note summarizer bot",
		Long:  "Watches chat channels for notes.granola.ai links, scrapes the shared page, and posts a threaded summary reply.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.granolabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(scrapeCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Printf("Set SLACK_BOT_TOKEN and SLACK_APP_TOKEN in the environment (or a .env file), then run 'granolabot gateway'.\n")
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads .env (if present) and the config file.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env file")
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the bot (all enabled channels + scrape pipeline)",
		Long:  "Connects to every enabled channel, watches for Granola note links, and posts summary replies. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.General.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	registerMetricsObservers(events)

	var journal *history.Store
	if cfg.History.Enabled {
		journal, err = history.Open(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer journal.Close()
		registerJournalObservers(events, journal)
	}

	session := browser.NewSession(browser.SessionConfig{
		ProfileDir: cfg.Browser.ProfileDir,
		Headless:   cfg.Browser.Headless,
		Logger:     logger,
	})
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("browser session: %w", err)
	}
	defer session.Close()

	profile := scraper.ResolveProfile(cfg.Scraper.ProfileDir, cfg.Scraper.Profile, logger)
	scr := scraper.New(scraper.Config{
		Session: session,
		Profile: profile,
		Timeout: time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second,
		Settle:  time.Duration(cfg.Scraper.SettleMillis) * time.Millisecond,
		Logger:  logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Bus:              messageBus,
		Scraper:          scr,
		Events:           events,
		Logger:           logger,
		MaxContentLength: cfg.General.MaxContentLength,
		Concurrency:      cfg.General.Concurrency,
	})
	go dispatcher.Run(ctx)

	channels := enabledChannels(cfg, events)
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled; enable at least one in %s", resolveConfigPath())
	}
	for _, ch := range channels {
		ch := ch
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics.Addr)
	}

	logger.Info("gateway started", "version", version, "channels", len(channels))

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	for _, ch := range channels {
		if err := ch.Stop(); err != nil {
			logger.Warn("channel stop", "channel", ch.Name(), "err", err)
		}
	}
	messageBus.Close()
	return nil
}

// enabledChannels builds the channel adapters the config turns on.
func enabledChannels(cfg *config.Config, events *bus.EventBus) []domain.Channel {
	var channels []domain.Channel
	if cfg.Channels.Slack.Enabled {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Events:   events,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.Channels.Telegram.Token,
			Logger: logger,
		}))
	}
	if cfg.Channels.Discord.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	return channels
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [url]",
		Short: "Scrape a single Granola note and print the summary",
		Long:  "Runs the scrape pipeline once against a notes.granola.ai URL and prints the formatted reply. Useful for testing selectors and access.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefaults()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session := browser.NewSession(browser.SessionConfig{
				ProfileDir: cfg.Browser.ProfileDir,
				Headless:   cfg.Browser.Headless,
				Logger:     logger,
			})
			if err := session.Start(ctx); err != nil {
				return fmt.Errorf("browser session: %w", err)
			}
			defer session.Close()

			profile := scraper.ResolveProfile(cfg.Scraper.ProfileDir, cfg.Scraper.Profile, logger)
			scr := scraper.New(scraper.Config{
				Session: session,
				Profile: profile,
				Timeout: time.Duration(cfg.General.RequestTimeoutSeconds) * time.Second,
				Settle:  time.Duration(cfg.Scraper.SettleMillis) * time.Millisecond,
				Logger:  logger,
			})

			rec, err := scr.Scrape(ctx, args[0])
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			reply := format.Format(rec, cfg.General.MaxContentLength)
			fmt.Println(reply.Body)
			return nil
		},
	}
}

// loadConfigOrDefaults is for commands that work without channel tokens.
func loadConfigOrDefaults() (*config.Config, error) {
	godotenv.Load()
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not loaded, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		config.ApplyEnv(cfg)
		config.ExpandPaths(cfg)
	}
	return cfg, nil
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent processing journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigOrDefaults()
			if err != nil {
				return err
			}
			if cfg.History.DBPath == "" {
				return fmt.Errorf("history.dbPath is not configured")
			}

			journal, err := history.Open(cfg.History.DBPath, logger)
			if err != nil {
				return fmt.Errorf("history store: %w", err)
			}
			defer journal.Close()

			entries, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entries yet.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-8s %-10s %s",
					e.CreatedAt.Format(time.RFC3339), e.Channel, e.Outcome, e.URL)
				if e.Error != "" {
					line += "  (" + e.Error + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
