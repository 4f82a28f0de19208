package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"granolabot/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// chromeCandidates are the executable names chromedp's default allocator
// looks for, in roughly the same order.
var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your granolabot installation",
		Long: `Verifies that granolabot's configuration, channel tokens, browser, and
journal database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			godotenv.Load()
			cfgPath := resolveConfigPath()
			fmt.Printf("granolabot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'granolabot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Channel tokens
			anyChannel := false
			if cfg.Channels.Slack.Enabled {
				anyChannel = true
				if strings.HasPrefix(cfg.Channels.Slack.BotToken, "xoxb-") &&
					strings.HasPrefix(cfg.Channels.Slack.AppToken, "xapp-") {
					printPass("Slack tokens", "bot + app token present")
					passed++
				} else {
					printFail("Slack tokens", "need SLACK_BOT_TOKEN (xoxb-) and SLACK_APP_TOKEN (xapp-)")
					failed++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				anyChannel = true
				if cfg.Channels.Telegram.Token != "" {
					printPass("Telegram token", "present")
					passed++
				} else {
					printFail("Telegram token", "TELEGRAM_BOT_TOKEN not set")
					failed++
				}
			}
			if cfg.Channels.Discord.Enabled {
				anyChannel = true
				if cfg.Channels.Discord.Token != "" {
					printPass("Discord token", "present")
					passed++
				} else {
					printFail("Discord token", "DISCORD_BOT_TOKEN not set")
					failed++
				}
			}
			if !anyChannel {
				printFail("Channels", "no channels enabled")
				failed++
			}

			// 4. Chrome binary
			if path := findChrome(); path != "" {
				printPass("Chrome", path)
				passed++
			} else {
				printFail("Chrome", "no Chrome/Chromium binary found in PATH")
				failed++
			}

			// 5. Browser profile directory writable
			if cfg.Browser.ProfileDir != "" {
				if err := os.MkdirAll(cfg.Browser.ProfileDir, 0o755); err != nil {
					printWarn("Browser profile", fmt.Sprintf("cannot create %s: %v", cfg.Browser.ProfileDir, err))
					warned++
				} else {
					printPass("Browser profile", cfg.Browser.ProfileDir)
					passed++
				}
			}

			// 6. Journal database writable
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("Journal database", err.Error())
					failed++
				} else {
					printPass("Journal database", cfg.History.DBPath)
					passed++
				}
			}

			// 7. Metrics port free
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics port", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics port", cfg.Metrics.Addr)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running granolabot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ngranolabot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! granolabot is ready to run.\n")
			}
			return nil
		},
	}
}

func findChrome() string {
	for _, candidate := range chromeCandidates {
		if filepath.IsAbs(candidate) {
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
			continue
		}
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

func checkDatabase(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("history.dbPath is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
