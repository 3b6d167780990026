package bootstrap

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"lp_sentinel/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	// Pre-flight Checks
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	// The sqlite backend creates its file lazily, so the directory has to
	// exist before the first write.
	if cfg.Journal.Backend == "sqlite" {
		dir := filepath.Dir(cfg.Journal.SQLitePath)
		info, err := os.Stat(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("journal directory does not exist: %s", dir)
			}
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("journal path parent is not a directory: %s", dir)
		}
	}

	if cfg.Collector.Source == "poller" {
		if err := checkURLScheme(cfg.Collector.IndexerURL, "http", "https"); err != nil {
			return fmt.Errorf("collector.indexer_url: %w", err)
		}
		if cfg.Collector.StreamURL != "" {
			if err := checkURLScheme(cfg.Collector.StreamURL, "ws", "wss"); err != nil {
				return fmt.Errorf("collector.stream_url: %w", err)
			}
		}
	}

	if cfg.Alerts.TelegramBotToken != "" && cfg.Alerts.TelegramChatID == "" {
		return fmt.Errorf("telegram_chat_id is required when telegram_bot_token is set")
	}

	return nil
}

func checkURLScheme(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q (want %s)", u.Scheme, strings.Join(schemes, " or "))
}
