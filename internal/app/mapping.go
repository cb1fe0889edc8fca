package app

import (
	"fmt"
	"strconv"
	"strings"

	"scoutbot/internal/catalog"
	"scoutbot/internal/feed"
	"scoutbot/internal/scanner"
	logx "scoutbot/pkg/logx"
)

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log. Empty means no log chat.
func groupLogChat(cfg *Config) (int64, bool, error) {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("telegram.group_log: invalid chat id %q", s)
	}
	return id, true, nil
}

type feedSettings struct {
	Enabled bool
	Catalog catalog.Config
	Poller  feed.PollerConfig
}

func mapFeedConfig(cfg *Config) (feedSettings, error) {
	fc := cfg.Feed
	out := feedSettings{Enabled: fc.Enabled == nil || *fc.Enabled}

	if fc.BatchSize < 0 || fc.BatchSize > 50 {
		return out, fmt.Errorf("feed.batch_size must be between 1 and 50")
	}
	if fc.FanoutWorkers < 0 {
		return out, fmt.Errorf("feed.fanout_workers must be >= 0")
	}
	if fc.SendRatePerSec < 0 {
		return out, fmt.Errorf("feed.send_rate_per_sec must be >= 0")
	}

	raw := strings.TrimSpace(fc.Schedule)
	key := "feed.schedule"
	if raw == "" {
		raw = strings.TrimSpace(fc.Interval)
		key = "feed.interval"
	}
	sched, err := feed.ParseSchedule(raw)
	if err != nil {
		return out, fmt.Errorf("%s: %w", key, err)
	}

	timeout, err := parseDuration("feed.request_timeout", fc.RequestTimeout, catalog.DefaultTimeout)
	if err != nil {
		return out, err
	}

	out.Catalog = catalog.Config{
		BaseURL:   strings.TrimSpace(fc.BaseURL),
		Timeout:   timeout,
		UserAgent: strings.TrimSpace(fc.UserAgent),
	}
	out.Poller = feed.PollerConfig{
		Schedule:       sched,
		BatchSize:      fc.BatchSize,
		FanoutWorkers:  fc.FanoutWorkers,
		SendRatePerSec: fc.SendRatePerSec,
		ScanFullBatch:  fc.ScanFullBatch,
		WithCover:      fc.WithCover == nil || *fc.WithCover,
		Formatter: feed.Formatter{
			Trackers:         fc.Trackers,
			PreferredQuality: strings.TrimSpace(fc.PreferredQuality),
		},
	}
	return out, nil
}

func mapScannerConfig(cfg *Config) (scanner.Config, error) {
	sc := cfg.Scanner
	delay := scanner.DefaultDelay
	if strings.TrimSpace(sc.Delay) != "" {
		d, err := parseDuration("scanner.delay", sc.Delay, 0)
		if err != nil {
			return scanner.Config{}, err
		}
		delay = d
	}
	timeout, err := parseDuration("scanner.request_timeout", sc.RequestTimeout, scanner.DefaultTimeout)
	if err != nil {
		return scanner.Config{}, err
	}
	return scanner.Config{
		BaseURL:        strings.TrimSpace(sc.BaseURL),
		UndesiredTitle: sc.UndesiredTitle,
		Delay:          delay,
		Timeout:        timeout,
	}, nil
}

// validateConfig rejects configs that can't be mapped. It runs at startup and
// before every hot reload is committed.
func validateConfig(cfg *Config) error {
	if _, err := parseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	if _, _, err := groupLogChat(cfg); err != nil {
		return err
	}
	if _, err := mapFeedConfig(cfg); err != nil {
		return err
	}
	if _, err := mapScannerConfig(cfg); err != nil {
		return err
	}
	return nil
}
