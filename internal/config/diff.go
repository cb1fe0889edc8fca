package config

import (
	"reflect"
	"sort"
	"strings"

	logx "scoutbot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.interval", strings.TrimSpace(newCfg.Feed.Interval)),
			logx.String("feed.schedule", strings.TrimSpace(newCfg.Feed.Schedule)),
			logx.Int("feed.batch_size", newCfg.Feed.BatchSize),
			logx.Int("feed.send_rate_per_sec", newCfg.Feed.SendRatePerSec),
			logx.String("feed.preferred_quality", newCfg.Feed.PreferredQuality),
			logx.Bool("feed.scan_full_batch", newCfg.Feed.ScanFullBatch),
		)
	}

	if oldCfg.Scanner != newCfg.Scanner {
		changed = append(changed, "scanner")
		attrs = append(attrs,
			logx.String("scanner.base_url", strings.TrimSpace(newCfg.Scanner.BaseURL)),
			logx.String("scanner.delay", strings.TrimSpace(newCfg.Scanner.Delay)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
