package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Feed controls the catalog poller (/yts_init, /yts_stop).
	Feed FeedConfig `json:"feed"`

	// Scanner controls the /check pattern scanner.
	Scanner ScannerConfig `json:"scanner"`
}

type TelegramConfig struct {
	// Token may be left empty; it is then read from TELEGRAM_BOT_TOKEN
	// (or TELOXIDE_TOKEN), optionally via a .env file.
	Token    string `json:"token,omitempty"`
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// FeedConfig controls the catalog poller.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "3m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: true (pointer so an explicit false can be told apart)
//   - base_url: "https://yts.mx/api/v2/list_movies.json"
//   - interval: "180s"
//   - batch_size: 10
//   - fanout_workers: 4
//   - send_rate_per_sec: 10
//   - request_timeout: "20s"
//
// Schedule, when set, overrides Interval with a cron expression
// (e.g. "*/3 * * * *" or "@every 5m").
type FeedConfig struct {
	Enabled          *bool    `json:"enabled,omitempty"`
	BaseURL          string   `json:"base_url,omitempty"`
	Interval         string   `json:"interval,omitempty"`
	Schedule         string   `json:"schedule,omitempty"`
	BatchSize        int      `json:"batch_size,omitempty"`
	FanoutWorkers    int      `json:"fanout_workers,omitempty"`
	SendRatePerSec   int      `json:"send_rate_per_sec,omitempty"`
	RequestTimeout   string   `json:"request_timeout,omitempty"`
	UserAgent        string   `json:"user_agent,omitempty"`
	PreferredQuality string   `json:"preferred_quality,omitempty"`
	ScanFullBatch    bool     `json:"scan_full_batch,omitempty"`
	Trackers         []string `json:"trackers,omitempty"`
	WithCover        *bool    `json:"with_cover,omitempty"`
}

// ScannerConfig controls /check.
type ScannerConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	UndesiredTitle string `json:"undesired_title,omitempty"`
	Delay          string `json:"delay,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}
