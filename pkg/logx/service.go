package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "scoutbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig controls the log chat sink.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogPath = "./scoutbot.log"

// Service owns the sinks behind every Logger it hands out. Apply swaps them
// without touching those loggers.
type Service struct {
	sender kit.Sender
	root   atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	file   *os.File
	mirror *mirror // started the first time the chat sink is enabled
	target kit.ChatTarget
}

// New applies cfg and returns the service with a logger bound to it. sender
// may be nil, which disables the chat sink.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	s := &Service{sender: sender, target: kit.ChatTarget{ThreadID: cfg.Telegram.ThreadID}}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// SetTelegramTarget routes the chat sink to chatID; 0 mutes it. A zero
// threadID keeps the configured thread.
func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target.ChatID = chatID
	if threadID != 0 {
		s.target.ThreadID = threadID
	}
	if s.mirror != nil {
		s.mirror.route(s.target)
	}
}

// Apply rebuilds the sinks from cfg. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Telegram.ThreadID != 0 {
		s.target.ThreadID = cfg.Telegram.ThreadID
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}
	var file *os.File
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled && s.sender != nil {
		if s.mirror == nil {
			s.mirror = startMirror(s.sender)
		}
		s.mirror.configure(s.target, parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel), cfg.Telegram.RatePerSec)
		sinks = append(sinks, s.mirror)
		if s.target.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but telegram.group_log is not set")
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, newConsoleWriter(os.Stdout))
	}

	zl := newRoot(zerolog.MultiLevelWriter(sinks...), cfg.Level)
	s.root.Store(&zl)

	// Close the previous file only once nothing writes to it.
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file = file
}

// Close stops the chat sink, dropping queued records, and closes the log
// file. A later Apply reopens both.
func (s *Service) Close() error {
	s.mu.Lock()
	f, m := s.file, s.mirror
	s.file, s.mirror = nil, nil
	s.mu.Unlock()

	if m != nil {
		m.stop()
	}
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogPath
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
