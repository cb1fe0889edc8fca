package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "scoutbot/internal/transport"
)

type chatSink struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *chatSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (c *chatSink) SendImage(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return c.SendText(ctx, to, caption, opt)
}

func (c *chatSink) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "feed"))

	log.Debug("hidden")
	log.Info("tick", Int("new", 2), Uint64("watermark", 51), Err(errors.New("boom")), Err(nil))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "tick", rec["message"])
	assert.Equal(t, "feed", rec["comp"])
	assert.EqualValues(t, 2, rec["new"])
	assert.EqualValues(t, 51, rec["watermark"])
	assert.Equal(t, "boom", rec["err"])
	assert.Contains(t, rec["caller"], "logx_test.go:")
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.With(String("a", "b")).Error("nothing") })
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelWarn, parseLevel(" warning ", LevelInfo))
	assert.Equal(t, LevelDebug, parseLevel("debug", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("loud", LevelInfo))
	assert.Equal(t, LevelInfo, parseLevel("trace", LevelInfo))
	assert.Equal(t, LevelWarn, parseLevel("", LevelWarn))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("ERROR", LevelInfo))
}

func TestClip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", clip("short", 10))
	assert.Equal(t, "abcdefg...", clip("abcdefghijklmnop", 10))
	assert.Equal(t, "abc", clip("abcdef", 3))
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	msg, ok := formatTelegramJSON([]byte(`{"level":"warn","time":"x","caller":"poller.go:10","message":"send failed","comp":"feed.poller","chat_id":5}`))
	require.True(t, ok)
	assert.Equal(t, "⚠️ send failed\n- chat_id=5\n- comp=feed.poller", msg)

	_, ok = formatTelegramJSON([]byte(`{"level":"error","message":"x","comp":"telegram.router"}`))
	assert.False(t, ok)

	msg, ok = formatTelegramJSON([]byte("not json"))
	assert.True(t, ok)
	assert.Equal(t, "not json", msg)
}

func TestServiceMirrorsToTelegram(t *testing.T) {
	t.Parallel()
	sink := &chatSink{}
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")}}, sink)
	t.Cleanup(func() { _ = svc.Close() })

	svc.SetTelegramTarget(-100, 4)
	svc.Apply(Config{
		Level:    "debug",
		File:     FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "bot.log")},
		Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100},
	})

	log.Info("below min level")
	log.With(String("comp", "telegram")).Error("adapter failure")
	log.Warn("catalog fetch failed", String("comp", "feed.poller"))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, sink.snapshot()[0], "catalog fetch failed")
	sink.mu.Lock()
	assert.Equal(t, kit.ChatTarget{ChatID: -100, ThreadID: 4}, sink.to[0])
	sink.mu.Unlock()
}

func TestServiceWritesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.Info("hello", String("comp", "app"))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"hello"`)
}
