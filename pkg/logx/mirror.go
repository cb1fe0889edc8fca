package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "scoutbot/internal/transport"
)

const (
	mirrorQueueSize = 256
	mirrorSendLimit = 10 * time.Second
	mirrorTextMax   = 3500
	mirrorFieldMax  = 600
)

// quietComponents are never mirrored. A failed chat send logs under them, and
// mirroring that record would fail the same way.
var quietComponents = []string{"telegram"}

type mirrorItem struct {
	to   kit.ChatTarget
	text string
}

// mirror is a zerolog.LevelWriter that forwards records at or above its floor
// to a chat. One goroutine drains a bounded queue; a full queue drops records.
type mirror struct {
	limiter *rate.Limiter
	floor   atomic.Int32
	to      atomic.Pointer[kit.ChatTarget]

	queue  chan mirrorItem
	cancel context.CancelFunc
	done   chan struct{}
}

func startMirror(sender kit.Sender) *mirror {
	ctx, cancel := context.WithCancel(context.Background())
	m := &mirror{
		limiter: rate.NewLimiter(1, 1),
		queue:   make(chan mirrorItem, mirrorQueueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.floor.Store(int32(zerolog.WarnLevel))
	m.route(kit.ChatTarget{})
	go m.run(ctx, sender)
	return m
}

func (m *mirror) run(ctx context.Context, sender kit.Sender) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-m.queue:
			sctx, cancel := context.WithTimeout(ctx, mirrorSendLimit)
			_, _ = sender.SendText(sctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (m *mirror) configure(to kit.ChatTarget, floor zerolog.Level, perSec int) {
	m.route(to)
	m.floor.Store(int32(floor))
	perSec = max(1, perSec)
	m.limiter.SetLimit(rate.Limit(perSec))
	m.limiter.SetBurst(perSec)
}

func (m *mirror) route(to kit.ChatTarget) { m.to.Store(&to) }

func (m *mirror) stop() {
	m.cancel()
	<-m.done
}

func (m *mirror) Write(p []byte) (int, error) { return m.WriteLevel(zerolog.InfoLevel, p) }

func (m *mirror) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	to := *m.to.Load()
	if to.ChatID == 0 || level < zerolog.Level(m.floor.Load()) {
		return len(p), nil
	}
	text, ok := formatTelegramJSON(p)
	if !ok || !m.limiter.Allow() {
		return len(p), nil
	}
	select {
	case m.queue <- mirrorItem{to: to, text: text}:
	default:
	}
	return len(p), nil
}

// formatTelegramJSON renders a JSON record as a short chat message: a level
// badge, the message, then the remaining keys sorted. It reports false for
// records from quiet components.
func formatTelegramJSON(p []byte) (string, bool) {
	raw := bytes.TrimSpace(p)
	rec := map[string]any{}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return clip(string(raw), mirrorTextMax), len(raw) > 0
	}
	if comp, _ := rec["comp"].(string); isQuiet(comp) {
		return "", false
	}
	level, _ := rec[zerolog.LevelFieldName].(string)
	msg, _ := rec[zerolog.MessageFieldName].(string)
	for _, k := range []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName} {
		delete(rec, k)
	}

	var b strings.Builder
	switch level {
	case "":
	case "warn":
		b.WriteString("⚠️ ")
	case "error":
		b.WriteString("❌ ")
	case "fatal", "panic":
		b.WriteString("💀 ")
	default:
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(level))
	}
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(rec)) {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(rec[k]), mirrorFieldMax))
	}
	return clip(b.String(), mirrorTextMax), true
}

func isQuiet(comp string) bool {
	for _, c := range quietComponents {
		if comp == c || strings.HasPrefix(comp, c+".") {
			return true
		}
	}
	return false
}

func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
