package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"scoutbot/internal/feed"
	"scoutbot/internal/scanner"
	kit "scoutbot/internal/transport"
	"scoutbot/internal/transport/telegram/router"
	logx "scoutbot/pkg/logx"
)

const welcomeHeader = "Welcome to the scout bot! 🕷️"

const patternExamples = "Examples:\n" +
	"• l[c]a-l[m]a → lca, lda, ..., lma\n" +
	"• [A]xx-[D]xx → Axx, Bxx, Cxx, Dxx"

const invalidPatternReply = "⚠️ Invalid format. Examples:\n/check l[c]a-l[m]a\n/check [A]bc-[Z]bc"

func (a *App) commands() []router.Command {
	return []router.Command{
		{Name: "start", Aliases: []string{"help"}, Description: "show help", Handle: a.cmdStart},
		{Name: "check", Usage: "/check <pattern>", Description: "scan a URL pattern", Handle: a.cmdCheck},
		{Name: "yts_init", Description: "subscribe to new YTS releases", Handle: a.cmdFeedInit},
		{Name: "yts_stop", Description: "unsubscribe from YTS releases", Handle: a.cmdFeedStop},
		{Name: "yts_status", Description: "show feed status", Handle: a.cmdFeedStatus},
	}
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, a.cmdm.HelpText(welcomeHeader)+"\n\n"+patternExamples)
}

// cmdCheck validates the pattern and starts the scan in the background. A scan
// outlives the request timeout, so it runs under the app supervisor.
func (a *App) cmdCheck(ctx context.Context, req *router.Request) error {
	raw := strings.TrimSpace(req.Text)
	p, err := scanner.ParsePattern(raw)
	if err != nil {
		req.Logger.Debug("rejected pattern", logx.String("pattern", raw), logx.Err(err))
		return req.Reply(ctx, invalidPatternReply)
	}
	if a.sup == nil {
		return errors.New("app not started")
	}
	if !a.scans.acquire(req.Chat) {
		return req.Reply(ctx, "⏳ A scan is already running in this chat.")
	}
	if err := req.Reply(ctx, fmt.Sprintf("🔍 Scanning pattern: %s...", p)); err != nil {
		a.scans.release(req.Chat)
		return err
	}

	sc := a.scanner.Load()
	chat := req.Chat
	log := req.Logger
	a.sup.Go0("scan."+req.ReqID, func(c context.Context) {
		defer a.scans.release(chat)
		a.runScan(c, sc, p, chat, log)
	})
	return nil
}

func (a *App) runScan(ctx context.Context, sc *scanner.Scanner, p scanner.Pattern, chat kit.ChatTarget, log logx.Logger) {
	send := func(text string) {
		if _, err := a.adapter.SendText(ctx, chat, text, &kit.SendOptions{DisablePreview: true}); err != nil {
			log.Warn("scan reply failed", logx.Err(err))
		}
	}

	log.Info("scan started", logx.String("pattern", p.String()), logx.Int("urls", len(p.Expand())))
	sum, err := sc.Scan(ctx, p, func(h scanner.Hit) {
		send(fmt.Sprintf("✅ Found!\nURL: %s\nTitle: %s", h.URL, h.Title))
	})
	fields := []logx.Field{logx.Int("probed", sum.Probed), logx.Int("hits", sum.Hits), logx.Int("failed", sum.Failed)}
	if err != nil {
		log.Info("scan aborted", append(fields, logx.Err(err))...)
		return
	}
	log.Info("scan finished", fields...)

	msg := fmt.Sprintf("🚀 Scan complete!\nProbed: %s, found: %s", humanize.Comma(int64(sum.Probed)), humanize.Comma(int64(sum.Hits)))
	if sum.Failed > 0 {
		msg += fmt.Sprintf(", failed: %s", humanize.Comma(int64(sum.Failed)))
	}
	send(msg)
}

func (a *App) cmdFeedInit(ctx context.Context, req *router.Request) error {
	if !a.feedEnabled.Load() {
		return req.Reply(ctx, "The YTS feed is disabled.")
	}
	added, started, err := a.feed.Subscribe(ctx, req.Chat)
	if errors.Is(err, feed.ErrStopped) {
		return req.Reply(ctx, "The bot is shutting down; try again later.")
	}
	if err != nil {
		return err
	}
	if !added {
		return req.Reply(ctx, "You are already subscribed to YTS releases.")
	}
	req.Logger.Info("feed subscribed", logx.Bool("loop_started", started))
	return req.Reply(ctx, "✅ Subscribed. New YTS releases will be posted here.")
}

func (a *App) cmdFeedStop(ctx context.Context, req *router.Request) error {
	removed, stopped := a.feed.Unsubscribe(req.Chat)
	if !removed {
		return req.Reply(ctx, "You are not subscribed.")
	}
	req.Logger.Info("feed unsubscribed", logx.Bool("loop_stopped", stopped))
	return req.Reply(ctx, "🛑 Unsubscribed from YTS releases.")
}

func (a *App) cmdFeedStatus(ctx context.Context, req *router.Request) error {
	st := a.feed.Status()

	var b strings.Builder
	if !a.feedEnabled.Load() {
		b.WriteString("Feed: disabled\n")
	} else if st.Running {
		fmt.Fprintf(&b, "Feed: running since %s", humanize.Time(st.StartedAt))
		if st.LoopRestarts > 0 {
			fmt.Fprintf(&b, " (%s restarts)", humanize.Comma(int64(st.LoopRestarts)))
		}
		b.WriteByte('\n')
	} else {
		b.WriteString("Feed: idle\n")
	}
	fmt.Fprintf(&b, "Subscribers: %s", humanize.Comma(int64(st.Subscribers)))
	if a.feed.Subscribed(req.Chat) {
		b.WriteString(" (including this chat)")
	}
	b.WriteByte('\n')
	if st.HasWatermark {
		fmt.Fprintf(&b, "Last seen id: %d\n", st.Watermark)
	} else {
		b.WriteString("Last seen id: none yet\n")
	}
	ps := st.Poller
	if !ps.LastTick.IsZero() {
		fmt.Fprintf(&b, "Last poll: %s\n", humanize.Time(ps.LastTick))
	}
	fmt.Fprintf(&b, "Polls: %s, fetch errors: %s\n", humanize.Comma(int64(ps.Ticks)), humanize.Comma(int64(ps.FetchFailures)))
	fmt.Fprintf(&b, "Announced: %s, delivered: %s, failed sends: %s",
		humanize.Comma(int64(ps.Announced)), humanize.Comma(int64(ps.Delivered)), humanize.Comma(int64(ps.SendFailures)))
	if ps.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", ps.LastError)
	}
	return req.Reply(ctx, b.String())
}
