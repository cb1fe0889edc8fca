package feed

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"scoutbot/internal/catalog"
	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

const (
	DefaultInterval       = 180 * time.Second
	DefaultBatchSize      = 10
	DefaultFanoutWorkers  = 4
	DefaultSendRatePerSec = 10
)

// Fetcher returns up to limit catalog entries, newest first.
type Fetcher interface {
	FetchLatest(ctx context.Context, limit int) ([]catalog.Movie, error)
}

// PollerConfig is the hot-reloadable part of the poller.
type PollerConfig struct {
	// Schedule decides when the next tick fires. Nil means every DefaultInterval.
	Schedule       cron.Schedule
	BatchSize      int
	FanoutWorkers  int
	SendRatePerSec int
	// ScanFullBatch collects every entry above the watermark instead of
	// stopping at the first one at or below it.
	ScanFullBatch bool
	WithCover     bool
	Formatter     Formatter
}

func (c PollerConfig) normalize() PollerConfig {
	if c.Schedule == nil {
		c.Schedule = cron.Every(DefaultInterval)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = DefaultFanoutWorkers
	}
	if c.SendRatePerSec <= 0 {
		c.SendRatePerSec = DefaultSendRatePerSec
	}
	return c
}

// Stats are cumulative poller counters.
type Stats struct {
	Ticks         uint64
	FetchFailures uint64
	Announced     uint64
	Delivered     uint64
	SendFailures  uint64
	LastTick      time.Time
	LastError     string
}

// TickResult describes one poll step.
type TickResult struct {
	// Baseline is true when this tick only established the watermark.
	Baseline  bool
	New       []uint64
	Delivered int
	Failed    int
	Err       error
}

// Poller runs the fetch, detect, broadcast, advance step against shared state.
type Poller struct {
	fetch Fetcher
	send  kit.Sender
	wm    *Watermark
	subs  *Subscribers
	log   logx.Logger

	mu      sync.RWMutex
	cfg     PollerConfig
	limiter *rate.Limiter

	statsMu sync.Mutex
	stats   Stats

	reqSeq atomic.Uint64
}

func NewPoller(fetch Fetcher, send kit.Sender, wm *Watermark, subs *Subscribers, cfg PollerConfig, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalize()
	return &Poller{
		fetch:   fetch,
		send:    send,
		wm:      wm,
		subs:    subs,
		log:     log,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec),
	}
}

// Apply swaps in new settings. A running loop picks them up on its next wait.
func (p *Poller) Apply(cfg PollerConfig) {
	cfg = cfg.normalize()
	p.mu.Lock()
	defer p.mu.Unlock()
	if cfg.SendRatePerSec != p.cfg.SendRatePerSec {
		p.limiter.SetLimit(rate.Limit(cfg.SendRatePerSec))
		p.limiter.SetBurst(cfg.SendRatePerSec)
	}
	p.cfg = cfg
}

func (p *Poller) config() PollerConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Poller) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Run ticks immediately and then on every schedule activation until ctx is done.
// Cancellation is observed only while waiting; a tick in progress completes.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.Tick(context.WithoutCancel(ctx))

		next := p.config().Schedule.Next(time.Now())
		t := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tick performs one poll step. A fetch failure leaves all state untouched.
func (p *Poller) Tick(ctx context.Context) TickResult {
	cfg := p.config()
	log := p.log.With(logx.String("tick", strconv.FormatUint(p.reqSeq.Add(1), 36)))

	res := p.tick(ctx, cfg, log)

	p.statsMu.Lock()
	p.stats.Ticks++
	p.stats.LastTick = time.Now()
	p.stats.Announced += uint64(len(res.New))
	p.stats.Delivered += uint64(res.Delivered)
	p.stats.SendFailures += uint64(res.Failed)
	if res.Err != nil {
		p.stats.FetchFailures++
		p.stats.LastError = res.Err.Error()
	}
	p.statsMu.Unlock()
	return res
}

func (p *Poller) tick(ctx context.Context, cfg PollerConfig, log logx.Logger) TickResult {
	wm, ok := p.wm.Get()
	if !ok {
		batch, err := p.fetch.FetchLatest(ctx, 1)
		if err != nil {
			log.Warn("catalog fetch failed", logx.Err(err))
			return TickResult{Err: err}
		}
		if len(batch) == 0 {
			log.Debug("catalog empty; baseline deferred")
			return TickResult{}
		}
		p.wm.Advance(batch[0].ID)
		log.Info("feed baseline established", logx.Uint64("watermark", batch[0].ID))
		return TickResult{Baseline: true}
	}

	batch, err := p.fetch.FetchLatest(ctx, cfg.BatchSize)
	if err != nil {
		log.Warn("catalog fetch failed", logx.Err(err))
		return TickResult{Err: err}
	}
	fresh := detectNew(batch, wm, cfg.ScanFullBatch)
	if len(fresh) == 0 {
		log.Debug("no new catalog entries", logx.Uint64("watermark", wm), logx.Int("batch", len(batch)))
		return TickResult{}
	}

	res := TickResult{New: make([]uint64, 0, len(fresh))}
	targets := p.subs.Snapshot()
	var high uint64
	for _, m := range fresh {
		res.New = append(res.New, m.ID)
		high = max(high, m.ID)
		if len(targets) == 0 {
			continue
		}
		n, ok := cfg.Formatter.Format(m)
		if !ok {
			log.Debug("catalog entry has no torrents", logx.Uint64("movie_id", m.ID))
			continue
		}
		d, f := p.broadcast(ctx, cfg, targets, n, log)
		res.Delivered += d
		res.Failed += f
	}

	if p.wm.Advance(high) {
		log.Info("feed watermark advanced",
			logx.Uint64("from", wm),
			logx.Uint64("to", high),
			logx.Int("new", len(fresh)),
			logx.Int("subscribers", len(targets)),
			logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed),
		)
	}
	return res
}

// detectNew returns the entries of a newest-first batch whose ID exceeds wm,
// oldest first. Without full, collection stops at the first entry at or below wm.
func detectNew(batch []catalog.Movie, wm uint64, full bool) []catalog.Movie {
	var out []catalog.Movie
	for _, m := range batch {
		if m.ID <= wm {
			if full {
				continue
			}
			break
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// broadcast delivers n to every target. Failures are logged per recipient and
// never stop the remaining sends.
func (p *Poller) broadcast(ctx context.Context, cfg PollerConfig, targets []kit.ChatTarget, n Notification, log logx.Logger) (delivered, failed int) {
	var ok, bad atomic.Int64
	p.mu.RLock()
	lim := p.limiter
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.FanoutWorkers)
	for _, to := range targets {
		g.Go(func() error {
			if err := lim.Wait(gctx); err != nil {
				bad.Add(1)
				return nil
			}
			if err := p.deliver(gctx, cfg, to, n); err != nil {
				bad.Add(1)
				log.Warn("feed delivery failed",
					logx.Uint64("movie_id", n.MovieID),
					logx.Int64("chat_id", to.ChatID),
					logx.Int("thread_id", to.ThreadID),
					logx.Err(err),
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}

// deliver prefers the cover photo; the sender falls back to text on its own.
func (p *Poller) deliver(ctx context.Context, cfg PollerConfig, to kit.ChatTarget, n Notification) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if cfg.WithCover && n.ImageURL != "" {
		_, err := p.send.SendImage(ctx, to, n.ImageURL, n.Text, opt)
		return err
	}
	_, err := p.send.SendText(ctx, to, n.Text, opt)
	return err
}
