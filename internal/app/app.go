package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"scoutbot/internal/catalog"
	"scoutbot/internal/config"
	"scoutbot/internal/feed"
	"scoutbot/internal/runtime/supervisor"
	"scoutbot/internal/scanner"
	kit "scoutbot/internal/transport"
	telegram "scoutbot/internal/transport/telegram/adapter"
	logx "scoutbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter kit.Adapter

	feed        *feed.Controller
	feedEnabled atomic.Bool

	scanner atomic.Pointer[scanner.Scanner]
	scans   *scanGuard

	cmdm *CommandManager

	updates chan kit.Update
}

// NewApp loads the config (and .env), connects the Telegram adapter and wires
// every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	token, err := config.ResolveToken(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := parseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}
	return build(cfgPath, cfgm, cfg, ad)
}

// build wires the app around an already constructed adapter.
func build(cfgPath string, cfgm *ConfigManager, cfg *Config, ad kit.Adapter) (*App, error) {
	// logx.New() applies immediately; Telegram logging stays off until the
	// target chat is set so Apply() doesn't warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, ok, _ := groupLogChat(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	fs, err := mapFeedConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := catalog.New(fs.Catalog, nil, log.With(logx.String("comp", "catalog")))
	ctrl := feed.NewController(client, ad, fs.Poller, log.With(logx.String("comp", "feed")))

	sc, err := mapScannerConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		adapter: ad,
		feed:    ctrl,
		scans:   newScanGuard(),
		cmdm:    NewCommandManager(log.With(logx.String("comp", "commands")), ad),
		updates: make(chan kit.Update, 256),
	}
	a.feedEnabled.Store(fs.Enabled)
	a.scanner.Store(scanner.New(sc, nil, log.With(logx.String("comp", "scanner"))))
	a.cmdm.SetRegistry(a.commands())
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		return validateConfig(cfg)
	})

	a.feed.Bind(a.sup.Context())

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("telegram.menu.update", func(c context.Context) {
		if err := a.cmdm.SyncMenu(c); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.followConfig(c, sub)
	})
	// Watch returns when fsnotify breaks; it is restarted with backoff.
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
		supervisor.WithStopOnCleanExit(true),
	)

	a.log.Info("app started", logx.Bool("feed_enabled", a.feedEnabled.Load()))
	return nil
}

// followConfig applies each published config until ctx ends. A burst of
// reloads is applied once, using the newest.
func (a *App) followConfig(ctx context.Context, sub <-chan *Config) {
	applied := a.cfgm.Get()
	for {
		var next *Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		for len(sub) > 0 {
			if cfg := <-sub; cfg != nil {
				next = cfg
			}
		}
		a.applyConfig(applied, next)
		applied = next
	}
}

// applyConfig pushes a validated config into the running components. The
// token, poll timeout and catalog endpoint only take effect after a restart.
func (a *App) applyConfig(oldCfg, newCfg *Config) {
	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if chatID, ok, _ := groupLogChat(newCfg); ok {
		a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}
	a.logs.Apply(mapLogConfig(newCfg))

	if oldCfg != nil && (oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout) {
		a.log.Warn("telegram config changed; restart required for changes to take effect")
	}

	if fs, err := mapFeedConfig(newCfg); err != nil {
		a.log.Warn("invalid feed config; keeping previous", logx.Err(err))
	} else {
		a.feed.Apply(fs.Poller)
		if prev := a.feedEnabled.Swap(fs.Enabled); prev != fs.Enabled {
			a.log.Info("feed availability changed", logx.Bool("enabled", fs.Enabled))
		}
		if oldCfg != nil && (oldCfg.Feed.BaseURL != newCfg.Feed.BaseURL ||
			oldCfg.Feed.RequestTimeout != newCfg.Feed.RequestTimeout ||
			oldCfg.Feed.UserAgent != newCfg.Feed.UserAgent) {
			a.log.Warn("catalog endpoint changed; restart required for changes to take effect")
		}
	}

	if sc, err := mapScannerConfig(newCfg); err != nil {
		a.log.Warn("invalid scanner config; keeping previous", logx.Err(err))
	} else {
		a.scanner.Store(scanner.New(sc, nil, a.log.With(logx.String("comp", "scanner"))))
	}

	a.log.Info("config reloaded", fields...)
}

// stopStepLimit bounds each shutdown step so one component can't stall the
// rest.
const stopStepLimit = 2 * time.Second

// Stop cancels the run context, then winds components down in order: the
// feed loop, running scans, the adapter and finally the supervisor. Step
// errors and timeouts are logged and never abort the sequence.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	for _, st := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"feed", a.feed.Stop},
		{"scans", a.scans.Wait},
		{"adapter", a.adapter.Stop},
		{"supervisor", a.sup.Wait},
	} {
		a.stopStep(ctx, st.name, st.fn)
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) stopStep(ctx context.Context, name string, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, stopStepLimit)
	defer cancel()

	log := a.log.With(logx.String("step", name))
	err := fn(sctx)
	switch {
	case err == nil:
		log.Debug("stop step done", logx.Duration("took", time.Since(start)))
	case sctx.Err() != nil:
		log.Warn("stop step deadline reached (continuing)", logx.Duration("elapsed", time.Since(start)), logx.Err(err))
	default:
		log.Warn("stop step error", logx.Err(err))
	}
}

// scanGuard allows one /check per chat at a time and tracks running scans
// so shutdown can wait for them.
type scanGuard struct {
	mu      sync.Mutex
	running map[kit.ChatTarget]struct{}
	wg      sync.WaitGroup
}

func newScanGuard() *scanGuard {
	return &scanGuard{running: map[kit.ChatTarget]struct{}{}}
}

func (g *scanGuard) acquire(to kit.ChatTarget) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[to]; busy {
		return false
	}
	g.running[to] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *scanGuard) release(to kit.ChatTarget) {
	g.mu.Lock()
	delete(g.running, to)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *scanGuard) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
