package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"scoutbot/internal/runtime/supervisor"
	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

// Status is a point-in-time view of the feed.
type Status struct {
	Running      bool
	Subscribers  int
	Watermark    uint64
	HasWatermark bool
	LoopStarts   uint64
	// LoopRestarts counts crash restarts of the current loop.
	LoopRestarts uint64
	StartedAt    time.Time
	Poller       Stats
}

// ErrStopped is returned by Subscribe once the controller is shutting down.
var ErrStopped = errors.New("feed: controller stopped")

// Controller owns the shared feed state and the single poll loop. The loop
// runs while at least one chat is subscribed.
type Controller struct {
	wm     *Watermark
	subs   *Subscribers
	poller *Poller
	log    logx.Logger

	mu        sync.Mutex
	parent    context.Context
	loop      *supervisor.Supervisor
	draining  []*supervisor.Supervisor // cancelled, possibly mid-tick
	closed    bool
	starts    uint64
	startedAt time.Time
}

func NewController(fetch Fetcher, send kit.Sender, cfg PollerConfig, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	wm := &Watermark{}
	subs := NewSubscribers()
	return &Controller{
		wm:     wm,
		subs:   subs,
		poller: NewPoller(fetch, send, wm, subs, cfg, log.With(logx.String("comp", "feed.poller"))),
		log:    log,
		parent: context.Background(),
	}
}

// Bind ties future loops to ctx, normally the application context.
func (c *Controller) Bind(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx != nil {
		c.parent = ctx
	}
}

// Apply updates poller settings; a running loop uses them from its next wait.
func (c *Controller) Apply(cfg PollerConfig) { c.poller.Apply(cfg) }

func (c *Controller) Poller() *Poller { return c.poller }

// Subscribe adds to and makes sure the loop runs. added is false when to was
// already subscribed; started is true when this call spawned the loop. After
// Stop or once the bound context ends it returns ErrStopped and changes nothing.
func (c *Controller) Subscribe(_ context.Context, to kit.ChatTarget) (added, started bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.parent.Err() != nil {
		return false, false, ErrStopped
	}
	added = c.subs.Add(to)
	if c.runningLocked() {
		return added, false, nil
	}
	c.startLocked()
	return added, true, nil
}

// Unsubscribe removes to. When no subscribers remain the loop is cancelled
// without waiting for it; stopped reports that. A tick already in progress
// finishes before any later loop polls.
func (c *Controller) Unsubscribe(to kit.ChatTarget) (removed, stopped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed, remaining := c.subs.Remove(to)
	if remaining > 0 || c.loop == nil {
		return removed, false
	}
	running := c.runningLocked()
	c.retireLocked()
	if running {
		c.log.Info("feed loop stopped", logx.String("reason", "no subscribers"))
	}
	return removed, running
}

func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runningLocked()
}

func (c *Controller) Subscribed(to kit.ChatTarget) bool { return c.subs.Contains(to) }

func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.runningLocked()
	var restarts uint64
	if c.loop != nil {
		restarts = c.loop.Restarts()
	}
	starts := c.starts
	startedAt := c.startedAt
	c.mu.Unlock()

	wm, ok := c.wm.Get()
	return Status{
		Running:      running,
		Subscribers:  c.subs.Len(),
		Watermark:    wm,
		HasWatermark: ok,
		LoopStarts:   starts,
		LoopRestarts: restarts,
		StartedAt:    startedAt,
		Poller:       c.poller.Stats(),
	}
}

// Stop cancels every loop generation, including ones Unsubscribe already
// cancelled, and waits for them to exit or ctx to end. Subscribers are kept;
// later Subscribe calls return ErrStopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.retireLocked()
	loops := c.draining
	c.draining = nil
	c.mu.Unlock()

	var errs []error
	for _, l := range loops {
		if err := l.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) runningLocked() bool {
	if c.loop == nil {
		return false
	}
	if c.loop.Context().Err() != nil {
		return false
	}
	select {
	case <-c.loop.Done():
		return false
	default:
		return true
	}
}

// retireLocked cancels the current loop and parks it in draining until it
// exits.
func (c *Controller) retireLocked() {
	if c.loop == nil {
		return
	}
	c.loop.Cancel()
	c.draining = append(c.draining, c.loop)
	c.loop = nil
}

// pruneLocked drops drained generations that have exited.
func (c *Controller) pruneLocked() {
	live := c.draining[:0]
	for _, l := range c.draining {
		select {
		case <-l.Done():
		default:
			live = append(live, l)
		}
	}
	clear(c.draining[len(live):])
	c.draining = live
}

func (c *Controller) startLocked() {
	c.retireLocked()
	c.pruneLocked()
	prev := append([]*supervisor.Supervisor(nil), c.draining...)

	c.starts++
	c.startedAt = time.Now()
	sup := supervisor.NewSupervisor(c.parent, supervisor.WithLogger(c.log))
	sup.GoRestart("feed.loop", func(ctx context.Context) error {
		// One loop polls at a time: wait out the generations before this one.
		for _, p := range prev {
			select {
			case <-p.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return c.poller.Run(ctx)
	},
		supervisor.WithRestartBackoff(time.Second, time.Minute),
		supervisor.WithStopOnCleanExit(true),
	)
	c.loop = sup
	c.log.Info("feed loop started",
		logx.Uint64("generation", c.starts),
		logx.Int("subscribers", c.subs.Len()),
		logx.Int("draining", len(prev)),
	)
}
