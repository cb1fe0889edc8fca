package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoutbot/internal/catalog"
	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

func newTestController(t *testing.T, f Fetcher, s kit.Sender, interval time.Duration) *Controller {
	t.Helper()
	c := NewController(f, s, PollerConfig{Schedule: every(interval), SendRatePerSec: 1000}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	c.Bind(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = c.Stop(stopCtx)
	})
	return c
}

func TestControllerSubscribeStartsSingleLoop(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	f.set(movie(50))
	c := newTestController(t, f, &fakeSender{}, time.Hour)

	a := kit.ChatTarget{ChatID: 1}
	added, started, err := c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, started)

	added, started, err = c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, added)
	assert.False(t, started)

	added, started, err = c.Subscribe(context.Background(), kit.ChatTarget{ChatID: 2})
	require.NoError(t, err)
	assert.True(t, added)
	assert.False(t, started)

	require.Eventually(t, func() bool { return c.Status().HasWatermark }, 2*time.Second, 10*time.Millisecond)
	st := c.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 2, st.Subscribers)
	assert.Equal(t, uint64(50), st.Watermark)
	assert.Equal(t, uint64(1), st.LoopStarts)
}

func TestControllerConcurrentSubscribeSpawnsOnce(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	c := newTestController(t, f, &fakeSender{}, time.Hour)

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Subscribe(context.Background(), kit.ChatTarget{ChatID: i})
		}()
	}
	wg.Wait()

	st := c.Status()
	assert.Equal(t, uint64(1), st.LoopStarts)
	assert.Equal(t, 20, st.Subscribers)
	assert.True(t, st.Running)
}

func TestControllerUnsubscribeLastStopsLoop(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	c := newTestController(t, f, &fakeSender{}, time.Hour)
	a := kit.ChatTarget{ChatID: 1}
	b := kit.ChatTarget{ChatID: 2}

	c.Subscribe(context.Background(), a)
	c.Subscribe(context.Background(), b)

	removed, stopped := c.Unsubscribe(a)
	assert.True(t, removed)
	assert.False(t, stopped)
	assert.True(t, c.Running())

	removed, stopped = c.Unsubscribe(a)
	assert.False(t, removed)
	assert.False(t, stopped)

	removed, stopped = c.Unsubscribe(b)
	assert.True(t, removed)
	assert.True(t, stopped)
	assert.False(t, c.Running())

	// Nothing left to stop.
	removed, stopped = c.Unsubscribe(b)
	assert.False(t, removed)
	assert.False(t, stopped)

	_, started, err := c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, uint64(2), c.Status().LoopStarts)
}

func TestControllerLoopBroadcastsNewEntries(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	f.set(movie(50))
	c := newTestController(t, f, s, 20*time.Millisecond)

	c.Subscribe(context.Background(), kit.ChatTarget{ChatID: 9})
	require.Eventually(t, func() bool { return c.Status().HasWatermark }, 2*time.Second, 5*time.Millisecond)

	f.set(movie(52), movie(51), movie(50))
	require.Eventually(t, func() bool { return len(s.to(9)) == 2 }, 2*time.Second, 5*time.Millisecond)

	got := s.to(9)
	assert.Contains(t, got[0], "H51")
	assert.Contains(t, got[1], "H52")
	assert.Equal(t, uint64(52), c.Status().Watermark)
}

func TestControllerWatermarkSurvivesRestart(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	f.set(movie(50))
	c := newTestController(t, f, s, time.Hour)
	a := kit.ChatTarget{ChatID: 1}

	c.Subscribe(context.Background(), a)
	require.Eventually(t, func() bool { return c.Status().HasWatermark }, 2*time.Second, 5*time.Millisecond)
	c.Unsubscribe(a)

	// The new loop's first tick is a regular one, not a baseline.
	f.set(movie(51), movie(50))
	c.Subscribe(context.Background(), a)
	require.Eventually(t, func() bool { return len(s.to(1)) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, s.to(1)[0], "H51")
}

// gatedFetcher parks every fetch until gate is closed and records how many
// fetches overlap.
type gatedFetcher struct {
	fakeFetcher
	gate     chan struct{}
	entered  chan struct{}
	inflight atomic.Int32
	peak     atomic.Int32
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func (g *gatedFetcher) FetchLatest(ctx context.Context, limit int) ([]catalog.Movie, error) {
	n := g.inflight.Add(1)
	defer g.inflight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.fakeFetcher.FetchLatest(ctx, limit)
}

func TestControllerResubscribeWaitsForCancelledTick(t *testing.T) {
	t.Parallel()
	f := newGatedFetcher()
	s := &fakeSender{}
	f.set(movie(52), movie(51), movie(50))
	c := newTestController(t, f, s, time.Hour)
	c.wm.Advance(50)
	a := kit.ChatTarget{ChatID: 1}

	_, started, err := c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	require.True(t, started)
	<-f.entered

	_, stopped := c.Unsubscribe(a)
	require.True(t, stopped)
	_, started, err = c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	require.True(t, started)
	assert.True(t, c.Running())

	// The new loop must not poll while the cancelled one is still mid-tick.
	assert.Never(t, func() bool { return f.inflight.Load() > 1 }, 100*time.Millisecond, 5*time.Millisecond)
	close(f.gate)

	require.Eventually(t, func() bool { return c.Status().Poller.Ticks >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, f.peak.Load())
	got := s.to(1)
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "H51")
	assert.Contains(t, got[1], "H52")
	assert.Equal(t, uint64(2), c.Status().LoopStarts)
}

func TestControllerStopWaitsForCancelledLoop(t *testing.T) {
	t.Parallel()
	f := newGatedFetcher()
	c := newTestController(t, f, &fakeSender{}, time.Hour)
	a := kit.ChatTarget{ChatID: 1}

	_, _, err := c.Subscribe(context.Background(), a)
	require.NoError(t, err)
	<-f.entered
	_, stopped := c.Unsubscribe(a)
	require.True(t, stopped)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- c.Stop(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("Stop returned while a tick was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(f.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.EqualValues(t, 0, f.inflight.Load())
	assert.EqualValues(t, 1, c.Status().Poller.Ticks)
}

func TestControllerRefusesSubscribeAfterShutdown(t *testing.T) {
	t.Parallel()
	c := NewController(&fakeFetcher{}, &fakeSender{}, PollerConfig{Schedule: every(time.Hour)}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	c.Bind(ctx)
	cancel()

	added, started, err := c.Subscribe(context.Background(), kit.ChatTarget{ChatID: 1})
	require.ErrorIs(t, err, ErrStopped)
	assert.False(t, added)
	assert.False(t, started)
	st := c.Status()
	assert.False(t, st.Running)
	assert.Zero(t, st.Subscribers)
	assert.Zero(t, st.LoopStarts)
}

func TestControllerRefusesSubscribeAfterStop(t *testing.T) {
	t.Parallel()
	c := newTestController(t, &fakeFetcher{}, &fakeSender{}, time.Hour)
	a := kit.ChatTarget{ChatID: 1}
	_, _, err := c.Subscribe(context.Background(), a)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Stop(ctx))
	assert.False(t, c.Running())
	assert.True(t, c.Subscribed(a))

	_, _, err = c.Subscribe(context.Background(), kit.ChatTarget{ChatID: 2})
	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, c.Status().Subscribers)
}
