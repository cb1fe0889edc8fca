package feed

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoutbot/internal/catalog"
	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

type fakeFetcher struct {
	mu     sync.Mutex
	movies []catalog.Movie // newest first
	err    error
	limits []int
}

func (f *fakeFetcher) FetchLatest(_ context.Context, limit int) ([]catalog.Movie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	out := f.movies
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]catalog.Movie(nil), out...), nil
}

func (f *fakeFetcher) set(ms ...catalog.Movie) {
	f.mu.Lock()
	f.movies = ms
	f.mu.Unlock()
}

type sent struct {
	to    kit.ChatTarget
	text  string
	image string
}

type fakeSender struct {
	mu   sync.Mutex
	out  []sent
	fail map[int64]bool
}

func (s *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return s.record(sent{to: to, text: text})
}

func (s *fakeSender) SendImage(_ context.Context, to kit.ChatTarget, img, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	return s.record(sent{to: to, text: caption, image: img})
}

func (s *fakeSender) record(m sent) (kit.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[m.to.ChatID] {
		return kit.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	s.out = append(s.out, m)
	return kit.MessageRef{ChatID: m.to.ChatID}, nil
}

func (s *fakeSender) to(chat int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.out {
		if m.to.ChatID == chat {
			out = append(out, m.text)
		}
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

func movie(id uint64) catalog.Movie {
	return catalog.Movie{
		ID:        id,
		TitleLong: "Movie " + strings.Repeat("I", int(id%5)) + " (2024)",
		Year:      2024,
		Torrents:  []catalog.Torrent{{URL: "https://dl.example/" + strconv.FormatUint(id, 10), Hash: "H" + strconv.FormatUint(id, 10), Quality: "720p"}},
	}
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func newTestPoller(f Fetcher, s kit.Sender, cfg PollerConfig) (*Poller, *Watermark, *Subscribers) {
	wm := &Watermark{}
	subs := NewSubscribers()
	if cfg.SendRatePerSec == 0 {
		cfg.SendRatePerSec = 1000
	}
	return NewPoller(f, s, wm, subs, cfg, logx.Nop()), wm, subs
}

func TestWatermarkOnlyIncreases(t *testing.T) {
	t.Parallel()
	var w Watermark
	_, ok := w.Get()
	require.False(t, ok)

	require.True(t, w.Advance(10))
	require.True(t, w.Advance(12))
	assert.False(t, w.Advance(12))
	assert.False(t, w.Advance(11))
	v, ok := w.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(12), v)
}

func TestSubscribersIdempotent(t *testing.T) {
	t.Parallel()
	s := NewSubscribers()
	a := kit.ChatTarget{ChatID: 1}
	b := kit.ChatTarget{ChatID: 2, ThreadID: 7}

	assert.True(t, s.Add(a))
	assert.False(t, s.Add(a))
	assert.True(t, s.Add(b))
	assert.Equal(t, []kit.ChatTarget{a, b}, s.Snapshot())

	removed, remaining := s.Remove(kit.ChatTarget{ChatID: 3})
	assert.False(t, removed)
	assert.Equal(t, 2, remaining)

	removed, remaining = s.Remove(a)
	assert.True(t, removed)
	assert.Equal(t, 1, remaining)
	removed, _ = s.Remove(a)
	assert.False(t, removed)
	assert.Equal(t, []kit.ChatTarget{b}, s.Snapshot())
}

func TestDetectNew(t *testing.T) {
	t.Parallel()
	ids := func(ms []catalog.Movie) []uint64 {
		var out []uint64
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	batch := []catalog.Movie{movie(60), movie(58), movie(50), movie(59), movie(40)}

	assert.Equal(t, []uint64{58, 60}, ids(detectNew(batch, 50, false)))
	assert.Equal(t, []uint64{59, 58, 60}, ids(detectNew(batch, 50, true)))
	assert.Empty(t, detectNew(batch, 60, false))
	assert.Empty(t, detectNew(nil, 0, false))
}

func TestTickBaselineThenBroadcastAscending(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	p, wm, subs := newTestPoller(f, s, PollerConfig{})

	f.set(movie(50), movie(49))
	res := p.Tick(context.Background())
	require.True(t, res.Baseline)
	v, ok := wm.Get()
	require.True(t, ok)
	assert.Equal(t, uint64(50), v)
	assert.Equal(t, 0, s.count())
	assert.Equal(t, []int{1}, f.limits)

	a := kit.ChatTarget{ChatID: 1}
	b := kit.ChatTarget{ChatID: 2}
	subs.Add(a)
	subs.Add(b)

	f.set(movie(52), movie(51), movie(50), movie(49))
	res = p.Tick(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []uint64{51, 52}, res.New)
	assert.Equal(t, 4, res.Delivered)

	for _, chat := range []int64{1, 2} {
		got := s.to(chat)
		require.Len(t, got, 2)
		assert.Contains(t, got[0], "H51")
		assert.Contains(t, got[1], "H52")
	}
	v, _ = wm.Get()
	assert.Equal(t, uint64(52), v)

	// Same batch again: nothing new.
	res = p.Tick(context.Background())
	assert.Empty(t, res.New)
	assert.Equal(t, 4, s.count())
}

func TestTickFetchErrorLeavesState(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{err: &catalog.FetchError{URL: "x", Err: errors.New("dial tcp: refused")}}
	s := &fakeSender{}
	p, wm, subs := newTestPoller(f, s, PollerConfig{})
	subs.Add(kit.ChatTarget{ChatID: 1})

	res := p.Tick(context.Background())
	require.Error(t, res.Err)
	_, ok := wm.Get()
	assert.False(t, ok)

	wm.Advance(10)
	res = p.Tick(context.Background())
	require.Error(t, res.Err)
	v, _ := wm.Get()
	assert.Equal(t, uint64(10), v)
	assert.Equal(t, uint64(2), p.Stats().FetchFailures)
	assert.Equal(t, 0, s.count())
}

func TestTickEmptyCatalogDefersBaseline(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	p, wm, _ := newTestPoller(f, &fakeSender{}, PollerConfig{})
	res := p.Tick(context.Background())
	assert.False(t, res.Baseline)
	_, ok := wm.Get()
	assert.False(t, ok)
}

func TestTickNoSubscribersStillAdvances(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	p, wm, _ := newTestPoller(f, s, PollerConfig{})
	wm.Advance(50)

	f.set(movie(53), movie(52), movie(50))
	res := p.Tick(context.Background())
	assert.Equal(t, []uint64{52, 53}, res.New)
	assert.Equal(t, 0, s.count())
	v, _ := wm.Get()
	assert.Equal(t, uint64(53), v)
}

func TestTickSendFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{fail: map[int64]bool{2: true}}
	p, wm, subs := newTestPoller(f, s, PollerConfig{FanoutWorkers: 1})
	wm.Advance(1)
	for _, id := range []int64{1, 2, 3} {
		subs.Add(kit.ChatTarget{ChatID: id})
	}

	f.set(movie(3), movie(2), movie(1))
	res := p.Tick(context.Background())
	assert.Equal(t, 4, res.Delivered)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, s.to(1), 2)
	assert.Empty(t, s.to(2))
	assert.Len(t, s.to(3), 2)
	v, _ := wm.Get()
	assert.Equal(t, uint64(3), v)
}

func TestTickSkipsEntriesWithoutTorrents(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	p, wm, subs := newTestPoller(f, s, PollerConfig{})
	wm.Advance(1)
	subs.Add(kit.ChatTarget{ChatID: 1})

	bare := movie(3)
	bare.Torrents = nil
	f.set(bare, movie(2), movie(1))
	res := p.Tick(context.Background())
	assert.Equal(t, []uint64{2, 3}, res.New)
	assert.Len(t, s.to(1), 1)
	v, _ := wm.Get()
	assert.Equal(t, uint64(3), v)
}

func TestTickUsesCoverWhenEnabled(t *testing.T) {
	t.Parallel()
	f := &fakeFetcher{}
	s := &fakeSender{}
	p, wm, subs := newTestPoller(f, s, PollerConfig{WithCover: true})
	wm.Advance(1)
	subs.Add(kit.ChatTarget{ChatID: 1})

	m := movie(2)
	m.LargeCoverImage = "https://img.example/2.jpg"
	f.set(m, movie(1))
	p.Tick(context.Background())

	require.Equal(t, 1, s.count())
	assert.Equal(t, "https://img.example/2.jpg", s.out[0].image)
}

func TestFormat(t *testing.T) {
	t.Parallel()
	m := catalog.Movie{
		ID:        7,
		TitleLong: "The Movie: Part 2 (2023)",
		Year:      2023,
		Torrents: []catalog.Torrent{
			{URL: "https://dl/720", Hash: "AAA", Quality: "720p"},
			{URL: "https://dl/1080", Hash: "BBB", Quality: "1080p"},
		},
		LargeCoverImage: "https://img/7.jpg",
	}

	n, ok := Formatter{}.Format(m)
	require.True(t, ok)
	assert.Equal(t, uint64(7), n.MovieID)
	assert.Equal(t, "https://img/7.jpg", n.ImageURL)
	assert.True(t, strings.HasPrefix(n.Magnet, "magnet:?xt=urn:btih:AAA&dn=The%20Movie%3A%20Part%202%20%282023%29"))
	assert.Equal(t, len(DefaultTrackers), strings.Count(n.Magnet, "&tr="))
	assert.Contains(t, n.Magnet, "&tr=udp%3A%2F%2Ftracker.opentrackr.org%3A1337%2Fannounce")
	for _, want := range []string{"The Movie: Part 2 (2023)", "2023", "720p", "https://dl/720", n.Magnet} {
		assert.Contains(t, n.Text, want)
	}

	n, ok = Formatter{PreferredQuality: "1080P", Trackers: []string{"udp://t:1"}}.Format(m)
	require.True(t, ok)
	assert.Equal(t, "magnet:?xt=urn:btih:BBB&dn=The%20Movie%3A%20Part%202%20%282023%29&tr=udp%3A%2F%2Ft%3A1", n.Magnet)
	assert.Contains(t, n.Text, "https://dl/1080")

	n, ok = Formatter{PreferredQuality: "2160p"}.Format(m)
	require.True(t, ok)
	assert.Contains(t, n.Text, "https://dl/720")

	m.Torrents = nil
	_, ok = Formatter{}.Format(m)
	assert.False(t, ok)
}
