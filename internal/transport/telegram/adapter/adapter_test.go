package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

type fakeBot struct {
	mu        sync.Mutex
	sent      []interface{}
	photoErr  error
	setCalls  int
	handlers  map[interface{}]tele.HandlerFunc
	nextMsgID int
}

func (b *fakeBot) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := what.(*tele.Photo); ok && b.photoErr != nil {
		return nil, b.photoErr
	}
	b.sent = append(b.sent, what)
	b.nextMsgID++
	return &tele.Message{ID: b.nextMsgID}, nil
}

func (b *fakeBot) SetCommands(...interface{}) error {
	b.mu.Lock()
	b.setCalls++
	b.mu.Unlock()
	return nil
}

func (b *fakeBot) Handle(endpoint interface{}, h tele.HandlerFunc, _ ...tele.MiddlewareFunc) {
	if b.handlers == nil {
		b.handlers = map[interface{}]tele.HandlerFunc{}
	}
	b.handlers[endpoint] = h
}

func (b *fakeBot) Start() {}
func (b *fakeBot) Stop()  {}

func TestChunkText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, chunkText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, chunkText(long, 10))

	parts := chunkText(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)

	assert.Equal(t, []string{"a\nb\nc", "dddd"}, chunkText("a\nb\nc\ndddd", 6))

	for _, p := range chunkText(strings.Repeat("é", 9)+"\n"+strings.Repeat("ü", 3), 4) {
		assert.LessOrEqual(t, len([]rune(p)), 4)
	}
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	a := newWithBot(bot, logx.Nop())
	text := strings.Repeat("line\n", textLimit/5+10)

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 8, ThreadID: 2}, text, nil)
	require.NoError(t, err)
	assert.Equal(t, kit.MessageRef{ChatID: 8, ThreadID: 2, MessageID: 1}, ref)
	assert.Len(t, bot.sent, 2)
}

func TestSendImageFallsBackToText(t *testing.T) {
	t.Parallel()
	to := kit.ChatTarget{ChatID: 5}

	tests := []struct {
		name     string
		url      string
		caption  string
		photoErr error
		photo    bool
	}{
		{name: "photo", url: "https://img.example/a.jpg", caption: "hi", photo: true},
		{name: "empty url", url: "", caption: "hi"},
		{name: "bad scheme", url: "ftp://img.example/a.jpg", caption: "hi"},
		{name: "no host", url: "https:///a.jpg", caption: "hi"},
		{name: "long caption", url: "https://img.example/a.jpg", caption: strings.Repeat("c", captionLimit+1)},
		{name: "send error", url: "https://img.example/a.jpg", caption: "hi", photoErr: errors.New("Bad Request: wrong file identifier")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bot := &fakeBot{photoErr: tt.photoErr}
			a := newWithBot(bot, logx.Nop())

			ref, err := a.SendImage(context.Background(), to, tt.url, tt.caption, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(5), ref.ChatID)
			require.Len(t, bot.sent, 1)
			if tt.photo {
				p, ok := bot.sent[0].(*tele.Photo)
				require.True(t, ok)
				assert.Equal(t, tt.caption, p.Caption)
				return
			}
			assert.Equal(t, tt.caption, bot.sent[0])
		})
	}
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	a := newWithBot(bot, logx.Nop())
	cmds := []kit.BotCommand{{Command: "start", Description: "help"}, {Command: "check"}}

	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, 1, bot.setCalls)

	cmds = append(cmds, kit.BotCommand{Command: "yts_init"})
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Equal(t, 2, bot.setCalls)
}

func TestUpdateFromMessage(t *testing.T) {
	t.Parallel()
	_, ok := updateFromMessage(nil)
	assert.False(t, ok)

	up, ok := updateFromMessage(&tele.Message{
		ID:       3,
		Text:     "/yts_init",
		ThreadID: 9,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 42, Username: "someone"},
	})
	require.True(t, ok)
	assert.Equal(t, kit.UpdateMessage, up.Kind)
	assert.Equal(t, &kit.Message{ID: 3, ChatID: -100, ThreadID: 9, FromID: 42, FromUsername: "someone", Text: "/yts_init", IsGroup: true}, up.Message)
}

func TestForwardDropsWhenFull(t *testing.T) {
	t.Parallel()
	a := newWithBot(&fakeBot{}, logx.Nop())
	out := make(chan kit.Update, 1)
	a.setOut(out)

	a.forward(kit.Update{Kind: kit.UpdateMessage})
	a.forward(kit.Update{Kind: kit.UpdateMessage})
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.dropped.Load())

	a.setOut(nil)
	assert.NotPanics(t, func() { a.forward(kit.Update{Kind: kit.UpdateMessage}) })
}
