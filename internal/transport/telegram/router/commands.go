package router

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "scoutbot/internal/runtime/supervisor"
	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

// DefaultTimeout bounds a handler when its Command sets none.
const DefaultTimeout = 30 * time.Second

const (
	jobQueueSize = 256
	drainTimeout = 3 * time.Second
	busyReply    = "busy, try again"
)

type Command struct {
	// Name is the command word without the slash, e.g. "yts_init".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of help and the Telegram menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Text is everything after the command word, trimmed but otherwise verbatim.
	Text  string
	Args  []string
	ReqID string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// CommandManager routes slash commands to handlers on a fixed worker pool.
type CommandManager struct {
	mu     sync.RWMutex
	byName map[string]Command
	list   []Command

	log    logx.Logger
	sender kit.Sender
}

func NewCommandManager(log logx.Logger, sender kit.Sender) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &CommandManager{byName: map[string]Command{}, log: log, sender: sender}
}

// SetRegistry replaces the routing table. Later entries win on name clashes.
func (m *CommandManager) SetRegistry(cmds []Command) {
	byName := map[string]Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		c.Name = normalizeWord(c.Name)
		if c.Name == "" || c.Handle == nil {
			continue
		}
		byName[c.Name] = c
		for _, a := range c.Aliases {
			if a = normalizeWord(a); a != "" {
				byName[a] = c
			}
		}
		list = append(list, c)
	}

	m.mu.Lock()
	m.byName, m.list = byName, list
	m.mu.Unlock()
}

func normalizeWord(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.list...)
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byName[word]
	return c, ok
}

// SyncMenu pushes the visible commands to the adapter's menu, if it has one.
func (m *CommandManager) SyncMenu(ctx context.Context) error {
	up, ok := m.sender.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, menuCommands(m.Commands()))
}

// DispatchLoop reads updates until ctx ends or updates closes, running each
// known command on a worker. A full queue answers "busy" instead of blocking.
// On return queued jobs are drained for a short while.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	jobs := make(chan func(), jobQueueSize)

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))))
	for i := range workers {
		sup.Go0("command.worker."+strconv.Itoa(i), func(context.Context) {
			for job := range jobs {
				job()
			}
		})
	}
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("queue", cap(jobs)))

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := sup.Wait(wctx); err != nil {
			m.log.Warn("command workers did not drain", logx.Err(err))
		}
		sup.Cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			req, handle, ok := m.route(up)
			if !ok {
				continue
			}
			select {
			case jobs <- func() { _ = handle(ctx, req) }:
			default:
				req.Logger.Warn("command queue full")
				_, _ = m.sender.SendText(ctx, req.Chat, busyReply, nil)
			}
		}
	}
}

// route builds the request and wrapped handler for a known command. Plain
// text and unknown commands report false.
func (m *CommandManager) route(up kit.Update) (*Request, HandlerFunc, bool) {
	msg := up.Message
	if up.Kind != kit.UpdateMessage || msg == nil {
		return nil, nil, false
	}
	word, rest, ok := splitCommand(msg.Text)
	if !ok {
		return nil, nil, false
	}
	cmd, ok := m.lookup(word)
	if !ok {
		m.log.Debug("ignoring unknown command", logx.String("cmd", word), logx.Int64("chat_id", msg.ChatID))
		return nil, nil, false
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Text:    rest,
		Args:    splitArgs(rest),
		ReqID:   rid,
		Sender:  m.sender,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return req, Chain(cmd.Handle, Recover(), AccessLog(), Timeout(timeout)), true
}
