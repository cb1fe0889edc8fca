package adapter

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "scoutbot/internal/transport"
	logx "scoutbot/pkg/logx"
)

// Telegram caps: message text, photo caption, menu size and menu
// description length.
const (
	textLimit     = 4000
	captionLimit  = 1024
	menuLimit     = 100
	menuDescLimit = 256
)

// SendText sends text, split into several messages when it exceeds the
// Telegram limit. The returned ref points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chat := &tele.Chat{ID: to.ChatID}
	so := sendOptions(to, opt)

	var first kit.MessageRef
	for i, part := range chunkText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, part, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendImage sends imageURL as a photo with caption. An invalid URL, a caption
// over Telegram's limit, or a failed photo send falls back to SendText(caption).
func (a *Adapter) SendImage(ctx context.Context, to kit.ChatTarget, imageURL, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := checkImageURL(imageURL); err != nil {
		a.log.Debug("image not sendable; using text", logx.String("image", imageURL), logx.Err(err))
		return a.SendText(ctx, to, caption, opt)
	}
	if len([]rune(caption)) > captionLimit {
		return a.SendText(ctx, to, caption, opt)
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}

	photo := &tele.Photo{File: tele.FromURL(imageURL), Caption: caption}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, sendOptions(to, opt))
	if err != nil {
		a.log.Debug("photo send failed; using text", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		return a.SendText(ctx, to, caption, opt)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

func checkImageURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	switch {
	case err != nil:
		return errors.Join(kit.ErrInvalidImageURL, err)
	case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
		return kit.ErrInvalidImageURL
	}
	return nil
}

// chunkText packs whole lines into parts of at most limit runes. Only a line
// longer than limit is cut mid-line.
func chunkText(s string, limit int) []string {
	if len([]rune(s)) <= limit {
		return []string{s}
	}
	var (
		parts []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		rs := []rune(line)
		if len(cur) > 0 && len(cur)+1+len(rs) > limit {
			flush()
		}
		if len(cur) > 0 {
			cur = append(cur, '\n')
		}
		for len(rs) > limit-len(cur) {
			n := limit - len(cur)
			cur = append(cur, rs[:n]...)
			rs = rs[n:]
			flush()
		}
		cur = append(cur, rs...)
	}
	flush()
	return parts
}

// UpdateMenuCommands sets the Telegram command menu. An unchanged list makes
// no API call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	want := make([]kit.BotCommand, 0, min(len(cmds), menuLimit))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		if c.Description == "" {
			c.Description = c.Command
		}
		if r := []rune(c.Description); len(r) > menuDescLimit {
			c.Description = string(r[:menuDescLimit])
		}
		want = append(want, c)
		if len(want) == menuLimit {
			break
		}
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, want) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	list := make([]tele.Command, len(want))
	for i, c := range want {
		list[i] = tele.Command{Text: c.Command, Description: c.Description}
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menu = want
	a.log.Info("menu commands updated", logx.Int("count", len(want)))
	return nil
}
