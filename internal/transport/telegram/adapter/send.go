package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kit "econbot/internal/transport"
	"econbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Telegram rejects messages over 4096 characters; leave room for entities.
const textLimit = 4000

// errors after which retrying the same chat is pointless
var permanentErrs = []error{
	tele.ErrUnauthorized,
	tele.ErrChatNotFound,
	tele.ErrBlockedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrNoRightsToSend,
}

// SendText posts plain text, split into several messages when too long.
// The reference of the first message is returned.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		so := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview, ThreadID: to.ThreadID}
		if i == 0 && opt.ReplyTo > 0 {
			so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return ref, classify(err)
		}
		if i == 0 {
			ref.MessageID = msg.ID
		}
	}
	return ref, nil
}

func classify(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.SendError{Err: err, RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}
	for _, p := range permanentErrs {
		if errors.Is(err, p) {
			return &kit.SendError{Err: err, Permanent: true}
		}
	}
	return err
}

// splitText cuts s into chunks of at most limit runes, preferring a newline
// in the last two thirds of each chunk.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	var out []string
	for len(rs) > 0 {
		end := min(limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[:end]), "\n"))
		rs = rs[end:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return out
}

// UpdateMenuCommands publishes the slash-command menu. Unchanged menus are
// not re-sent.
func (a *Adapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	var sig strings.Builder
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if r := []rune(desc); len(r) > 256 {
			desc = string(r[:256])
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		fmt.Fprintf(&sig, "%s\x00%s\x00", c.Command, desc)
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sig.String() == a.menuSig {
		return nil
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return fmt.Errorf("telegram setMyCommands: %w", err)
	}
	a.menuSig = sig.String()
	a.log.Info("menu commands updated", logx.Int("count", len(menu)))
	return nil
}
