package telegram

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "meetbot/internal/transport"
)

const textLimit = 4000

// splitText splits long messages into chunks Telegram accepts, preferring
// newline boundaries.
// maxCommandDescription is Telegram's limit for a command description, in characters.
const maxCommandDescription = 256

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// markup renders an action panel as an inline keyboard. Button actions travel
// back verbatim as callback data.
func markup(p *kit.Panel) *tele.ReplyMarkup {
	if p == nil || len(p.Rows) == 0 {
		return nil
	}
	rm := &tele.ReplyMarkup{}
	for _, row := range p.Rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tele.InlineButton{Text: b.Label, Data: b.Action})
		}
		if len(btns) > 0 {
			rm.InlineKeyboard = append(rm.InlineKeyboard, btns)
		}
	}
	return rm
}

func sendOptions(opt *kit.SendOptions, withPanel bool) *tele.SendOptions {
	so := &tele.SendOptions{DisableWebPagePreview: opt.DisablePreview}
	if withPanel {
		if rm := markup(opt.Panel); rm != nil {
			so.ReplyMarkup = rm
		}
	}
	return so
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	chunks := splitText(text, textLimit)
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		// The panel goes on the last chunk so it sits under the whole text.
		msg, err := a.bot.Send(chat, chunk, sendOptions(opt, i == len(chunks)-1))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces a message in place. Text beyond one chunk is sent as new messages.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, len(chunks) == 1)); err != nil {
		return err
	}
	chat := &tele.Chat{ID: ref.ChatID}
	for i, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(opt, i == len(chunks)-2)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}
