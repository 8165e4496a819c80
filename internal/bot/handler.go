// Package bot is the conversation boundary: it turns chat updates into
// calls on the meetup core and renders the outcome as localized text with
// an action panel. No failure escapes a handler; every error becomes a
// reply.
package bot

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meetbot/internal/meetup"
	"meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

type Handler struct {
	Deps

	log        logx.Logger
	loc        *time.Location
	workers    int
	organizers atomic.Pointer[[]int64]
	now        func() time.Time

	chain HandlerFunc
}

func New(cfg Config, deps Deps, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		Deps:    deps,
		log:     log,
		loc:     cfg.Location,
		workers: cfg.Workers,
		now:     time.Now,
	}
	if h.loc == nil {
		h.loc = time.Local
	}
	if h.workers <= 0 {
		h.workers = defaultWorkers
	}
	h.SetOrganizers(cfg.Organizers)
	h.chain = Chain(h.route, MWRequestLog(log), MWPanicRecover(log), MWTimeout(cfg.Timeout))
	return h
}

// SetOrganizers replaces the organizer allow-list. Safe during hot reload.
func (h *Handler) SetOrganizers(ids []int64) {
	cp := slices.Clone(ids)
	h.organizers.Store(&cp)
}

func (h *Handler) isListedOrganizer(externalID int64) bool {
	p := h.organizers.Load()
	return p != nil && slices.Contains(*p, externalID)
}

// Commands is the bot command menu for the given locale.
func (h *Handler) Commands(locale string) []transport.BotCommand {
	return []transport.BotCommand{
		{Command: CommandStart, Description: h.Tr.T(locale, "cmd_start", nil)},
		{Command: CommandAnnounce, Description: h.Tr.T(locale, "cmd_announce", nil)},
		{Command: CommandPromote, Description: h.Tr.T(locale, "cmd_promote", nil)},
		{Command: CommandMailing, Description: h.Tr.T(locale, "cmd_mailing", nil)},
	}
}

// Run consumes updates with a bounded worker pool until ctx is done or the
// channel closes. Queued updates are still handled before Run returns.
func (h *Handler) Run(ctx context.Context, updates <-chan transport.Update) error {
	jobs := make(chan transport.Update, defaultJobQueueCap)
	h.log.Info("dispatcher started", logx.Int("workers", h.workers), logx.Int("job_queue_cap", cap(jobs)))

	var wg sync.WaitGroup
	wg.Add(h.workers)
	for i := 0; i < h.workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for up := range jobs {
				h.safeHandle(ctx, idx, up)
			}
		}(i)
	}
	defer func() {
		close(jobs)
		wg.Wait()
		h.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			select {
			case jobs <- up:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (h *Handler) safeHandle(ctx context.Context, worker int, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in worker", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	h.Handle(ctx, up)
}

// Handle processes one update synchronously.
func (h *Handler) Handle(ctx context.Context, up transport.Update) {
	req := h.newRequest(up)
	if req == nil {
		return
	}
	if req.isCallback() {
		if err := h.Out.AnswerCallback(ctx, up.Callback.ID, ""); err != nil {
			req.Logger.Debug("answer callback failed", logx.Err(err))
		}
	}
	if err := h.chain(ctx, req); err != nil {
		h.replyError(ctx, req, err)
	}
}

func (h *Handler) newRequest(up transport.Update) *Request {
	req := &Request{Update: up}
	switch up.Kind {
	case transport.UpdateMessage:
		m := up.Message
		if m == nil || !m.IsPrivate {
			return nil
		}
		req.Chat = transport.ChatTarget{ChatID: m.ChatID}
		req.From = identity(m.FromID, m.FromName, m.FromUsername)
		req.Locale = m.Locale
		req.Text = strings.TrimSpace(m.Text)
		if strings.HasPrefix(req.Text, "/") {
			word, rest, _ := strings.Cut(req.Text[1:], " ")
			if i := strings.IndexByte(word, '@'); i >= 0 {
				word = word[:i]
			}
			req.Action = strings.ToLower(word)
			req.Arg = strings.TrimSpace(rest)
		}
	case transport.UpdateCallback:
		c := up.Callback
		if c == nil {
			return nil
		}
		req.Chat = transport.ChatTarget{ChatID: c.ChatID}
		req.From = identity(c.FromID, c.FromName, "")
		req.Locale = c.Locale
		req.Action, req.Arg, _ = strings.Cut(c.Data, ":")
		req.Ref = &transport.MessageRef{ChatID: c.ChatID, MessageID: c.MessageID}
	default:
		return nil
	}
	req.Locale = h.Tr.Match(req.Locale)
	req.Logger = h.log.With(logx.Int64("from_id", req.From.ExternalID))
	return req
}

func identity(id int64, name, username string) meetup.Identity {
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(username)
	}
	return meetup.Identity{ExternalID: id, Name: name}
}

// send delivers a reply. Navigation callbacks edit the message they came
// from; everything else posts a new message.
func (h *Handler) send(ctx context.Context, req *Request, text string, panel *transport.Panel, edit bool) error {
	opt := &transport.SendOptions{Panel: panel, DisablePreview: true}
	if edit && req.Ref != nil {
		err := h.Out.EditText(ctx, *req.Ref, text, opt)
		if err == nil {
			return nil
		}
		req.Logger.Debug("edit failed; sending new message", logx.Err(err))
	}
	_, err := h.Out.SendText(ctx, req.Chat, text, opt)
	return err
}

func (h *Handler) reply(ctx context.Context, req *Request, key string, data map[string]any, panel *transport.Panel) error {
	return h.send(ctx, req, h.Tr.T(req.Locale, key, data), panel, false)
}

func (h *Handler) replyError(ctx context.Context, req *Request, err error) {
	key := replyKey(err)
	if key == keyGenericError && !errors.Is(err, context.Canceled) {
		req.Logger.Error("request error", logx.String("action", req.Action), logx.Err(err))
	}
	// The handler context may already be done; the user still gets an answer.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if serr := h.reply(rctx, req, key, nil, nil); serr != nil {
		req.Logger.Warn("error reply failed", logx.Err(serr))
	}
}
