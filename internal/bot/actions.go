package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"meetbot/internal/broadcast"
	"meetbot/internal/meetup"
	logx "meetbot/pkg/logx"
)

func (h *Handler) route(ctx context.Context, req *Request) error {
	if !req.continuesFlow() {
		h.cancelFlow(ctx, req)
	}
	if req.isCallback() {
		switch req.Action {
		case ActionRegister:
			return h.register(ctx, req)
		case ActionLogin:
			return h.login(ctx, req)
		case ActionMenu:
			return h.menu(ctx, req)
		case ActionProgram:
			return h.program(ctx, req)
		case ActionTalk:
			return h.talkDetails(ctx, req)
		case ActionAsk:
			return h.requestToAsk(ctx, req)
		case ActionLiveTalks:
			return h.liveTalks(ctx, req)
		case ActionStartTalk:
			return h.startTalk(ctx, req)
		case ActionEndTalk:
			return h.endTalk(ctx, req)
		case ActionMyQuestions:
			return h.myQuestions(ctx, req)
		}
		return errUnknownAction
	}

	switch req.Action {
	case "":
		return h.freeText(ctx, req)
	case CommandStart:
		return h.start(ctx, req)
	case ActionMenu:
		return h.menu(ctx, req)
	case CommandAnnounce:
		return h.announce(ctx, req)
	case CommandPromote:
		return h.promote(ctx, req)
	case CommandMailing:
		return h.mailingStatus(ctx, req)
	}
	return errUnknownAction
}

// cancelFlow drops a pending question when the user moves on to anything
// other than typing it.
func (h *Handler) cancelFlow(ctx context.Context, req *Request) {
	if err := h.States.Clear(ctx, req.key()); err != nil {
		req.Logger.Warn("conversation state not cleared", logx.Err(err))
	}
}

// caller resolves the registered sender.
func (h *Handler) caller(ctx context.Context, req *Request) (caller, error) {
	u, err := h.Directory.UserByExternalID(ctx, req.From.ExternalID)
	if errors.Is(err, meetup.ErrNotFound) {
		return caller{}, errNotRegistered
	}
	if err != nil {
		return caller{}, err
	}
	return caller{user: u, organizer: u.Role == meetup.RoleOrganizer || h.isListedOrganizer(u.ExternalID)}, nil
}

func (h *Handler) speaker(ctx context.Context, req *Request) (caller, error) {
	c, err := h.caller(ctx, req)
	if err != nil {
		return c, err
	}
	if !c.speaker() {
		return c, errForbidden
	}
	return c, nil
}

func (h *Handler) organizer(ctx context.Context, req *Request) (caller, error) {
	c, err := h.caller(ctx, req)
	if err != nil {
		return c, err
	}
	if !c.organizer {
		return c, errForbidden
	}
	return c, nil
}

func (h *Handler) start(ctx context.Context, req *Request) error {
	return h.reply(ctx, req, "welcome", map[string]any{"Name": req.From.Name}, h.welcomePanel(req.Locale))
}

func (h *Handler) register(ctx context.Context, req *Request) error {
	u, created, err := h.Directory.EnsureUser(ctx, req.From)
	if err != nil {
		return err
	}
	c := caller{user: u, organizer: u.Role == meetup.RoleOrganizer || h.isListedOrganizer(u.ExternalID)}
	key := "registered_guest"
	if !created {
		key = "already_" + string(c.role())
	} else {
		req.Logger.Info("user registered", logx.Int64("user_id", u.ID))
	}
	return h.reply(ctx, req, key, nil, h.menuPanel(req.Locale, c))
}

func (h *Handler) login(ctx context.Context, req *Request) error {
	c, err := h.caller(ctx, req)
	if err != nil {
		return err
	}
	return h.reply(ctx, req, "logged_in_"+string(c.role()), nil, h.menuPanel(req.Locale, c))
}

func (h *Handler) menu(ctx context.Context, req *Request) error {
	c, err := h.caller(ctx, req)
	if err != nil {
		return err
	}
	return h.send(ctx, req, h.Tr.T(req.Locale, "main_menu", nil), h.menuPanel(req.Locale, c), true)
}

func (h *Handler) program(ctx context.Context, req *Request) error {
	ev, err := h.Directory.CurrentEvent(ctx, h.now())
	if err != nil {
		return err
	}
	talks, err := h.Directory.TalksByEvent(ctx, ev.ID)
	if err != nil {
		return err
	}
	text := h.Tr.T(req.Locale, "program_header", map[string]any{
		"Title":       ev.Title,
		"Description": ev.Description,
		"Start":       h.date(ev.StartAt),
		"End":         h.date(ev.EndAt),
	})
	if len(talks) == 0 {
		text += "\n\n" + h.Tr.T(req.Locale, "program_no_talks", nil)
	} else {
		text += "\n\n" + h.Tr.T(req.Locale, "program_pick", nil)
	}
	return h.send(ctx, req, text, h.programPanel(req.Locale, talks), true)
}

func (h *Handler) talkDetails(ctx context.Context, req *Request) error {
	id, err := parseID(req.Arg)
	if err != nil {
		return meetup.ErrTalkNotFound
	}
	talk, err := h.Directory.TalkByID(ctx, id)
	if err != nil {
		return err
	}
	speaker := ""
	if u, err := h.Directory.UserByID(ctx, talk.SpeakerID); err == nil {
		speaker = u.Name
	}
	text := h.Tr.T(req.Locale, "talk_details", map[string]any{
		"Title":   talk.Title,
		"Speaker": speaker,
		"Start":   h.clock(talk.StartAt),
		"End":     h.clock(talk.EndAt),
	})
	return h.send(ctx, req, text, h.talkPanel(req.Locale, talk.ID), true)
}

func (h *Handler) liveTalks(ctx context.Context, req *Request) error {
	talks, err := h.Lifecycle.CurrentlyLive(ctx, h.now())
	if err != nil {
		return err
	}
	if len(talks) == 0 {
		return h.reply(ctx, req, "live_talks_empty", nil, nil)
	}
	return h.reply(ctx, req, "live_talks_header", nil, h.livePanel(req.Locale, talks))
}

func (h *Handler) requestToAsk(ctx context.Context, req *Request) error {
	id, err := parseID(req.Arg)
	if err != nil {
		return meetup.ErrTalkNotFound
	}
	talk, err := h.Intake.RequestToAsk(ctx, req.key(), id, h.now())
	if err != nil {
		return err
	}
	return h.reply(ctx, req, "ask_prompt", map[string]any{"Title": talk.Title}, h.askPanel(req.Locale))
}

func (h *Handler) freeText(ctx context.Context, req *Request) error {
	st, err := h.States.Read(ctx, req.key())
	if err != nil {
		return err
	}
	if st.Kind != meetup.StateAwaitingQuestion {
		return errUnknownAction
	}
	sub, err := h.Intake.Submit(ctx, req.key(), st.TalkID, req.From, req.Text, h.now())
	if err != nil {
		return err
	}
	if !sub.Accepted() {
		return h.reply(ctx, req, "question_talk_absent", nil, nil)
	}
	return h.reply(ctx, req, "question_accepted", nil, nil)
}

func (h *Handler) startTalk(ctx context.Context, req *Request) error {
	c, err := h.speaker(ctx, req)
	if err != nil {
		return err
	}
	talk, err := h.Lifecycle.Start(ctx, c.user.ID, h.now())
	if err != nil {
		return err
	}
	return h.reply(ctx, req, "talk_started", map[string]any{"Title": talk.Title}, h.menuPanel(req.Locale, c))
}

func (h *Handler) endTalk(ctx context.Context, req *Request) error {
	c, err := h.speaker(ctx, req)
	if err != nil {
		return err
	}
	talk, err := h.Lifecycle.End(ctx, c.user.ID, h.now())
	if err != nil && talk == nil {
		return err
	}
	if err != nil {
		// The talk ended; only the demotion failed and is already logged.
		req.Logger.Warn("talk ended without demotion", logx.Int64("talk_id", talk.ID), logx.Err(err))
	} else {
		demoted := *c.user
		demoted.Role = meetup.RoleGuest
		c.user = &demoted
	}
	return h.reply(ctx, req, "talk_ended", map[string]any{"Title": talk.Title}, h.menuPanel(req.Locale, c))
}

func (h *Handler) myQuestions(ctx context.Context, req *Request) error {
	c, err := h.speaker(ctx, req)
	if err != nil {
		return err
	}
	talks, err := h.Directory.TalksBySpeaker(ctx, c.user.ID)
	if err != nil {
		return err
	}
	var live *meetup.Talk
	for i := range talks {
		if talks[i].Live() {
			live = &talks[i]
			break
		}
	}
	if live == nil {
		return meetup.ErrNoActiveTalk
	}
	qs, err := h.Directory.QuestionsByTalk(ctx, live.ID)
	if err != nil {
		return err
	}
	if len(qs) == 0 {
		return h.reply(ctx, req, "my_questions_empty", nil, nil)
	}
	var b strings.Builder
	b.WriteString(h.Tr.T(req.Locale, "my_questions_header", map[string]any{"Title": live.Title}))
	for i, q := range qs {
		b.WriteString("\n")
		b.WriteString(h.Tr.T(req.Locale, "question_line", map[string]any{"N": i + 1, "Text": q.Text}))
	}
	return h.send(ctx, req, b.String(), nil, false)
}

func (h *Handler) announce(ctx context.Context, req *Request) error {
	if _, err := h.organizer(ctx, req); err != nil {
		return err
	}
	if req.Arg == "" {
		return h.reply(ctx, req, "announce_usage", nil, nil)
	}
	recipients, err := h.Directory.Recipients(ctx)
	if err != nil {
		return err
	}
	m, err := h.Mailer.Publish(ctx, req.Arg, recipients)
	if err != nil {
		if m != nil && errors.Is(err, broadcast.ErrQueueFull) {
			req.Logger.Warn("announcement stored but not queued", logx.Int64("mailing_id", m.ID))
		}
		return err
	}
	req.Logger.Info("announcement queued", logx.Int64("mailing_id", m.ID), logx.Int("recipients", len(m.Recipients)))
	return h.reply(ctx, req, "announce_queued", map[string]any{"ID": m.ID, "Count": len(m.Recipients)}, nil)
}

// mailingStatus shows the progress of a dispatch run started by this process.
func (h *Handler) mailingStatus(ctx context.Context, req *Request) error {
	if _, err := h.organizer(ctx, req); err != nil {
		return err
	}
	id, err := parseID(req.Arg)
	if err != nil {
		return h.reply(ctx, req, "mailing_usage", nil, nil)
	}
	st, ok := h.Mailer.Status(id)
	if !ok {
		return h.reply(ctx, req, "mailing_unknown", map[string]any{"ID": id}, nil)
	}
	key := "mailing_queued"
	switch {
	case st.Running:
		key = "mailing_running"
	case !st.DoneAt.IsZero():
		key = "mailing_finished"
	}
	return h.reply(ctx, req, key, map[string]any{
		"ID":     id,
		"Total":  st.Total,
		"Done":   st.Done,
		"Failed": st.Failed,
	}, nil)
}

func (h *Handler) promote(ctx context.Context, req *Request) error {
	if _, err := h.organizer(ctx, req); err != nil {
		return err
	}
	extID, err := parseID(req.Arg)
	if err != nil {
		return h.reply(ctx, req, "promote_usage", nil, nil)
	}
	u, err := h.Directory.UserByExternalID(ctx, extID)
	if errors.Is(err, meetup.ErrNotFound) {
		return h.reply(ctx, req, "user_not_found", nil, nil)
	}
	if err != nil {
		return err
	}
	if err := h.Directory.SetUserRole(ctx, u.ID, meetup.RoleSpeaker); err != nil {
		return err
	}
	req.Logger.Info("user promoted", logx.Int64("user_id", u.ID))
	return h.reply(ctx, req, "promoted", map[string]any{"Name": u.Name}, nil)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
