package bot

import (
	"strconv"
	"time"

	"meetbot/internal/meetup"
	"meetbot/internal/transport"
)

// caller is the resolved sender of a request.
type caller struct {
	user      *meetup.User
	organizer bool
}

func (c caller) speaker() bool { return c.user != nil && c.user.Role == meetup.RoleSpeaker }

// role is the role shown to the user. A speaker stays a speaker even when
// listed as organizer so the talk controls remain reachable.
func (c caller) role() meetup.Role {
	switch {
	case c.speaker():
		return meetup.RoleSpeaker
	case c.organizer:
		return meetup.RoleOrganizer
	default:
		return meetup.RoleGuest
	}
}

func (h *Handler) button(locale, key, action string) transport.Button {
	return transport.Button{Label: h.Tr.T(locale, key, nil), Action: action}
}

func withID(action string, id int64) string {
	return action + ":" + strconv.FormatInt(id, 10)
}

func (h *Handler) welcomePanel(locale string) *transport.Panel {
	p := &transport.Panel{}
	return p.Row(h.button(locale, "btn_register", ActionRegister), h.button(locale, "btn_login", ActionLogin))
}

// askPanel offers a way out of the question flow; any action clears it.
func (h *Handler) askPanel(locale string) *transport.Panel {
	p := &transport.Panel{}
	return p.Row(h.button(locale, "btn_cancel", ActionMenu))
}

func (h *Handler) menuPanel(locale string, c caller) *transport.Panel {
	p := &transport.Panel{}
	p.Row(h.button(locale, "btn_program", ActionProgram))
	p.Row(h.button(locale, "btn_live_talks", ActionLiveTalks))
	if c.speaker() {
		p.Row(h.button(locale, "btn_start_talk", ActionStartTalk), h.button(locale, "btn_end_talk", ActionEndTalk))
		p.Row(h.button(locale, "btn_my_questions", ActionMyQuestions))
	}
	return p
}

func (h *Handler) programPanel(locale string, talks []meetup.Talk) *transport.Panel {
	p := &transport.Panel{}
	for _, t := range talks {
		label := h.Tr.T(locale, "talk_button", map[string]any{
			"Title": t.Title,
			"Start": h.clock(t.StartAt),
			"End":   h.clock(t.EndAt),
		})
		p.Row(transport.Button{Label: label, Action: withID(ActionTalk, t.ID)})
	}
	return p.Row(h.button(locale, "btn_menu", ActionMenu))
}

func (h *Handler) talkPanel(locale string, talkID int64) *transport.Panel {
	p := &transport.Panel{}
	p.Row(h.button(locale, "btn_ask", withID(ActionAsk, talkID)))
	return p.Row(h.button(locale, "btn_back_program", ActionProgram))
}

func (h *Handler) livePanel(locale string, talks []meetup.Talk) *transport.Panel {
	p := &transport.Panel{}
	for _, t := range talks {
		p.Row(transport.Button{Label: t.Title, Action: withID(ActionAsk, t.ID)})
	}
	return p.Row(h.button(locale, "btn_menu", ActionMenu))
}

func (h *Handler) clock(t time.Time) string { return t.In(h.loc).Format("15:04") }

func (h *Handler) date(t time.Time) string { return t.In(h.loc).Format("02.01.2006 15:04") }
