// Package relay forwards domain events from the bus to chat users: every
// accepted question is sent to the speaker of its talk.
package relay

import (
	"context"

	"meetbot/internal/eventbus"
	"meetbot/internal/meetup"
	"meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

const subscribeBuffer = 64

type UserLookup interface {
	UserByID(ctx context.Context, id int64) (*meetup.User, error)
}

type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Translator interface {
	T(locale, key string, data map[string]any) string
}

type Relay struct {
	users UserLookup
	out   Messenger
	tr    Translator
	log   logx.Logger
}

func New(users UserLookup, out Messenger, tr Translator, log logx.Logger) *Relay {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Relay{users: users, out: out, tr: tr, log: log}
}

// Run consumes bus events until ctx is done.
func (r *Relay) Run(ctx context.Context, bus eventbus.Bus) error {
	r.log.Debug("relay listening")
	eventbus.Listen(ctx, bus, subscribeBuffer, r.handle)
	return nil
}

func (r *Relay) handle(ctx context.Context, e eventbus.Event) {
	switch data := e.Data.(type) {
	case meetup.QuestionEvent:
		if err := r.forwardQuestion(ctx, data); err != nil {
			r.log.Warn("question relay failed",
				logx.Int64("question_id", data.Question.ID),
				logx.Int64("talk_id", data.Talk.ID),
				logx.Err(err))
		}
	case meetup.TalkEvent:
		r.log.Info(e.Type, logx.Int64("talk_id", data.Talk.ID), logx.String("title", data.Talk.Title))
	case meetup.MailingEvent:
		r.log.Info("mailing finished",
			logx.Int64("mailing_id", data.MailingID),
			logx.Int("total", data.Total),
			logx.Int("failed", data.Failed))
	}
}

func (r *Relay) forwardQuestion(ctx context.Context, ev meetup.QuestionEvent) error {
	speaker, err := r.users.UserByID(ctx, ev.Talk.SpeakerID)
	if err != nil {
		return err
	}
	text := r.tr.T("", "question_relay", map[string]any{
		"Title": ev.Talk.Title,
		"Asker": ev.Asker.Name,
		"Text":  ev.Question.Text,
	})
	_, err = r.out.SendText(ctx, transport.ChatTarget{ChatID: speaker.ExternalID}, text, nil)
	return err
}
