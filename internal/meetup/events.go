package meetup

import "meetbot/internal/eventbus"

// Event types published on the in-process bus.
const (
	EventTalkStarted     = "talk.started"
	EventTalkEnded       = "talk.ended"
	EventQuestionAsked   = "question.asked"
	EventMailingFinished = "mailing.finished"
)

type TalkEvent struct {
	Talk Talk
}

type QuestionEvent struct {
	Talk     Talk
	Asker    User
	Question Question
}

// MailingEvent summarizes a finished dispatch run.
type MailingEvent struct {
	MailingID int64
	Total     int
	Failed    int
}

func publish(bus eventbus.Bus, typ string, data any) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}
