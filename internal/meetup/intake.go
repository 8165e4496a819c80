package meetup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"meetbot/internal/eventbus"
	logx "meetbot/pkg/logx"
)

// MaxQuestionLen caps question text, in runes. Longer text is truncated.
const MaxQuestionLen = 250

type SubmitOutcome int

const (
	// SubmitFailed is the outcome of a submission that returned an error.
	SubmitFailed SubmitOutcome = iota
	SubmitAccepted
	// SubmitTalkAbsent means the talk was missing or no longer live; nothing was stored.
	SubmitTalkAbsent
)

// Submission is the result of Submit. Talk, User and Question are set only when accepted.
type Submission struct {
	Outcome  SubmitOutcome
	Talk     *Talk
	User     *User
	Question *Question
}

func (s Submission) Accepted() bool { return s.Outcome == SubmitAccepted }

// Intake gates question submission to the live window of a talk.
//
// Liveness is checked twice: when the user asks to ask, and again when the
// text arrives. The second check and the insert are one conditional write in
// the store, so a talk that ends in between never receives the question.
type Intake struct {
	store  QuestionStore
	states StateStore
	bus    eventbus.Bus
	log    logx.Logger
}

func NewIntake(store QuestionStore, states StateStore, bus eventbus.Bus, log logx.Logger) *Intake {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Intake{store: store, states: states, bus: bus, log: log}
}

// RequestToAsk puts the conversation into AwaitingQuestion(talkID) when the talk is live now.
func (in *Intake) RequestToAsk(ctx context.Context, key ConvKey, talkID int64, now time.Time) (*Talk, error) {
	talk, err := in.store.TalkByID(ctx, talkID)
	if err != nil {
		return nil, err
	}
	if !talk.Live() {
		in.log.Debug("ask refused: talk not live", logx.Int64("talk", talkID), logx.String("state", talk.State().String()), logx.Time("at", now))
		return talk, ErrTalkNotLive
	}
	if err := in.states.Enter(ctx, key, talkID); err != nil {
		return nil, fmt.Errorf("enter awaiting question: %w", err)
	}
	return talk, nil
}

// Submit stores text as a question on talkID from asker. The conversation
// state is cleared whatever the result.
func (in *Intake) Submit(ctx context.Context, key ConvKey, talkID int64, asker Identity, text string, now time.Time) (sub Submission, err error) {
	defer func() {
		if cerr := in.states.Clear(context.WithoutCancel(ctx), key); cerr != nil {
			in.log.Warn("clear conversation state failed", logx.Int64("chat", key.ChatID), logx.Int64("user", key.UserID), logx.Err(cerr))
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return Submission{}, ErrEmptyQuestion
	}
	text = truncateRunes(text, MaxQuestionLen)

	absent := Submission{Outcome: SubmitTalkAbsent}
	talk, err := in.store.TalkByID(ctx, talkID)
	if errors.Is(err, ErrNotFound) {
		return absent, nil
	}
	if err != nil {
		return Submission{}, err
	}
	if !talk.Live() {
		return absent, nil
	}

	user, _, err := in.store.EnsureUser(ctx, asker)
	if err != nil {
		return Submission{}, fmt.Errorf("resolve asker: %w", err)
	}

	q := &Question{TalkID: talk.ID, GuestID: user.ID, Text: text, CreatedAt: now}
	if err := in.store.CreateQuestionIfLive(ctx, q); err != nil {
		if errors.Is(err, ErrTalkNotLive) || errors.Is(err, ErrNotFound) {
			in.log.Info("question rejected: talk ended before commit", logx.Int64("talk", talk.ID), logx.Int64("user", user.ID))
			return absent, nil
		}
		return Submission{}, fmt.Errorf("create question: %w", err)
	}

	in.log.Info("question accepted", logx.Int64("talk", talk.ID), logx.Int64("user", user.ID), logx.Int64("question", q.ID))
	publish(in.bus, EventQuestionAsked, QuestionEvent{Talk: *talk, Asker: *user, Question: *q})
	return Submission{Outcome: SubmitAccepted, Talk: talk, User: user, Question: q}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
