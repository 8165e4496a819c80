package bot

import (
	"context"
	"time"

	"meetbot/internal/broadcast"
	"meetbot/internal/meetup"
	"meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

// Action tokens carried by panel buttons.
const (
	ActionRegister     = "register"
	ActionLogin        = "login"
	ActionMenu         = "menu"
	ActionProgram      = "program"
	ActionTalk         = "talk"
	ActionAsk          = "ask"
	ActionLiveTalks    = "list-live-talks"
	ActionStartTalk    = "start-talk"
	ActionEndTalk      = "end-talk"
	ActionMyQuestions  = "my-questions"
	CommandStart       = "start"
	CommandAnnounce    = "announce"
	CommandPromote     = "promote"
	CommandMailing     = "mailing"
	defaultWorkers     = 4
	defaultJobQueueCap = 256
)

// Directory is the read/write surface of the directory the handler uses
// beyond the lifecycle manager and question intake.
type Directory interface {
	EnsureUser(ctx context.Context, id meetup.Identity) (*meetup.User, bool, error)
	UserByExternalID(ctx context.Context, externalID int64) (*meetup.User, error)
	UserByID(ctx context.Context, id int64) (*meetup.User, error)
	SetUserRole(ctx context.Context, userID int64, role meetup.Role) error
	CurrentEvent(ctx context.Context, now time.Time) (*meetup.Event, error)
	TalksByEvent(ctx context.Context, eventID int64) ([]meetup.Talk, error)
	TalkByID(ctx context.Context, id int64) (*meetup.Talk, error)
	TalksBySpeaker(ctx context.Context, speakerID int64) ([]meetup.Talk, error)
	QuestionsByTalk(ctx context.Context, talkID int64) ([]meetup.Question, error)
	Recipients(ctx context.Context) ([]meetup.Recipient, error)
}

// Broadcaster finalizes and enqueues a mailing and reports run progress.
type Broadcaster interface {
	Publish(ctx context.Context, text string, recipients []meetup.Recipient) (*meetup.Mailing, error)
	Status(mailingID int64) (broadcast.JobStatus, bool)
}

// Messenger is the outbound half of the chat adapter.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	EditText(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type Translator interface {
	Match(locale string) string
	T(locale, key string, data map[string]any) string
}

type Config struct {
	// Location renders talk times. Defaults to time.Local.
	Location *time.Location
	// Timeout bounds one update. Zero disables it.
	Timeout    time.Duration
	Workers    int
	Organizers []int64
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Directory Directory
	Lifecycle *meetup.Lifecycle
	Intake    *meetup.Intake
	States    meetup.StateStore
	Mailer    Broadcaster
	Out       Messenger
	Tr        Translator
}

// Request is one inbound update, resolved to an identity and action.
type Request struct {
	Update transport.Update
	Chat   transport.ChatTarget
	From   meetup.Identity
	Locale string
	// Action is the command word (without '/') or callback action token.
	Action string
	// Arg is the command remainder or the callback argument after ':'.
	Arg    string
	Text   string
	Ref    *transport.MessageRef
	Logger logx.Logger
}

func (r *Request) key() meetup.ConvKey {
	return meetup.ConvKey{ChatID: r.Chat.ChatID, UserID: r.From.ExternalID}
}

func (r *Request) isCallback() bool { return r.Update.Kind == transport.UpdateCallback }

// continuesFlow reports whether the request belongs to the question flow:
// the ask button itself or the free text answering it.
func (r *Request) continuesFlow() bool {
	if r.isCallback() {
		return r.Action == ActionAsk
	}
	return r.Action == ""
}
