package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromName     string
	FromUsername string
	Locale       string // IETF tag reported by the client, may be empty
	Text         string
	IsPrivate    bool
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	Locale    string
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is one choice of an action panel. Action is the token sent back in
// the callback when the button is selected.
type Button struct {
	Label  string
	Action string
}

// Panel is an abstract multi-choice action panel, one slice per row.
type Panel struct {
	Rows [][]Button
}

// Row appends a row of buttons and returns the panel for chaining.
func (p *Panel) Row(b ...Button) *Panel {
	p.Rows = append(p.Rows, b)
	return p
}

type SendOptions struct {
	Panel          *Panel
	DisablePreview bool
}

// DeliveryResult classifies one delivery attempt on a Channel.
type DeliveryResult int

const (
	DeliverySuccess DeliveryResult = iota
	// DeliveryRejected is a recoverable rejection: the recipient blocked the
	// bot, deleted the account or never opened a chat with it.
	DeliveryRejected
	// DeliveryFault is any unclassified transport failure.
	DeliveryFault
)

func (r DeliveryResult) String() string {
	switch r {
	case DeliverySuccess:
		return "success"
	case DeliveryRejected:
		return "rejected"
	default:
		return "fault"
	}
}

// Channel delivers plain text to one recipient identified by its external id.
type Channel interface {
	Deliver(ctx context.Context, externalID int64, text string) (DeliveryResult, error)
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
