package meetup

import "time"

type Role string

const (
	RoleGuest     Role = "guest"
	RoleSpeaker   Role = "speaker"
	RoleOrganizer Role = "organizer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleSpeaker, RoleOrganizer:
		return true
	}
	return false
}

// User is a registered participant. ExternalID is the chat platform identity.
type User struct {
	ID         int64
	ExternalID int64
	Name       string
	Role       Role
}

// Identity is the caller identity carried by an inbound event.
type Identity struct {
	ExternalID int64
	Name       string
}

type Event struct {
	ID          int64
	Title       string
	Description string
	StartAt     time.Time
	EndAt       time.Time
}

// InstantPrecision is the resolution the directory keeps for lifecycle
// instants. Start and End truncate to it so returned talks match stored ones.
const InstantPrecision = time.Millisecond

// Talk belongs to one Event and one speaker. ActualStart and ActualEnd are
// zero until the lifecycle manager sets them.
type Talk struct {
	ID          int64
	EventID     int64
	SpeakerID   int64
	Title       string
	StartAt     time.Time
	EndAt       time.Time
	ActualStart time.Time
	ActualEnd   time.Time
}

type TalkState int

const (
	TalkScheduled TalkState = iota
	TalkLive
	TalkEnded
)

func (s TalkState) String() string {
	switch s {
	case TalkLive:
		return "live"
	case TalkEnded:
		return "ended"
	default:
		return "scheduled"
	}
}

func (t *Talk) State() TalkState {
	switch {
	case t.ActualStart.IsZero():
		return TalkScheduled
	case t.ActualEnd.IsZero():
		return TalkLive
	default:
		return TalkEnded
	}
}

// Live reports whether the talk has started and not ended, regardless of its scheduled window.
func (t *Talk) Live() bool { return t.State() == TalkLive }

// InWindow reports whether now falls inside the scheduled window (both ends inclusive).
func (t *Talk) InWindow(now time.Time) bool {
	return !now.Before(t.StartAt) && !now.After(t.EndAt)
}

type Question struct {
	ID        int64
	TalkID    int64
	GuestID   int64
	Text      string
	CreatedAt time.Time
}

// Recipient is one member of a Mailing's fixed recipient set.
type Recipient struct {
	UserID     int64
	ExternalID int64
}

// Mailing is one broadcast message. Recipients keep insertion order and never change.
type Mailing struct {
	ID         int64
	Text       string
	Recipients []Recipient
	CreatedAt  time.Time
}

type ReportStatus string

const (
	ReportCreated ReportStatus = "created"
	ReportSuccess ReportStatus = "success"
	ReportFail    ReportStatus = "fail"
)

// Report is the durable delivery outcome for one (Mailing, recipient) pair.
type Report struct {
	ID        int64
	MailingID int64
	UserID    int64
	Status    ReportStatus
	CreatedAt time.Time
}
