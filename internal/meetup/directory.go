package meetup

import (
	"context"
	"time"
)

// TalkStore is the part of the directory the lifecycle manager needs.
//
// MarkTalkStarted and MarkTalkEnded are conditional writes: they change the row
// only while its precondition still holds and return ErrRaceLoss otherwise.
type TalkStore interface {
	TalkByID(ctx context.Context, id int64) (*Talk, error)
	TalksBySpeaker(ctx context.Context, speakerID int64) ([]Talk, error)
	LiveTalks(ctx context.Context) ([]Talk, error)
	MarkTalkStarted(ctx context.Context, talkID int64, at time.Time) error
	MarkTalkEnded(ctx context.Context, talkID int64, at time.Time) error
	SetUserRole(ctx context.Context, userID int64, role Role) error
}

// QuestionStore is the part of the directory question intake needs.
type QuestionStore interface {
	TalkByID(ctx context.Context, id int64) (*Talk, error)
	EnsureUser(ctx context.Context, id Identity) (*User, bool, error)
	// CreateQuestionIfLive inserts q only while its talk is live and returns
	// ErrTalkNotLive when it is not.
	CreateQuestionIfLive(ctx context.Context, q *Question) error
}
