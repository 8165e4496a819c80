package meetup

import (
	"errors"
	"fmt"
)

// Error taxonomy. Specific errors wrap one of these; classify with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrRaceLoss         = errors.New("modified concurrently")
	ErrDeliveryRejected = errors.New("delivery rejected")
)

var (
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrTalkNotFound    = fmt.Errorf("talk %w", ErrNotFound)
	ErrEventNotFound   = fmt.Errorf("event %w", ErrNotFound)
	ErrMailingNotFound = fmt.Errorf("mailing %w", ErrNotFound)

	ErrNoScheduledTalk = fmt.Errorf("%w: no scheduled talk now", ErrInvalidState)
	ErrNoActiveTalk    = fmt.Errorf("%w: no active talk", ErrInvalidState)
	ErrTalkNotLive     = fmt.Errorf("%w: talk is not currently active", ErrInvalidState)
	ErrTalkAlreadyLive = fmt.Errorf("%w: a talk is already live", ErrInvalidState)
)

var ErrEmptyQuestion = errors.New("question text is empty")
