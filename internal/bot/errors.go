package bot

import (
	"errors"

	"meetbot/internal/broadcast"
	"meetbot/internal/meetup"
)

const keyGenericError = "generic_error"

var (
	errForbidden     = errors.New("forbidden for role")
	errNotRegistered = errors.New("not registered")
	errUnknownAction = errors.New("unknown action")
)

// replyKey maps an error to the message shown to the user.
func replyKey(err error) string {
	switch {
	case errors.Is(err, errForbidden):
		return "forbidden"
	case errors.Is(err, errNotRegistered), errors.Is(err, meetup.ErrUserNotFound):
		return "not_registered"
	case errors.Is(err, errUnknownAction):
		return "unknown_action"
	case errors.Is(err, meetup.ErrNoScheduledTalk):
		return "no_scheduled_talk"
	case errors.Is(err, meetup.ErrNoActiveTalk):
		return "no_active_talk"
	case errors.Is(err, meetup.ErrTalkAlreadyLive):
		return "talk_already_live"
	case errors.Is(err, meetup.ErrTalkNotLive):
		return "talk_not_live"
	case errors.Is(err, meetup.ErrRaceLoss):
		return "race_loss"
	case errors.Is(err, meetup.ErrTalkNotFound):
		return "talk_not_found"
	case errors.Is(err, meetup.ErrEventNotFound):
		return "program_missing"
	case errors.Is(err, meetup.ErrEmptyQuestion):
		return "question_empty"
	case errors.Is(err, broadcast.ErrNoRecipients):
		return "announce_no_recipients"
	case errors.Is(err, broadcast.ErrQueueFull):
		return "announce_failed"
	default:
		return keyGenericError
	}
}
