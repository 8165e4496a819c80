package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"meetbot/internal/meetup"
	logx "meetbot/pkg/logx"
)

const (
	JobReminders = "speaker-reminders"
	JobSweep     = "state-sweep"
)

// ReminderStore is the directory surface the reminder job reads.
type ReminderStore interface {
	UpcomingTalks(ctx context.Context, from, to time.Time) ([]meetup.Talk, error)
	UserByID(ctx context.Context, id int64) (*meetup.User, error)
	// ClaimDedup marks key as handled until the given instant. It returns
	// false when another run already holds the key.
	ClaimDedup(ctx context.Context, key string, until, now time.Time) (bool, error)
}

// RemindFunc tells a speaker that their talk is about to open.
type RemindFunc func(ctx context.Context, speaker meetup.User, talk meetup.Talk) error

// Reminders notifies each speaker once when their talk window opens
// within the lead time.
type Reminders struct {
	store  ReminderStore
	remind RemindFunc
	log    logx.Logger
	now    func() time.Time

	lead atomic.Int64
}

func NewReminders(store ReminderStore, lead time.Duration, remind RemindFunc, log logx.Logger) *Reminders {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Reminders{store: store, remind: remind, log: log, now: time.Now}
	r.SetLead(lead)
	return r
}

func (r *Reminders) SetLead(d time.Duration) { r.lead.Store(int64(d)) }

func (r *Reminders) Lead() time.Duration { return time.Duration(r.lead.Load()) }

// Run is one reminder pass. It returns the number of reminders sent.
func (r *Reminders) Run(ctx context.Context) (int, error) {
	now := r.now()
	talks, err := r.store.UpcomingTalks(ctx, now, now.Add(r.Lead()))
	if err != nil {
		return 0, err
	}
	sent := 0
	var errs []error
	for _, t := range talks {
		ok, err := r.store.ClaimDedup(ctx, "remind:"+strconv.FormatInt(t.ID, 10), t.EndAt, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		speaker, err := r.store.UserByID(ctx, t.SpeakerID)
		if err != nil {
			errs = append(errs, fmt.Errorf("talk %d speaker: %w", t.ID, err))
			continue
		}
		if err := r.remind(ctx, *speaker, t); err != nil {
			errs = append(errs, fmt.Errorf("remind talk %d: %w", t.ID, err))
			continue
		}
		sent++
		r.log.Info("speaker reminded", logx.Int64("talk_id", t.ID), logx.Int64("speaker_id", speaker.ID))
	}
	return sent, errors.Join(errs...)
}

// Job adapts Run to the scheduler.
func (r *Reminders) Job() JobFunc {
	return func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	}
}

// Sweeper drops expired conversation states.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func SweepJob(states Sweeper, log logx.Logger) JobFunc {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context) error {
		n, err := states.Sweep(ctx, time.Now())
		if err != nil {
			return err
		}
		if n > 0 {
			log.Debug("expired states swept", logx.Int("removed", n))
		}
		return nil
	}
}
