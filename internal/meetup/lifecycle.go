package meetup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"meetbot/internal/eventbus"
	logx "meetbot/pkg/logx"
)

// Lifecycle moves talks through Scheduled -> Live -> Ended.
//
// Transitions never skip or reverse a state. The read-then-write sequence is
// guarded by the store's conditional updates, so a duplicate concurrent
// command from the same speaker loses with ErrRaceLoss instead of
// overwriting the first one.
type Lifecycle struct {
	talks TalkStore
	bus   eventbus.Bus
	log   logx.Logger
}

func NewLifecycle(talks TalkStore, bus eventbus.Bus, log logx.Logger) *Lifecycle {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Lifecycle{talks: talks, bus: bus, log: log}
}

// Start makes live the speaker's scheduled talk whose window contains now.
// When several match, the earliest start time (then lowest id) wins.
func (m *Lifecycle) Start(ctx context.Context, speakerID int64, now time.Time) (*Talk, error) {
	now = now.Truncate(InstantPrecision)
	talks, err := m.talks.TalksBySpeaker(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("list speaker talks: %w", err)
	}

	var candidates []Talk
	for _, t := range talks {
		switch t.State() {
		case TalkLive:
			return nil, ErrTalkAlreadyLive
		case TalkScheduled:
			if t.InWindow(now) {
				candidates = append(candidates, t)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoScheduledTalk
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].StartAt.Equal(candidates[j].StartAt) {
			return candidates[i].StartAt.Before(candidates[j].StartAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	talk := candidates[0]
	if err := m.talks.MarkTalkStarted(ctx, talk.ID, now); err != nil {
		return nil, err
	}
	talk.ActualStart = now
	talk.ActualEnd = time.Time{}

	m.log.Info("talk started", logx.Int64("talk", talk.ID), logx.Int64("speaker", speakerID), logx.Time("at", now))
	publish(m.bus, EventTalkStarted, TalkEvent{Talk: talk})
	return &talk, nil
}

// End finishes the speaker's live talk and demotes the speaker to guest.
//
// The end instant is kept strictly after the actual start even when the
// caller's clock lags behind it.
func (m *Lifecycle) End(ctx context.Context, speakerID int64, now time.Time) (*Talk, error) {
	talks, err := m.talks.TalksBySpeaker(ctx, speakerID)
	if err != nil {
		return nil, fmt.Errorf("list speaker talks: %w", err)
	}

	var live []Talk
	for _, t := range talks {
		if t.Live() {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		return nil, ErrNoActiveTalk
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].ActualStart.Equal(live[j].ActualStart) {
			return live[i].ActualStart.Before(live[j].ActualStart)
		}
		return live[i].ID < live[j].ID
	})

	talk := live[0]
	start := talk.ActualStart.Truncate(InstantPrecision)
	end := now.Truncate(InstantPrecision)
	if !end.After(start) {
		end = start.Add(InstantPrecision)
	}
	if err := m.talks.MarkTalkEnded(ctx, talk.ID, end); err != nil {
		return nil, err
	}
	talk.ActualEnd = end

	// Two separate writes: the talk stays ended even if the demotion fails.
	if err := m.talks.SetUserRole(ctx, speakerID, RoleGuest); err != nil {
		m.log.Error("speaker demotion failed", logx.Int64("talk", talk.ID), logx.Int64("speaker", speakerID), logx.Err(err))
		return &talk, fmt.Errorf("demote speaker: %w", err)
	}

	m.log.Info("talk ended", logx.Int64("talk", talk.ID), logx.Int64("speaker", speakerID), logx.Time("at", end))
	publish(m.bus, EventTalkEnded, TalkEvent{Talk: talk})
	return &talk, nil
}

// CurrentlyLive returns live talks whose scheduled window contains now, ordered by start time.
func (m *Lifecycle) CurrentlyLive(ctx context.Context, now time.Time) ([]Talk, error) {
	live, err := m.talks.LiveTalks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list live talks: %w", err)
	}
	out := make([]Talk, 0, len(live))
	for _, t := range live {
		if t.Live() && t.InWindow(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].StartAt.Before(out[j].StartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
