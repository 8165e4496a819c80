package broadcast

import (
	"context"
	"fmt"
	"strings"
	"time"

	"meetbot/internal/meetup"
	logx "meetbot/pkg/logx"
)

// Publish finalizes a mailing with a fixed, ordered recipient set and
// enqueues its single dispatch job.
func (s *Service) Publish(ctx context.Context, text string, recipients []meetup.Recipient) (*meetup.Mailing, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("publish mailing: empty text")
	}
	recipients = uniqueRecipients(recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	m := &meetup.Mailing{
		Text:       text,
		Recipients: recipients,
		CreatedAt:  s.now(),
	}
	if err := s.store.CreateMailing(ctx, m); err != nil {
		return nil, err
	}
	if err := s.Enqueue(ctx, m.ID); err != nil {
		return m, err
	}
	return m, nil
}

// uniqueRecipients copies rs keeping the first occurrence of each user.
func uniqueRecipients(rs []meetup.Recipient) []meetup.Recipient {
	out := make([]meetup.Recipient, 0, len(rs))
	seen := make(map[int64]struct{}, len(rs))
	for _, r := range rs {
		if _, dup := seen[r.UserID]; dup {
			continue
		}
		seen[r.UserID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Enqueue schedules the dispatch of a stored mailing. A mailing is accepted
// at most once per process and never after any of its reports exist.
func (s *Service) Enqueue(ctx context.Context, mailingID int64) error {
	s.mu.Lock()
	if _, dup := s.seen[mailingID]; dup {
		s.mu.Unlock()
		return ErrAlreadyQueued
	}
	s.seen[mailingID] = struct{}{}
	q := s.queue
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.seen, mailingID)
		s.mu.Unlock()
	}

	n, err := s.store.CountReports(ctx, mailingID)
	if err != nil {
		release()
		return fmt.Errorf("enqueue mailing: %w", err)
	}
	if n > 0 {
		return ErrAlreadyDispatched
	}

	now := s.now()
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[mailingID] = &JobStatus{MailingID: mailingID, QueuedAt: now}
	s.statusMu.Unlock()

	select {
	case q <- job{mailingID: mailingID}:
		s.log.Debug("dispatch job enqueued", logx.Int64("mailing", mailingID), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		return nil
	default:
		s.log.Warn("dispatch queue full; job rejected", logx.Int64("mailing", mailingID), logx.Int("queue_cap", cap(q)))
		release()
		s.statusMu.Lock()
		delete(s.status, mailingID)
		s.statusMu.Unlock()
		return ErrQueueFull
	}
}

// Status returns a snapshot of a queued, running or recently finished run.
func (s *Service) Status(mailingID int64) (JobStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[mailingID]
	if !ok || st == nil {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	for id, st := range s.status {
		if st.Running || st.DoneAt.IsZero() {
			continue
		}
		if now.Sub(st.DoneAt) > s.statusTTL {
			delete(s.status, id)
		}
	}
	for len(s.status) > s.statusMax {
		var (
			oldestID int64
			oldest   time.Time
		)
		for id, st := range s.status {
			if st.Running || st.DoneAt.IsZero() {
				continue
			}
			if oldest.IsZero() || st.DoneAt.Before(oldest) {
				oldestID, oldest = id, st.DoneAt
			}
		}
		if oldest.IsZero() {
			return
		}
		delete(s.status, oldestID)
	}
}
