package broadcast

import (
	"context"
	"fmt"
	"time"

	"meetbot/internal/eventbus"
	"meetbot/internal/meetup"
	kit "meetbot/internal/transport"
	logx "meetbot/pkg/logx"
)

func (s *Service) worker(stopCh <-chan struct{}, queue <-chan job) {
	for {
		// fast-exit so stop wins over queued work
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case j := <-queue:
			s.runJob(j)
		}
	}
}

// execJob sends the mailing to each recipient in order, one at a time, and
// appends exactly one Success or Fail report per recipient. It never retries.
func (s *Service) execJob(ctx context.Context, j job) {
	start := time.Now()
	m, err := s.store.MailingByID(ctx, j.mailingID)
	if err != nil {
		s.log.Error("dispatch job dropped: mailing not loaded", logx.Int64("mailing", j.mailingID), logx.Err(err))
		s.finish(j.mailingID)
		return
	}
	s.setRunning(m.ID, len(m.Recipients))
	s.log.Info("dispatch started", logx.Int64("mailing", m.ID), logx.Int("total", len(m.Recipients)))

	ch, release, err := s.channels.Acquire(ctx)
	if err != nil {
		s.log.Error("delivery channel unavailable; failing every recipient", logx.Int64("mailing", m.ID), logx.Err(err))
		ch = nil
	}
	if release != nil {
		defer release()
	}

	failed := 0
	for _, r := range m.Recipients {
		status := meetup.ReportFail
		if ch != nil {
			status = s.sendOne(ctx, ch, m, r)
		}
		if status != meetup.ReportSuccess {
			failed++
		}
		rep := &meetup.Report{MailingID: m.ID, UserID: r.UserID, Status: status, CreatedAt: s.now()}
		if err := s.store.AppendReport(ctx, rep); err != nil {
			s.log.Error("report not recorded", logx.Int64("mailing", m.ID), logx.Int64("user", r.UserID), logx.String("status", string(status)), logx.Err(err))
		}
		s.markDone(m.ID, status != meetup.ReportSuccess)
	}
	s.finish(m.ID)

	fields := []logx.Field{
		logx.Int64("mailing", m.ID),
		logx.Int("total", len(m.Recipients)),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	if failed > 0 {
		s.log.Warn("dispatch finished with failures", fields...)
	} else {
		s.log.Info("dispatch finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: meetup.EventMailingFinished,
			Data: meetup.MailingEvent{MailingID: m.ID, Total: len(m.Recipients), Failed: failed},
		})
	}
}

func (s *Service) sendOne(ctx context.Context, ch kit.Channel, m *meetup.Mailing, r meetup.Recipient) meetup.ReportStatus {
	if err := s.pacer.Wait(ctx); err != nil {
		s.log.Error("pacer wait failed", logx.Int64("mailing", m.ID), logx.Int64("user", r.UserID), logx.Err(err))
		return meetup.ReportFail
	}

	res, err := ch.Deliver(ctx, r.ExternalID, m.Text)
	switch res {
	case kit.DeliverySuccess:
		if err == nil {
			return meetup.ReportSuccess
		}
		// A channel that reports success with an error is treated as a fault.
		s.log.Error("delivery fault", logx.Int64("mailing", m.ID), logx.Int64("user", r.UserID), logx.Err(err))
	case kit.DeliveryRejected:
		s.log.Warn("delivery rejected", logx.Int64("mailing", m.ID), logx.Int64("user", r.UserID), logx.Int64("external_id", r.ExternalID),
			logx.Err(fmt.Errorf("%w: %v", meetup.ErrDeliveryRejected, err)))
	default:
		s.log.Error("delivery fault", logx.Int64("mailing", m.ID), logx.Int64("user", r.UserID), logx.Int64("external_id", r.ExternalID), logx.Err(err))
	}
	return meetup.ReportFail
}

func (s *Service) setRunning(id int64, total int) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	st := s.status[id]
	if st == nil {
		st = &JobStatus{MailingID: id}
		s.status[id] = st
	}
	st.Total = total
	st.StartedAt = time.Now()
	st.Running = true
}

func (s *Service) markDone(id int64, failed bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.Done++
		if failed {
			st.Failed++
		}
	}
}

func (s *Service) finish(id int64) {
	now := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
	}
	s.statusMu.Unlock()
	// Keep the map bounded even if nobody queries old mailing IDs.
	s.pruneStatus(now)
}
