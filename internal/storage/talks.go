package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetbot/internal/meetup"
)

var (
	_ meetup.TalkStore     = (*Store)(nil)
	_ meetup.QuestionStore = (*Store)(nil)
	_ meetup.StateStore    = (*StateStore)(nil)
)

const talkCols = `id, event_id, speaker_id, title, start_at, end_at, actual_start_at, actual_end_at`

func scanTalk(row interface{ Scan(...any) error }) (*meetup.Talk, error) {
	var (
		t                meetup.Talk
		start, end       int64
		actualS, actualE sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.EventID, &t.SpeakerID, &t.Title, &start, &end, &actualS, &actualE); err != nil {
		return nil, err
	}
	t.StartAt = fromMillis(start)
	t.EndAt = fromMillis(end)
	t.ActualStart = fromNullMillis(actualS)
	t.ActualEnd = fromNullMillis(actualE)
	return &t, nil
}

func (s *Store) listTalks(ctx context.Context, op, q string, args ...any) ([]meetup.Talk, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []meetup.Talk
	for rows.Next() {
		t, err := scanTalk(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) CreateEvent(ctx context.Context, e *meetup.Event) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	err := s.queryRow(ctx,
		`INSERT INTO events(title, description, start_at, end_at) VALUES(?,?,?,?) RETURNING id`,
		e.Title, e.Description, toMillis(e.StartAt), toMillis(e.EndAt),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// CurrentEvent returns the running or next upcoming event; when every event
// is over it returns the most recent one.
func (s *Store) CurrentEvent(ctx context.Context, now time.Time) (*meetup.Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	scan := func(row *sql.Row) (*meetup.Event, error) {
		var (
			e          meetup.Event
			start, end int64
		)
		if err := row.Scan(&e.ID, &e.Title, &e.Description, &start, &end); err != nil {
			return nil, err
		}
		e.StartAt, e.EndAt = fromMillis(start), fromMillis(end)
		return &e, nil
	}

	e, err := scan(s.queryRow(ctx,
		`SELECT id, title, description, start_at, end_at FROM events
		 WHERE end_at >= ? ORDER BY start_at, id LIMIT 1`, toMillis(now)))
	if errors.Is(err, sql.ErrNoRows) {
		e, err = scan(s.queryRow(ctx,
			`SELECT id, title, description, start_at, end_at FROM events
			 ORDER BY end_at DESC, id DESC LIMIT 1`))
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meetup.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("current event: %w", err)
	}
	return e, nil
}

func (s *Store) CreateTalk(ctx context.Context, t *meetup.Talk) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !t.EndAt.After(t.StartAt) {
		return fmt.Errorf("create talk: end %s not after start %s", t.EndAt, t.StartAt)
	}
	err := s.queryRow(ctx,
		`INSERT INTO talks(event_id, speaker_id, title, start_at, end_at) VALUES(?,?,?,?,?) RETURNING id`,
		t.EventID, t.SpeakerID, t.Title, toMillis(t.StartAt), toMillis(t.EndAt),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create talk: %w", err)
	}
	return nil
}

func (s *Store) TalkByID(ctx context.Context, id int64) (*meetup.Talk, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	t, err := scanTalk(s.queryRow(ctx, `SELECT `+talkCols+` FROM talks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, meetup.ErrTalkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("talk by id: %w", err)
	}
	return t, nil
}

func (s *Store) TalksBySpeaker(ctx context.Context, speakerID int64) ([]meetup.Talk, error) {
	return s.listTalks(ctx, "talks by speaker",
		`SELECT `+talkCols+` FROM talks WHERE speaker_id = ? ORDER BY start_at, id`, speakerID)
}

// TalksByEvent returns the event program in start order.
func (s *Store) TalksByEvent(ctx context.Context, eventID int64) ([]meetup.Talk, error) {
	return s.listTalks(ctx, "talks by event",
		`SELECT `+talkCols+` FROM talks WHERE event_id = ? ORDER BY start_at, id`, eventID)
}

func (s *Store) LiveTalks(ctx context.Context) ([]meetup.Talk, error) {
	return s.listTalks(ctx, "live talks",
		`SELECT `+talkCols+` FROM talks
		 WHERE actual_start_at IS NOT NULL AND actual_end_at IS NULL
		 ORDER BY start_at, id`)
}

// UpcomingTalks returns scheduled talks whose window opens in [from, to].
func (s *Store) UpcomingTalks(ctx context.Context, from, to time.Time) ([]meetup.Talk, error) {
	return s.listTalks(ctx, "upcoming talks",
		`SELECT `+talkCols+` FROM talks
		 WHERE actual_start_at IS NULL AND start_at >= ? AND start_at <= ?
		 ORDER BY start_at, id`, toMillis(from), toMillis(to))
}

// MarkTalkStarted sets the actual start only while the talk has never started.
func (s *Store) MarkTalkStarted(ctx context.Context, talkID int64, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE talks SET actual_start_at = ? WHERE id = ? AND actual_start_at IS NULL`,
		toMillis(at), talkID)
	if err != nil {
		return fmt.Errorf("mark talk started: %w", err)
	}
	return s.guarded(ctx, res, talkID)
}

// MarkTalkEnded sets the actual end only while the talk is live.
func (s *Store) MarkTalkEnded(ctx context.Context, talkID int64, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE talks SET actual_end_at = ?
		 WHERE id = ? AND actual_start_at IS NOT NULL AND actual_end_at IS NULL AND actual_start_at < ?`,
		toMillis(at), talkID, toMillis(at))
	if err != nil {
		return fmt.Errorf("mark talk ended: %w", err)
	}
	return s.guarded(ctx, res, talkID)
}

// guarded turns a zero-row conditional update into ErrTalkNotFound or ErrRaceLoss.
func (s *Store) guarded(ctx context.Context, res sql.Result, talkID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.TalkByID(ctx, talkID); err != nil {
		return err
	}
	return meetup.ErrRaceLoss
}
