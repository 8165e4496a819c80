package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"meetbot/internal/meetup"
)

// CreateQuestionIfLive inserts q in one statement that matches only while the
// talk is live, so a concurrent end can never leave a question on an ended talk.
func (s *Store) CreateQuestionIfLive(ctx context.Context, q *meetup.Question) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	err := s.queryRow(ctx,
		`INSERT INTO questions(talk_id, guest_id, text, created_at)
		 SELECT id, ?, ?, ? FROM talks
		 WHERE id = ? AND actual_start_at IS NOT NULL AND actual_end_at IS NULL
		 RETURNING id`,
		q.GuestID, q.Text, toMillis(q.CreatedAt), q.TalkID,
	).Scan(&q.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return meetup.ErrTalkNotLive
	}
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// QuestionsByTalk returns the talk's questions in arrival order.
func (s *Store) QuestionsByTalk(ctx context.Context, talkID int64) ([]meetup.Question, error) {
	rows, err := s.query(ctx,
		`SELECT id, talk_id, guest_id, text, created_at FROM questions WHERE talk_id = ? ORDER BY id`, talkID)
	if err != nil {
		return nil, fmt.Errorf("questions by talk: %w", err)
	}
	defer rows.Close()

	var out []meetup.Question
	for rows.Next() {
		var (
			q  meetup.Question
			ms int64
		)
		if err := rows.Scan(&q.ID, &q.TalkID, &q.GuestID, &q.Text, &ms); err != nil {
			return nil, fmt.Errorf("questions by talk: %w", err)
		}
		q.CreatedAt = fromMillis(ms)
		out = append(out, q)
	}
	return out, rows.Err()
}
