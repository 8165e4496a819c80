package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetbot/internal/meetup"
)

const stateAwaiting = "awaiting_question"

// StateStore keeps conversation states in the shared conversation_states
// table so every bot instance sees the same flow.
type StateStore struct {
	s   *Store
	ttl time.Duration
	now func() time.Time
}

// NewStateStore returns a storage-backed meetup.StateStore. ttl <= 0 keeps states until cleared.
func NewStateStore(s *Store, ttl time.Duration) *StateStore {
	return &StateStore{s: s, ttl: ttl, now: time.Now}
}

func (st *StateStore) Enter(ctx context.Context, key meetup.ConvKey, talkID int64) error {
	var exp any
	if st.ttl > 0 {
		exp = toMillis(st.now().Add(st.ttl))
	}
	_, err := st.s.exec(ctx,
		`INSERT INTO conversation_states(chat_id, user_id, kind, talk_id, expires_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id, user_id) DO UPDATE SET kind = excluded.kind, talk_id = excluded.talk_id, expires_at = excluded.expires_at`,
		key.ChatID, key.UserID, stateAwaiting, talkID, exp)
	if err != nil {
		return fmt.Errorf("enter conversation state: %w", err)
	}
	return nil
}

func (st *StateStore) Read(ctx context.Context, key meetup.ConvKey) (meetup.State, error) {
	if st.s == nil || st.s.db == nil {
		return meetup.State{}, ErrDisabled
	}
	var (
		kind   string
		talkID int64
		exp    sql.NullInt64
	)
	err := st.s.queryRow(ctx,
		`SELECT kind, talk_id, expires_at FROM conversation_states WHERE chat_id = ? AND user_id = ?`,
		key.ChatID, key.UserID).Scan(&kind, &talkID, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return meetup.State{Kind: meetup.StateIdle}, nil
	}
	if err != nil {
		return meetup.State{}, fmt.Errorf("read conversation state: %w", err)
	}
	if kind != stateAwaiting || (exp.Valid && st.now().UnixMilli() > exp.Int64) {
		return meetup.State{Kind: meetup.StateIdle}, nil
	}
	return meetup.State{Kind: meetup.StateAwaitingQuestion, TalkID: talkID}, nil
}

func (st *StateStore) Clear(ctx context.Context, key meetup.ConvKey) error {
	_, err := st.s.exec(ctx, `DELETE FROM conversation_states WHERE chat_id = ? AND user_id = ?`, key.ChatID, key.UserID)
	if err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}

// Sweep deletes states that expired before now.
func (st *StateStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := st.s.exec(ctx,
		`DELETE FROM conversation_states WHERE expires_at IS NOT NULL AND expires_at < ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sweep conversation states: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
