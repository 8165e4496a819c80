package meetup

import (
	"context"
	"sync"
	"time"
)

// ConvKey identifies one user's conversation with the bot.
type ConvKey struct {
	ChatID int64
	UserID int64
}

type StateKind int

const (
	StateIdle StateKind = iota
	StateAwaitingQuestion
)

func (k StateKind) String() string {
	if k == StateAwaitingQuestion {
		return "awaiting_question"
	}
	return "idle"
}

// State is the per-conversation flow marker. TalkID is set only while awaiting a question.
type State struct {
	Kind   StateKind
	TalkID int64
}

// StateStore keeps conversation states. States for distinct keys are independent.
type StateStore interface {
	// Enter overwrites any prior state with AwaitingQuestion(talkID).
	Enter(ctx context.Context, key ConvKey, talkID int64) error
	// Read returns Idle for unknown or expired keys.
	Read(ctx context.Context, key ConvKey) (State, error)
	Clear(ctx context.Context, key ConvKey) error
}

// MemoryStates is the process-local StateStore. Its contents are lost on
// restart; deployments with more than one instance use the storage-backed
// store instead.
type MemoryStates struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[ConvKey]memState
}

type memState struct {
	talkID int64
	exp    time.Time
}

// NewMemoryStates creates an in-memory store. ttl <= 0 keeps states until cleared.
func NewMemoryStates(ttl time.Duration) *MemoryStates {
	return &MemoryStates{ttl: ttl, now: time.Now, m: map[ConvKey]memState{}}
}

func (s *MemoryStates) Enter(_ context.Context, key ConvKey, talkID int64) error {
	var exp time.Time
	if s.ttl > 0 {
		exp = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.m[key] = memState{talkID: talkID, exp: exp}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStates) Read(_ context.Context, key ConvKey) (State, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[key]
	if !ok {
		return State{Kind: StateIdle}, nil
	}
	if !st.exp.IsZero() && now.After(st.exp) {
		delete(s.m, key)
		return State{Kind: StateIdle}, nil
	}
	return State{Kind: StateAwaitingQuestion, TalkID: st.talkID}, nil
}

func (s *MemoryStates) Clear(_ context.Context, key ConvKey) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired states and returns how many were removed.
func (s *MemoryStates) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, st := range s.m {
		if !st.exp.IsZero() && now.After(st.exp) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored states, expired or not.
func (s *MemoryStates) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
