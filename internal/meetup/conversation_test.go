package meetup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStatesLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStates(0)
	a := ConvKey{ChatID: 1, UserID: 1}
	b := ConvKey{ChatID: 2, UserID: 2}

	if st, err := s.Read(ctx, a); err != nil || st.Kind != StateIdle {
		t.Fatalf("unknown key = %+v, %v", st, err)
	}
	_ = s.Enter(ctx, a, 10)
	_ = s.Enter(ctx, a, 11)
	_ = s.Enter(ctx, b, 20)

	if st, _ := s.Read(ctx, a); st.Kind != StateAwaitingQuestion || st.TalkID != 11 {
		t.Fatalf("Enter must overwrite: %+v", st)
	}
	_ = s.Clear(ctx, a)
	if st, _ := s.Read(ctx, a); st.Kind != StateIdle {
		t.Fatalf("cleared key = %+v", st)
	}
	if st, _ := s.Read(ctx, b); st.TalkID != 20 {
		t.Fatalf("keys are not independent: %+v", st)
	}
	if err := s.Clear(ctx, ConvKey{ChatID: 3}); err != nil {
		t.Fatalf("clearing idle key: %v", err)
	}
}

func TestMemoryStatesExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := at("10:00")
	s := NewMemoryStates(time.Minute)
	s.now = func() time.Time { return now }

	_ = s.Enter(ctx, ConvKey{ChatID: 1}, 1)
	_ = s.Enter(ctx, ConvKey{ChatID: 2}, 2)
	now = now.Add(30 * time.Second)
	_ = s.Enter(ctx, ConvKey{ChatID: 3}, 3)

	now = now.Add(45 * time.Second)
	if st, _ := s.Read(ctx, ConvKey{ChatID: 1}); st.Kind != StateIdle {
		t.Fatalf("expired state still visible: %+v", st)
	}
	n, err := s.Sweep(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Len() != 1 {
		t.Fatalf("swept %d, left %d", n, s.Len())
	}
	if st, _ := s.Read(ctx, ConvKey{ChatID: 3}); st.TalkID != 3 {
		t.Fatalf("fresh state lost: %+v", st)
	}
}
