package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"meetbot/internal/meetup"
	logx "meetbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "meetbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func day(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", "2026-05-14 "+hhmm, time.Local)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	speaker *meetup.User
	event   meetup.Event
	talk    meetup.Talk
}

func seed(t *testing.T, st *Store) fixture {
	t.Helper()
	ctx := context.Background()
	sp, _, err := st.EnsureUser(ctx, meetup.Identity{ExternalID: 1001, Name: "Speaker"})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := st.SetUserRole(ctx, sp.ID, meetup.RoleSpeaker); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	ev := meetup.Event{Title: "Meetup", StartAt: day("10:00"), EndAt: day("18:00")}
	if err := st.CreateEvent(ctx, &ev); err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	tk := meetup.Talk{EventID: ev.ID, SpeakerID: sp.ID, Title: "Go", StartAt: day("14:00"), EndAt: day("14:30")}
	if err := st.CreateTalk(ctx, &tk); err != nil {
		t.Fatalf("CreateTalk: %v", err)
	}
	return fixture{speaker: sp, event: ev, talk: tk}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{Driver: "mysql"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := Open(context.Background(), Config{}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	st, err := Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := st.EnsureUser(ctx, meetup.Identity{ExternalID: 7, Name: "a"}); err != nil {
		t.Fatal(err)
	}
	_ = st.Close()

	st, err = Open(ctx, Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if _, err := st.UserByExternalID(ctx, 7); err != nil {
		t.Fatalf("user lost after reopen: %v", err)
	}
}

func TestEnsureUser(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	u, created, err := st.EnsureUser(ctx, meetup.Identity{ExternalID: 5, Name: " Ann "})
	if err != nil || !created {
		t.Fatalf("first EnsureUser: %+v %v %v", u, created, err)
	}
	if u.Role != meetup.RoleGuest || u.Name != "Ann" {
		t.Fatalf("user = %+v", u)
	}
	again, created, err := st.EnsureUser(ctx, meetup.Identity{ExternalID: 5, Name: "Other"})
	if err != nil || created || again.ID != u.ID {
		t.Fatalf("second EnsureUser: %+v %v %v", again, created, err)
	}
	if _, err := st.UserByExternalID(ctx, 6); !errors.Is(err, meetup.ErrNotFound) {
		t.Fatalf("missing user err = %v", err)
	}
	if err := st.SetUserRole(ctx, 9999, meetup.RoleGuest); !errors.Is(err, meetup.ErrUserNotFound) {
		t.Fatalf("SetUserRole missing err = %v", err)
	}
}

func TestTalkGuardedTransitions(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	f := seed(t, st)

	if err := st.MarkTalkEnded(ctx, f.talk.ID, day("14:10")); !errors.Is(err, meetup.ErrRaceLoss) {
		t.Fatalf("end before start err = %v", err)
	}
	if err := st.MarkTalkStarted(ctx, f.talk.ID, day("14:05")); err != nil {
		t.Fatalf("MarkTalkStarted: %v", err)
	}
	if err := st.MarkTalkStarted(ctx, f.talk.ID, day("14:06")); !errors.Is(err, meetup.ErrRaceLoss) {
		t.Fatalf("second start err = %v", err)
	}

	live, err := st.LiveTalks(ctx)
	if err != nil || len(live) != 1 || !live[0].ActualStart.Equal(day("14:05")) {
		t.Fatalf("LiveTalks = %+v, %v", live, err)
	}

	if err := st.MarkTalkEnded(ctx, f.talk.ID, day("14:40")); err != nil {
		t.Fatalf("MarkTalkEnded: %v", err)
	}
	if err := st.MarkTalkEnded(ctx, f.talk.ID, day("14:41")); !errors.Is(err, meetup.ErrRaceLoss) {
		t.Fatalf("second end err = %v", err)
	}
	got, err := st.TalkByID(ctx, f.talk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State() != meetup.TalkEnded || !got.ActualEnd.Equal(day("14:40")) {
		t.Fatalf("talk = %+v", got)
	}
	if err := st.MarkTalkStarted(ctx, 424242, day("14:00")); !errors.Is(err, meetup.ErrTalkNotFound) {
		t.Fatalf("unknown talk err = %v", err)
	}
}

func TestLifecycleEndInStartMillisecond(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	fx := seed(t, st)
	ctx := context.Background()
	m := meetup.NewLifecycle(st, nil, logx.Nop())

	begin := day("14:05").Add(500 * time.Microsecond)
	if _, err := m.Start(ctx, fx.speaker.ID, begin); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ended, err := m.End(ctx, fx.speaker.ID, begin.Add(400*time.Microsecond))
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	got, err := st.TalkByID(ctx, fx.talk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ActualEnd.Equal(ended.ActualEnd) || !got.ActualEnd.After(got.ActualStart) {
		t.Fatalf("stored start %v end %v, returned end %v", got.ActualStart, got.ActualEnd, ended.ActualEnd)
	}
}

func TestConcurrentStartOnlyOneWins(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	f := seed(t, st)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := st.MarkTalkStarted(ctx, f.talk.ID, day("14:05").Add(time.Duration(i)*time.Second))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, meetup.ErrRaceLoss) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestCreateQuestionIfLive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	f := seed(t, st)
	guest, _, _ := st.EnsureUser(ctx, meetup.Identity{ExternalID: 2002, Name: "G"})

	q := &meetup.Question{TalkID: f.talk.ID, GuestID: guest.ID, Text: "early", CreatedAt: day("13:59")}
	if err := st.CreateQuestionIfLive(ctx, q); !errors.Is(err, meetup.ErrTalkNotLive) {
		t.Fatalf("scheduled talk err = %v", err)
	}

	_ = st.MarkTalkStarted(ctx, f.talk.ID, day("14:05"))
	q = &meetup.Question{TalkID: f.talk.ID, GuestID: guest.ID, Text: "What about X?", CreatedAt: day("14:07")}
	if err := st.CreateQuestionIfLive(ctx, q); err != nil || q.ID == 0 {
		t.Fatalf("live talk: id=%d err=%v", q.ID, err)
	}

	_ = st.MarkTalkEnded(ctx, f.talk.ID, day("14:40"))
	late := &meetup.Question{TalkID: f.talk.ID, GuestID: guest.ID, Text: "late", CreatedAt: day("14:45")}
	if err := st.CreateQuestionIfLive(ctx, late); !errors.Is(err, meetup.ErrTalkNotLive) {
		t.Fatalf("ended talk err = %v", err)
	}

	qs, err := st.QuestionsByTalk(ctx, f.talk.ID)
	if err != nil || len(qs) != 1 || qs[0].Text != "What about X?" {
		t.Fatalf("questions = %+v, %v", qs, err)
	}
}

func TestProgramQueries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	f := seed(t, st)
	early := meetup.Talk{EventID: f.event.ID, SpeakerID: f.speaker.ID, Title: "Intro", StartAt: day("11:00"), EndAt: day("11:30")}
	if err := st.CreateTalk(ctx, &early); err != nil {
		t.Fatal(err)
	}
	bad := meetup.Talk{EventID: f.event.ID, SpeakerID: f.speaker.ID, Title: "bad", StartAt: day("12:00"), EndAt: day("12:00")}
	if err := st.CreateTalk(ctx, &bad); err == nil {
		t.Fatal("talk with empty window accepted")
	}

	ev, err := st.CurrentEvent(ctx, day("12:00"))
	if err != nil || ev.ID != f.event.ID {
		t.Fatalf("CurrentEvent = %+v, %v", ev, err)
	}
	ev, err = st.CurrentEvent(ctx, day("23:00"))
	if err != nil || ev.ID != f.event.ID {
		t.Fatalf("CurrentEvent after end = %+v, %v", ev, err)
	}

	talks, err := st.TalksByEvent(ctx, f.event.ID)
	if err != nil || len(talks) != 2 || talks[0].ID != early.ID {
		t.Fatalf("TalksByEvent = %+v, %v", talks, err)
	}
	up, err := st.UpcomingTalks(ctx, day("13:55"), day("14:05"))
	if err != nil || len(up) != 1 || up[0].ID != f.talk.ID {
		t.Fatalf("UpcomingTalks = %+v, %v", up, err)
	}
}

func TestCurrentEventEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.CurrentEvent(context.Background(), time.Now()); !errors.Is(err, meetup.ErrEventNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestMailingAndReports(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		if _, _, err := st.EnsureUser(ctx, meetup.Identity{ExternalID: 100 + i}); err != nil {
			t.Fatal(err)
		}
	}
	rcpts, err := st.Recipients(ctx)
	if err != nil || len(rcpts) != 3 || rcpts[0].ExternalID != 101 || rcpts[2].ExternalID != 103 {
		t.Fatalf("Recipients = %+v, %v", rcpts, err)
	}

	// Reverse order to check that position, not user id, drives ordering.
	m := &meetup.Mailing{Text: "hello", Recipients: []meetup.Recipient{rcpts[2], rcpts[0], rcpts[1]}}
	if err := st.CreateMailing(ctx, m); err != nil {
		t.Fatalf("CreateMailing: %v", err)
	}
	got, err := st.MailingByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("MailingByID: %v", err)
	}
	if got.Text != "hello" || len(got.Recipients) != 3 || got.Recipients[0] != rcpts[2] || got.Recipients[1] != rcpts[0] {
		t.Fatalf("mailing = %+v", got)
	}

	if err := st.AppendReport(ctx, &meetup.Report{MailingID: m.ID, UserID: rcpts[2].UserID, Status: meetup.ReportSuccess}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendReport(ctx, &meetup.Report{MailingID: m.ID, UserID: rcpts[0].UserID, Status: meetup.ReportFail}); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendReport(ctx, &meetup.Report{MailingID: m.ID, UserID: rcpts[0].UserID, Status: meetup.ReportSuccess}); err == nil {
		t.Fatal("duplicate report accepted")
	}
	n, err := st.CountReports(ctx, m.ID)
	if err != nil || n != 2 {
		t.Fatalf("CountReports = %d, %v", n, err)
	}
	reps, _ := st.ReportsByMailing(ctx, m.ID)
	if len(reps) != 2 || reps[0].Status != meetup.ReportSuccess || reps[1].Status != meetup.ReportFail {
		t.Fatalf("reports = %+v", reps)
	}
	if _, err := st.MailingByID(ctx, 9999); !errors.Is(err, meetup.ErrMailingNotFound) {
		t.Fatalf("missing mailing err = %v", err)
	}
}

func TestStateStore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := day("10:00")
	states := NewStateStore(st, time.Minute)
	states.now = func() time.Time { return now }
	a := meetup.ConvKey{ChatID: 1, UserID: 1}
	b := meetup.ConvKey{ChatID: 2, UserID: 2}

	if s, err := states.Read(ctx, a); err != nil || s.Kind != meetup.StateIdle {
		t.Fatalf("unknown key = %+v, %v", s, err)
	}
	_ = states.Enter(ctx, a, 10)
	_ = states.Enter(ctx, a, 11)
	if s, _ := states.Read(ctx, a); s.Kind != meetup.StateAwaitingQuestion || s.TalkID != 11 {
		t.Fatalf("state = %+v", s)
	}
	_ = states.Clear(ctx, a)
	if s, _ := states.Read(ctx, a); s.Kind != meetup.StateIdle {
		t.Fatalf("cleared = %+v", s)
	}

	_ = states.Enter(ctx, b, 20)
	now = now.Add(2 * time.Minute)
	if s, _ := states.Read(ctx, b); s.Kind != meetup.StateIdle {
		t.Fatalf("expired state visible: %+v", s)
	}
	n, err := states.Sweep(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
}

func TestDedup(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := day("10:00")

	ok, err := st.ClaimDedup(ctx, "remind:1", now.Add(time.Hour), now)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = st.ClaimDedup(ctx, "remind:1", now.Add(time.Hour), now.Add(time.Minute))
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}
	ok, err = st.ClaimDedup(ctx, "remind:1", now.Add(3*time.Hour), now.Add(2*time.Hour))
	if err != nil || !ok {
		t.Fatalf("claim after expiry = %v, %v", ok, err)
	}
	var until int64
	if err := st.queryRow(ctx, `SELECT until FROM dedup WHERE key = ?`, "remind:1").Scan(&until); err != nil {
		t.Fatal(err)
	}
	if until != now.Add(3*time.Hour).UnixMilli() {
		t.Fatalf("until = %v", fromMillis(until))
	}
}

func TestDedupPrunesExpiredClaims(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	st.pruneEvery = 2
	ctx := context.Background()
	now := day("10:00")

	if ok, err := st.ClaimDedup(ctx, "old", now.Add(time.Minute), now); err != nil || !ok {
		t.Fatalf("claim old = %v, %v", ok, err)
	}
	later := now.Add(time.Hour)
	if ok, err := st.ClaimDedup(ctx, "new", later.Add(time.Minute), later); err != nil || !ok {
		t.Fatalf("claim new = %v, %v", ok, err)
	}
	var n int
	if err := st.queryRow(ctx, `SELECT COUNT(*) FROM dedup`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("dedup rows = %d, want 1", n)
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &Store{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	lite := &Store{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("rebind = %q", got)
	}
}
