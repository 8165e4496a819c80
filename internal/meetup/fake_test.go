package meetup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// fakeDirectory is an in-memory TalkStore + QuestionStore with the same
// conditional-write semantics as the SQL store.
type fakeDirectory struct {
	mu        sync.Mutex
	users     map[int64]*User
	talks     map[int64]*Talk
	questions []Question
	nextID    int64

	failRole error
	// beforeInsert runs inside CreateQuestionIfLive before the liveness check.
	beforeInsert func()
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[int64]*User{}, talks: map[int64]*Talk{}, nextID: 100}
}

func (d *fakeDirectory) addUser(externalID int64, name string, role Role) *User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	u := &User{ID: d.nextID, ExternalID: externalID, Name: name, Role: role}
	d.users[u.ID] = u
	return u
}

func (d *fakeDirectory) addTalk(speakerID int64, title string, start, end time.Time) *Talk {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	t := &Talk{ID: d.nextID, EventID: 1, SpeakerID: speakerID, Title: title, StartAt: start, EndAt: end}
	d.talks[t.ID] = t
	return t
}

func (d *fakeDirectory) talk(id int64) Talk {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.talks[id]
}

func (d *fakeDirectory) user(id int64) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.users[id]
}

func (d *fakeDirectory) questionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.questions)
}

func (d *fakeDirectory) TalkByID(_ context.Context, id int64) (*Talk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.talks[id]
	if !ok {
		return nil, ErrTalkNotFound
	}
	cp := *t
	return &cp, nil
}

func (d *fakeDirectory) TalksBySpeaker(_ context.Context, speakerID int64) ([]Talk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Talk
	for _, t := range d.talks {
		if t.SpeakerID == speakerID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *fakeDirectory) LiveTalks(_ context.Context) ([]Talk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Talk
	for _, t := range d.talks {
		if t.Live() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (d *fakeDirectory) MarkTalkStarted(_ context.Context, id int64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.talks[id]
	if !ok {
		return ErrTalkNotFound
	}
	if !t.ActualStart.IsZero() {
		return ErrRaceLoss
	}
	t.ActualStart = at
	return nil
}

func (d *fakeDirectory) MarkTalkEnded(_ context.Context, id int64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.talks[id]
	if !ok {
		return ErrTalkNotFound
	}
	if !t.Live() {
		return ErrRaceLoss
	}
	t.ActualEnd = at
	return nil
}

func (d *fakeDirectory) SetUserRole(_ context.Context, userID int64, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failRole != nil {
		return d.failRole
	}
	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Role = role
	return nil
}

func (d *fakeDirectory) EnsureUser(_ context.Context, id Identity) (*User, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.ExternalID == id.ExternalID {
			cp := *u
			return &cp, false, nil
		}
	}
	d.nextID++
	u := &User{ID: d.nextID, ExternalID: id.ExternalID, Name: id.Name, Role: RoleGuest}
	d.users[u.ID] = u
	cp := *u
	return &cp, true, nil
}

func (d *fakeDirectory) CreateQuestionIfLive(_ context.Context, q *Question) error {
	if d.beforeInsert != nil {
		d.beforeInsert()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.talks[q.TalkID]
	if !ok || !t.Live() {
		return ErrTalkNotLive
	}
	d.nextID++
	q.ID = d.nextID
	d.questions = append(d.questions, *q)
	return nil
}

var errBoom = errors.New("boom")

// at builds an instant on the fixed test day.
func at(hhmm string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2026-05-14 "+hhmm)
	if err != nil {
		panic(err)
	}
	return t
}
