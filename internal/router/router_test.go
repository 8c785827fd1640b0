package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"sportbot/internal/booking"
	kit "sportbot/internal/transport"
	"sportbot/internal/trigger"
	logx "sportbot/pkg/logx"
)

const owner int64 = 42

var fixedNow = time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC) // a Tuesday

// fakeStore implements the slices of booking.Store the router paths touch.
// Unused methods panic via the embedded nil interface.
type fakeStore struct {
	booking.Store
	courses   map[int64]booking.Course
	scheduled map[int64]*booking.ScheduledBooking
	periodic  map[int64]*booking.PeriodicBooking
	confirms  map[int64]*booking.PendingConfirmation
	mirror    []booking.UserBooking
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		courses:   map[int64]booking.Course{},
		scheduled: map[int64]*booking.ScheduledBooking{},
		periodic:  map[int64]*booking.PeriodicBooking{},
		confirms:  map[int64]*booking.PendingConfirmation{},
	}
}

func (f *fakeStore) id() int64 { f.nextID++; return f.nextID }

func (f *fakeStore) CourseByID(_ context.Context, id int64) (booking.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return booking.Course{}, booking.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) ListCourses(_ context.Context, weekday *time.Weekday, _ bool) ([]booking.Course, error) {
	var out []booking.Course
	for _, c := range f.courses {
		if weekday == nil || c.Weekday == *weekday {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) AddScheduledBooking(_ context.Context, b booking.ScheduledBooking) (int64, error) {
	b.ID = f.id()
	f.scheduled[b.ID] = &b
	return b.ID, nil
}

func (f *fakeStore) HasScheduledBooking(context.Context, int64, int64, time.Time) (bool, error) {
	return false, nil
}

func (f *fakeStore) ListScheduledBookings(_ context.Context, _ int64, status booking.ScheduledStatus) ([]booking.ScheduledBooking, error) {
	var out []booking.ScheduledBooking
	for _, b := range f.scheduled {
		if status == "" || b.Status == status {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeStore) SetScheduledStatus(_ context.Context, id int64, status booking.ScheduledStatus) error {
	b, ok := f.scheduled[id]
	if !ok {
		return booking.ErrNotFound
	}
	if b.Status.Terminal() {
		return booking.ErrInvalidState
	}
	b.Status = status
	return nil
}

func (f *fakeStore) AddPeriodicBooking(_ context.Context, b booking.PeriodicBooking) (int64, error) {
	b.ID = f.id()
	f.periodic[b.ID] = &b
	return b.ID, nil
}

func (f *fakeStore) PeriodicBookingByID(_ context.Context, id int64) (booking.PeriodicBooking, error) {
	b, ok := f.periodic[id]
	if !ok {
		return booking.PeriodicBooking{}, booking.ErrNotFound
	}
	return *b, nil
}

func (f *fakeStore) ListPeriodicBookings(_ context.Context, _ int64, _ bool) ([]booking.PeriodicBooking, error) {
	var out []booking.PeriodicBooking
	for _, b := range f.periodic {
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeStore) SetPeriodicActive(_ context.Context, id int64, active bool) error {
	b, ok := f.periodic[id]
	if !ok {
		return booking.ErrNotFound
	}
	b.Active = active
	return nil
}

func (f *fakeStore) DeletePeriodicBooking(_ context.Context, id int64) error {
	delete(f.periodic, id)
	return nil
}

func (f *fakeStore) PendingConfirmationByID(_ context.Context, id int64) (booking.PendingConfirmation, error) {
	c, ok := f.confirms[id]
	if !ok {
		return booking.PendingConfirmation{}, booking.ErrNotFound
	}
	return *c, nil
}

func (f *fakeStore) SetConfirmationStatus(_ context.Context, id int64, status booking.ConfirmationStatus) error {
	c, ok := f.confirms[id]
	if !ok {
		return booking.ErrNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeStore) AddUserBooking(_ context.Context, b booking.UserBooking) (int64, error) {
	f.mirror = append(f.mirror, b)
	return int64(len(f.mirror)), nil
}

func (f *fakeStore) ListUserBookings(context.Context, int64) ([]booking.UserBooking, error) {
	return f.mirror, nil
}

type fakeNotifier struct {
	sends []string
	edits []string
}

func (f *fakeNotifier) Send(_ context.Context, _ int64, text string, _ [][]booking.Button) (booking.MessageHandle, error) {
	f.sends = append(f.sends, text)
	return booking.MessageHandle{ChatID: owner, MessageID: len(f.sends)}, nil
}

func (f *fakeNotifier) Edit(_ context.Context, _ booking.MessageHandle, text string, _ [][]booking.Button) error {
	f.edits = append(f.edits, text)
	return nil
}

type fakeAdapter struct {
	kit.Adapter
	acks []string
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.acks = append(f.acks, text)
	return nil
}

type fakeAutomation struct{ ok bool }

func (f fakeAutomation) AttemptBooking(context.Context, booking.Course, time.Time) (bool, error) {
	return f.ok, nil
}

type fakeSessions struct{ auto fakeAutomation }

func (f fakeSessions) Acquire(context.Context) (booking.Automation, func(), error) {
	return f.auto, func() {}, nil
}

type fixture struct {
	store    *fakeStore
	notifier *fakeNotifier
	adapter  *fakeAdapter
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	adapter := &fakeAdapter{}

	policy := booking.NewPolicy(store, logx.Logger{}, booking.Defaults{}, time.UTC)
	policy.SetNow(func() time.Time { return fixedNow })
	exec := booking.NewExecutor(store, fakeSessions{auto: fakeAutomation{ok: true}}, notifier, policy, logx.Logger{})
	exec.SetNow(func() time.Time { return fixedNow })

	triggers := trigger.New(trigger.Config{}, logx.Logger{})
	r := New(store, policy, exec, notifier, adapter, triggers, owner, logx.Logger{})
	return &fixture{store: store, notifier: notifier, adapter: adapter, router: r}
}

func msg(text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{FromID: owner, ChatID: owner, Text: text}}
}

func callback(data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", FromID: owner, ChatID: owner, MessageID: 1, Data: data}}
}

func TestIgnoresStrangers(t *testing.T) {
	f := newFixture(t)

	f.router.dispatch(context.Background(), kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{FromID: 999, Text: "/start"},
	})
	f.router.dispatch(context.Background(), kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{FromID: 999, Data: "sched:cancel:1"},
	})

	if len(f.notifier.sends) != 0 || len(f.adapter.acks) != 0 {
		t.Fatalf("stranger got a response: sends=%v acks=%v", f.notifier.sends, f.adapter.acks)
	}
}

func TestHelpAndUnknown(t *testing.T) {
	f := newFixture(t)

	f.router.dispatch(context.Background(), msg("/start"))
	f.router.dispatch(context.Background(), msg("/frobnicate"))

	if len(f.notifier.sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(f.notifier.sends))
	}
	if !strings.Contains(f.notifier.sends[0], "/courses") {
		t.Fatalf("help text = %q", f.notifier.sends[0])
	}
	if !strings.Contains(f.notifier.sends[1], "Unknown command") {
		t.Fatalf("unknown reply = %q", f.notifier.sends[1])
	}
}

func TestBookOutsideWindowSchedules(t *testing.T) {
	f := newFixture(t)
	f.store.courses[1] = booking.Course{ID: 1, Name: "Yoga", Weekday: time.Monday, TimeStart: "18:00"}

	f.router.dispatch(context.Background(), msg("/book 1"))

	if len(f.store.scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(f.store.scheduled))
	}
	if len(f.notifier.sends) != 1 || !strings.Contains(f.notifier.sends[0], "automatically") {
		t.Fatalf("reply = %v", f.notifier.sends)
	}
}

func TestBookInsideWindowBooksNow(t *testing.T) {
	f := newFixture(t)
	// Next Thursday is two days out, inside the horizon.
	f.store.courses[1] = booking.Course{ID: 1, Name: "Spinning", Weekday: time.Thursday, TimeStart: "19:00"}

	f.router.dispatch(context.Background(), msg("/book 1"))

	if len(f.store.scheduled) != 0 {
		t.Fatalf("scheduled = %d, want 0", len(f.store.scheduled))
	}
	if len(f.store.mirror) != 1 {
		t.Fatalf("mirror = %d, want 1", len(f.store.mirror))
	}
	if len(f.notifier.sends) != 1 || !strings.Contains(f.notifier.sends[0], "right away") {
		t.Fatalf("reply = %v", f.notifier.sends)
	}
}

func TestBookUnknownCourse(t *testing.T) {
	f := newFixture(t)

	f.router.dispatch(context.Background(), msg("/book 7"))

	if len(f.notifier.sends) != 1 || !strings.Contains(f.notifier.sends[0], "No course") {
		t.Fatalf("reply = %v", f.notifier.sends)
	}
}

func TestAddPeriodic(t *testing.T) {
	f := newFixture(t)
	f.store.courses[1] = booking.Course{ID: 1, Name: "Yoga", Weekday: time.Monday, TimeStart: "18:00"}

	f.router.dispatch(context.Background(), msg("/addperiodic 1 confirm"))

	if len(f.store.periodic) != 1 {
		t.Fatalf("periodic = %d, want 1", len(f.store.periodic))
	}
	for _, b := range f.store.periodic {
		if !b.RequiresConfirmation || b.ConfirmHoursBefore != 5 {
			t.Fatalf("template = %+v", b)
		}
	}
	if !strings.Contains(f.notifier.sends[0], "Every Monday") {
		t.Fatalf("reply = %q", f.notifier.sends[0])
	}
}

func TestCancelScheduledCallback(t *testing.T) {
	f := newFixture(t)
	f.store.scheduled[5] = &booking.ScheduledBooking{ID: 5, Status: booking.ScheduledPending}
	f.store.nextID = 5

	f.router.dispatch(context.Background(), callback("sched:cancel:5"))

	if f.store.scheduled[5].Status != booking.ScheduledCancelled {
		t.Fatalf("status = %v, want cancelled", f.store.scheduled[5].Status)
	}
	if len(f.adapter.acks) != 1 || f.adapter.acks[0] != "Cancelled" {
		t.Fatalf("acks = %v", f.adapter.acks)
	}
}

func TestConfirmCallback(t *testing.T) {
	f := newFixture(t)
	f.store.courses[1] = booking.Course{ID: 1, Name: "Yoga", Weekday: time.Monday, TimeStart: "18:00"}
	f.store.periodic[2] = &booking.PeriodicBooking{ID: 2, UserID: owner, Course: f.store.courses[1], Active: true}
	sched := int64(3)
	f.store.scheduled[3] = &booking.ScheduledBooking{ID: 3, Status: booking.ScheduledPending}
	f.store.confirms[4] = &booking.PendingConfirmation{
		ID: 4, UserID: owner, PeriodicID: 2, ScheduledID: &sched,
		TargetDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:     booking.ConfirmationPending,
	}
	f.store.nextID = 4

	f.router.dispatch(context.Background(), callback("booking:confirm:4"))

	if f.store.confirms[4].Status != booking.ConfirmationConfirmed {
		t.Fatalf("confirmation status = %v", f.store.confirms[4].Status)
	}
	if f.store.scheduled[3].Status != booking.ScheduledCompleted {
		t.Fatalf("scheduled status = %v", f.store.scheduled[3].Status)
	}
	if len(f.adapter.acks) != 1 || f.adapter.acks[0] != "Booked ✅" {
		t.Fatalf("acks = %v", f.adapter.acks)
	}
	if len(f.notifier.edits) != 1 {
		t.Fatalf("edits = %v", f.notifier.edits)
	}
}

func TestRejectedConfirmAnswersWithReason(t *testing.T) {
	f := newFixture(t)
	f.store.confirms[4] = &booking.PendingConfirmation{ID: 4, Status: booking.ConfirmationRejected}

	f.router.dispatch(context.Background(), callback("booking:confirm:4"))

	if len(f.adapter.acks) != 1 || f.adapter.acks[0] != "Already settled." {
		t.Fatalf("acks = %v", f.adapter.acks)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in, cmd, arg string
	}{
		{"/book 5", "/book", "5"},
		{"/BOOK  5 ", "/book", "5"},
		{"/status@sportbot", "/status", ""},
		{"hello", "", "hello"},
		{"", "", ""},
	}
	for _, tt := range tests {
		cmd, arg := splitCommand(tt.in)
		if cmd != tt.cmd || arg != tt.arg {
			t.Errorf("splitCommand(%q) = %q, %q; want %q, %q", tt.in, cmd, arg, tt.cmd, tt.arg)
		}
	}
}

func TestSplitCallback(t *testing.T) {
	tests := []struct {
		in     string
		action string
		id     int64
		ok     bool
	}{
		{"booking:confirm:12", "booking:confirm", 12, true},
		{"sched:cancel:3", "sched:cancel", 3, true},
		{"garbage", "", 0, false},
		{"a:b", "", 0, false},
		{":5", "", 0, false},
	}
	for _, tt := range tests {
		action, id, ok := splitCallback(tt.in)
		if action != tt.action || id != tt.id || ok != tt.ok {
			t.Errorf("splitCallback(%q) = %q, %d, %v; want %q, %d, %v", tt.in, action, id, ok, tt.action, tt.id, tt.ok)
		}
	}
}
