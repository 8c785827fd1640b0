package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store for the package tests. It mirrors the
// sqlite implementation's guarded status transitions.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	courses   map[int64]Course
	scheduled map[int64]*ScheduledBooking
	periodic  map[int64]*PeriodicBooking
	confirms  map[int64]*PendingConfirmation
	mirror    []UserBooking
}

func newMemStore() *memStore {
	return &memStore{
		courses:   map[int64]Course{},
		scheduled: map[int64]*ScheduledBooking{},
		periodic:  map[int64]*PeriodicBooking{},
		confirms:  map[int64]*PendingConfirmation{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) UpsertCourse(_ context.Context, c Course) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	m.courses[c.ID] = c
	return c.ID, nil
}

func (m *memStore) CourseByID(_ context.Context, id int64) (Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListCourses(_ context.Context, weekday *time.Weekday, fitCenter bool) ([]Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Course
	for _, c := range m.courses {
		if weekday != nil && c.Weekday != *weekday {
			continue
		}
		if fitCenter && !c.FitCenter {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) AddScheduledBooking(_ context.Context, b ScheduledBooking) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	m.scheduled[b.ID] = &b
	return b.ID, nil
}

func (m *memStore) ScheduledBookingByID(_ context.Context, id int64) (ScheduledBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.scheduled[id]
	if !ok {
		return ScheduledBooking{}, ErrNotFound
	}
	return *b, nil
}

func (m *memStore) ListScheduledBookings(_ context.Context, userID int64, status ScheduledStatus) ([]ScheduledBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduledBooking
	for _, b := range m.scheduled {
		if b.UserID != userID {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) DueScheduledBookings(_ context.Context, now time.Time) ([]ScheduledBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ScheduledBooking
	for _, b := range m.scheduled {
		if b.Status == ScheduledPending && !b.ExecutionTime.After(now) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionTime.Before(out[j].ExecutionTime) })
	return out, nil
}

func (m *memStore) HasScheduledBooking(_ context.Context, userID, courseID int64, targetDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.scheduled {
		// Any status claims the slot, mirroring the UNIQUE constraint in sqlite.
		if b.UserID == userID && b.Course.ID == courseID && b.TargetDate.Equal(targetDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SetScheduledStatus(_ context.Context, id int64, status ScheduledStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.scheduled[id]
	if !ok {
		return ErrNotFound
	}
	if b.Status.Terminal() {
		return fmt.Errorf("booking %d is %s: %w", id, b.Status, ErrInvalidState)
	}
	b.Status = status
	return nil
}

func (m *memStore) AddPeriodicBooking(_ context.Context, b PeriodicBooking) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	m.periodic[b.ID] = &b
	return b.ID, nil
}

func (m *memStore) PeriodicBookingByID(_ context.Context, id int64) (PeriodicBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.periodic[id]
	if !ok {
		return PeriodicBooking{}, ErrNotFound
	}
	return *b, nil
}

func (m *memStore) ListPeriodicBookings(_ context.Context, userID int64, activeOnly bool) ([]PeriodicBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PeriodicBooking
	for _, b := range m.periodic {
		if b.UserID != userID {
			continue
		}
		if activeOnly && !b.Active {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ActivePeriodicBookings(_ context.Context) ([]PeriodicBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PeriodicBooking
	for _, b := range m.periodic {
		if b.Active {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SetPeriodicActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.periodic[id]
	if !ok {
		return ErrNotFound
	}
	b.Active = active
	return nil
}

func (m *memStore) TouchPeriodicExecuted(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.periodic[id]
	if !ok {
		return ErrNotFound
	}
	b.LastExecuted = &at
	return nil
}

func (m *memStore) DeletePeriodicBooking(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periodic[id]; !ok {
		return ErrNotFound
	}
	delete(m.periodic, id)
	return nil
}

func (m *memStore) AddPendingConfirmation(_ context.Context, c PendingConfirmation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	m.confirms[c.ID] = &c
	return c.ID, nil
}

func (m *memStore) PendingConfirmationByID(_ context.Context, id int64) (PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirms[id]
	if !ok {
		return PendingConfirmation{}, ErrNotFound
	}
	return *c, nil
}

func (m *memStore) ListPendingConfirmations(_ context.Context, userID int64, status ConfirmationStatus) ([]PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingConfirmation
	for _, c := range m.confirms {
		if c.UserID != userID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ConfirmationsNeedingAction(_ context.Context, now time.Time) ([]PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingConfirmation
	for _, c := range m.confirms {
		if c.Status != ConfirmationPending {
			continue
		}
		needsPrompt := c.Message == nil && !now.Before(c.ConfirmDeadline)
		needsCancel := !now.Before(c.CancelDeadline)
		if needsPrompt || needsCancel {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfirmDeadline.Before(out[j].ConfirmDeadline) })
	return out, nil
}

func (m *memStore) SetConfirmationStatus(_ context.Context, id int64, status ConfirmationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirms[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status.Terminal() {
		return fmt.Errorf("confirmation %d is %s: %w", id, c.Status, ErrInvalidState)
	}
	c.Status = status
	return nil
}

func (m *memStore) SetConfirmationMessage(_ context.Context, id int64, h MessageHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirms[id]
	if !ok {
		return ErrNotFound
	}
	c.Message = &h
	return nil
}

func (m *memStore) AddUserBooking(_ context.Context, b UserBooking) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = m.id()
	m.mirror = append(m.mirror, b)
	return b.ID, nil
}

func (m *memStore) ListUserBookings(_ context.Context, userID int64) ([]UserBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UserBooking
	for _, b := range m.mirror {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

// fakeAutomation records attempts and answers from a script.
type fakeAutomation struct {
	mu       sync.Mutex
	attempts []attempt
	ok       bool
	err      error
	// perCourse overrides the default answer for specific course IDs.
	perCourse map[int64]bool
}

type attempt struct {
	courseID int64
	date     time.Time
}

func (f *fakeAutomation) AttemptBooking(_ context.Context, course Course, date time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt{courseID: course.ID, date: date})
	if f.err != nil {
		return false, f.err
	}
	if ok, found := f.perCourse[course.ID]; found {
		return ok, nil
	}
	return f.ok, nil
}

// fakeSessions hands out one fakeAutomation and counts acquire/release pairs.
type fakeSessions struct {
	auto     *fakeAutomation
	err      error
	acquired int
	released int
}

func (f *fakeSessions) Acquire(context.Context) (Automation, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.acquired++
	return f.auto, func() { f.released++ }, nil
}

// fakeNotifier records sends and edits.
type fakeNotifier struct {
	mu     sync.Mutex
	nextID int
	sends  []sentMessage
	edits  []sentMessage
	err    error
}

type sentMessage struct {
	userID  int64
	text    string
	buttons [][]Button
	handle  MessageHandle
}

func (f *fakeNotifier) Send(_ context.Context, userID int64, text string, buttons [][]Button) (MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return MessageHandle{}, f.err
	}
	f.nextID++
	h := MessageHandle{ChatID: userID, MessageID: f.nextID}
	f.sends = append(f.sends, sentMessage{userID: userID, text: text, buttons: buttons, handle: h})
	return h, nil
}

func (f *fakeNotifier) Edit(_ context.Context, h MessageHandle, text string, buttons [][]Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.edits = append(f.edits, sentMessage{userID: h.ChatID, text: text, buttons: buttons, handle: h})
	return nil
}
