package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Course is one bookable slot in the portal catalog: a weekly recurring
// (weekday, time range) at a location. Fit-center slots live in the same
// catalog but are booked through a different portal section.
type Course struct {
	ID        int64
	Name      string
	Location  string
	Weekday   time.Weekday
	TimeStart string // "HH:MM"
	TimeEnd   string // "HH:MM"
	FitCenter bool
}

func (c Course) String() string {
	return fmt.Sprintf("%s %s %s-%s @ %s", c.Name, c.Weekday, c.TimeStart, c.TimeEnd, c.Location)
}

// ScheduledStatus is the lifecycle of a deferred booking attempt.
// pending is the only non-terminal state; transitions are forward-only.
type ScheduledStatus string

const (
	ScheduledPending   ScheduledStatus = "pending"
	ScheduledCompleted ScheduledStatus = "completed"
	ScheduledFailed    ScheduledStatus = "failed"
	ScheduledCancelled ScheduledStatus = "cancelled"
)

func (s ScheduledStatus) Terminal() bool { return s != ScheduledPending }

// ConfirmationStatus is the lifecycle of a confirmation prompt.
type ConfirmationStatus string

const (
	ConfirmationPending       ConfirmationStatus = "pending"
	ConfirmationConfirmed     ConfirmationStatus = "confirmed"
	ConfirmationRejected      ConfirmationStatus = "rejected"
	ConfirmationAutoCancelled ConfirmationStatus = "auto_cancelled"
)

func (s ConfirmationStatus) Terminal() bool { return s != ConfirmationPending }

// ScheduledBooking is a deferred reservation: it executes automatically at
// ExecutionTime (midnight two days before TargetDate, when the portal opens
// the slot).
type ScheduledBooking struct {
	ID            int64
	UserID        int64
	Course        Course
	TargetDate    time.Time // date at midnight
	ExecutionTime time.Time
	Status        ScheduledStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PeriodicBooking is a weekly template that spawns scheduled bookings.
type PeriodicBooking struct {
	ID                   int64
	UserID               int64
	Course               Course
	RequiresConfirmation bool
	ConfirmHoursBefore   int
	CancelHoursBefore    int
	Active               bool
	LastExecuted         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// MessageHandle references a sent chat message so it can be edited later.
type MessageHandle struct {
	ChatID    int64
	MessageID int
}

// PendingConfirmation tracks a confirm/reject prompt for one spawned booking.
// Message stays nil until the prompt has actually been sent.
type PendingConfirmation struct {
	ID              int64
	UserID          int64
	PeriodicID      int64
	ScheduledID     *int64
	TargetDate      time.Time // date at midnight
	ConfirmDeadline time.Time
	CancelDeadline  time.Time
	Message         *MessageHandle
	Status          ConfirmationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// UserBooking mirrors a reservation that was actually placed on the portal,
// for the "my bookings" listing.
type UserBooking struct {
	ID          int64
	UserID      int64
	CourseName  string
	Location    string
	BookingDate time.Time
	BookingTime string
	CreatedAt   time.Time
}

// Store is the persistence contract the orchestration core relies on.
// Implementations must make DueScheduledBookings / ConfirmationsNeedingAction
// return items in ascending deadline order.
type Store interface {
	// Catalog.
	UpsertCourse(ctx context.Context, c Course) (int64, error)
	CourseByID(ctx context.Context, id int64) (Course, error)
	ListCourses(ctx context.Context, weekday *time.Weekday, fitCenter bool) ([]Course, error)

	// Scheduled bookings.
	AddScheduledBooking(ctx context.Context, b ScheduledBooking) (int64, error)
	ScheduledBookingByID(ctx context.Context, id int64) (ScheduledBooking, error)
	ListScheduledBookings(ctx context.Context, userID int64, status ScheduledStatus) ([]ScheduledBooking, error)
	DueScheduledBookings(ctx context.Context, now time.Time) ([]ScheduledBooking, error)
	HasScheduledBooking(ctx context.Context, userID, courseID int64, targetDate time.Time) (bool, error)
	// SetScheduledStatus moves a pending booking into a new state. It fails
	// with ErrInvalidState when the booking is already terminal.
	SetScheduledStatus(ctx context.Context, id int64, status ScheduledStatus) error

	// Periodic bookings.
	AddPeriodicBooking(ctx context.Context, b PeriodicBooking) (int64, error)
	PeriodicBookingByID(ctx context.Context, id int64) (PeriodicBooking, error)
	ListPeriodicBookings(ctx context.Context, userID int64, activeOnly bool) ([]PeriodicBooking, error)
	ActivePeriodicBookings(ctx context.Context) ([]PeriodicBooking, error)
	SetPeriodicActive(ctx context.Context, id int64, active bool) error
	TouchPeriodicExecuted(ctx context.Context, id int64, at time.Time) error
	DeletePeriodicBooking(ctx context.Context, id int64) error

	// Confirmations.
	AddPendingConfirmation(ctx context.Context, c PendingConfirmation) (int64, error)
	PendingConfirmationByID(ctx context.Context, id int64) (PendingConfirmation, error)
	ListPendingConfirmations(ctx context.Context, userID int64, status ConfirmationStatus) ([]PendingConfirmation, error)
	ConfirmationsNeedingAction(ctx context.Context, now time.Time) ([]PendingConfirmation, error)
	// SetConfirmationStatus fails with ErrInvalidState when the confirmation
	// is already terminal.
	SetConfirmationStatus(ctx context.Context, id int64, status ConfirmationStatus) error
	SetConfirmationMessage(ctx context.Context, id int64, h MessageHandle) error

	// Booking mirror.
	AddUserBooking(ctx context.Context, b UserBooking) (int64, error)
	ListUserBookings(ctx context.Context, userID int64) ([]UserBooking, error)
}

// Automation performs reservation attempts against the portal. Implementations
// own one authenticated session and are not safe for concurrent use; callers
// obtain them through a SessionSource.
type Automation interface {
	AttemptBooking(ctx context.Context, course Course, targetDate time.Time) (bool, error)
}

// SessionSource hands out the single portal session. Acquire blocks until the
// session is free, logs in, and returns a release func that must be called
// unconditionally when the tick is done.
type SessionSource interface {
	Acquire(ctx context.Context) (Automation, func(), error)
}

// Button is one inline action offered with a notification.
type Button struct {
	Label string
	Data  string
}

// Notifier delivers user-facing messages and returns a handle usable for
// later edits.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string, buttons [][]Button) (MessageHandle, error)
	Edit(ctx context.Context, h MessageHandle, text string, buttons [][]Button) error
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday", "sun":
		return time.Sunday, nil
	case "monday", "mon":
		return time.Monday, nil
	case "tuesday", "tue":
		return time.Tuesday, nil
	case "wednesday", "wed":
		return time.Wednesday, nil
	case "thursday", "thu":
		return time.Thursday, nil
	case "friday", "fri":
		return time.Friday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	}
	return 0, &ValidationError{Field: "weekday", Reason: fmt.Sprintf("unknown weekday %q", s)}
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (hour, minute int, err error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid clock time %q", s)}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("clock time %q out of range", s)}
	}
	return h, m, nil
}
