package booking

import (
	"context"
	"fmt"
	"math"
	"time"

	logx "sportbot/pkg/logx"
)

// advanceDays is the portal's advance-booking horizon: a slot opens for
// reservation at midnight this many days before the course date.
const advanceDays = 2

// Defaults carries the per-install confirmation offsets applied when a
// periodic booking is created without explicit values.
type Defaults struct {
	ConfirmHoursBefore int
	CancelHoursBefore  int
}

func (d Defaults) withFallback() Defaults {
	if d.ConfirmHoursBefore <= 0 {
		d.ConfirmHoursBefore = 5
	}
	if d.CancelHoursBefore <= 0 {
		d.CancelHoursBefore = 1
	}
	return d
}

// Mode describes how a booking request should run.
type Mode string

const (
	ModeInstant   Mode = "instant"   // target date inside the advance horizon; book now
	ModeScheduled Mode = "scheduled" // deferred to execution_time
)

// Policy computes target dates and eligibility windows and creates the
// scheduling records the executor later consumes.
type Policy struct {
	store    Store
	log      logx.Logger
	defaults Defaults
	loc      *time.Location

	now func() time.Time
}

func NewPolicy(store Store, log logx.Logger, defaults Defaults, loc *time.Location) *Policy {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Policy{
		store:    store,
		log:      log,
		defaults: defaults.withFallback(),
		loc:      loc,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (p *Policy) SetNow(now func() time.Time) { p.now = now }

func (p *Policy) midnight(t time.Time) time.Time {
	t = t.In(p.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, p.loc)
}

// NextOccurrence returns the next date (at midnight) whose weekday matches w.
// When today already matches, it returns next week's date, never today: a slot
// today may already have started.
func (p *Policy) NextOccurrence(w time.Weekday) time.Time {
	today := p.midnight(p.now())
	ahead := (int(w) - int(today.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead)
}

// IsInstantWindow reports whether date falls inside the portal's advance
// horizon, i.e. it can be booked right now.
func (p *Policy) IsInstantWindow(date time.Time) bool {
	days := daysBetween(p.midnight(p.now()), p.midnight(date))
	return days >= 0 && days <= advanceDays
}

// ExecutionTime returns when a deferred booking for target must run:
// midnight, advanceDays before the course date.
func (p *Policy) ExecutionTime(target time.Time) time.Time {
	return p.midnight(target).AddDate(0, 0, -advanceDays)
}

// CourseStart resolves the concrete start datetime of course on date.
func (p *Policy) CourseStart(course Course, date time.Time) (time.Time, error) {
	h, m, err := ParseClock(course.TimeStart)
	if err != nil {
		return time.Time{}, err
	}
	d := p.midnight(date)
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, p.loc), nil
}

// SuggestMode picks instant vs scheduled for the next occurrence of w.
func (p *Policy) SuggestMode(w time.Weekday) Mode {
	if p.IsInstantWindow(p.NextOccurrence(w)) {
		return ModeInstant
	}
	return ModeScheduled
}

// CreateScheduledBooking persists a pending deferred booking for course.
// A nil target resolves to the next occurrence of the course weekday.
func (p *Policy) CreateScheduledBooking(ctx context.Context, userID int64, course Course, target *time.Time) (ScheduledBooking, error) {
	var date time.Time
	if target != nil {
		date = p.midnight(*target)
	} else {
		date = p.NextOccurrence(course.Weekday)
	}

	if date.Before(p.midnight(p.now())) {
		return ScheduledBooking{}, &ValidationError{Field: "target_date", Reason: fmt.Sprintf("%s is in the past", date.Format("2006-01-02"))}
	}

	exists, err := p.store.HasScheduledBooking(ctx, userID, course.ID, date)
	if err != nil {
		return ScheduledBooking{}, persistErr("has scheduled booking", err)
	}
	if exists {
		return ScheduledBooking{}, &ValidationError{Field: "target_date", Reason: fmt.Sprintf("already scheduled for %s", date.Format("2006-01-02"))}
	}

	b := ScheduledBooking{
		UserID:        userID,
		Course:        course,
		TargetDate:    date,
		ExecutionTime: p.ExecutionTime(date),
		Status:        ScheduledPending,
	}
	id, err := p.store.AddScheduledBooking(ctx, b)
	if err != nil {
		return ScheduledBooking{}, persistErr("add scheduled booking", err)
	}
	b.ID = id
	p.log.Info("scheduled booking created",
		logx.Int64("id", id),
		logx.String("course", course.Name),
		logx.Time("target", date),
		logx.Time("execute_at", b.ExecutionTime))
	return b, nil
}

// CancelScheduledBooking marks a pending booking cancelled. Terminal bookings
// are refused with ErrInvalidState.
func (p *Policy) CancelScheduledBooking(ctx context.Context, id int64) error {
	if err := p.store.SetScheduledStatus(ctx, id, ScheduledCancelled); err != nil {
		return persistErr("cancel scheduled booking", err)
	}
	p.log.Info("scheduled booking cancelled", logx.Int64("id", id))
	return nil
}

// CreatePeriodicBooking persists an active weekly template. Zero offsets take
// the configured defaults; the confirm offset must be strictly greater than
// the cancel offset so the two deadlines stay ordered.
func (p *Policy) CreatePeriodicBooking(ctx context.Context, userID int64, course Course, requiresConfirmation bool, confirmHours, cancelHours int) (PeriodicBooking, error) {
	if confirmHours == 0 {
		confirmHours = p.defaults.ConfirmHoursBefore
	}
	if cancelHours == 0 {
		cancelHours = p.defaults.CancelHoursBefore
	}
	if cancelHours < 1 {
		return PeriodicBooking{}, &ValidationError{Field: "cancel_hours_before", Reason: "must be at least 1"}
	}
	if confirmHours <= cancelHours {
		return PeriodicBooking{}, &ValidationError{
			Field:  "confirmation_hours_before",
			Reason: fmt.Sprintf("must be greater than cancel_hours_before (%d <= %d)", confirmHours, cancelHours),
		}
	}

	b := PeriodicBooking{
		UserID:               userID,
		Course:               course,
		RequiresConfirmation: requiresConfirmation,
		ConfirmHoursBefore:   confirmHours,
		CancelHoursBefore:    cancelHours,
		Active:               true,
	}
	id, err := p.store.AddPeriodicBooking(ctx, b)
	if err != nil {
		return PeriodicBooking{}, persistErr("add periodic booking", err)
	}
	b.ID = id
	p.log.Info("periodic booking created",
		logx.Int64("id", id),
		logx.String("course", course.Name),
		logx.Bool("requires_confirmation", requiresConfirmation))
	return b, nil
}

// TogglePeriodicBooking enables or disables a template.
func (p *Policy) TogglePeriodicBooking(ctx context.Context, id int64, active bool) error {
	if err := p.store.SetPeriodicActive(ctx, id, active); err != nil {
		return persistErr("toggle periodic booking", err)
	}
	p.log.Info("periodic booking toggled", logx.Int64("id", id), logx.Bool("active", active))
	return nil
}

// DeletePeriodicBooking removes a template. Already-spawned scheduled bookings
// are left alone; cancel them individually if needed.
func (p *Policy) DeletePeriodicBooking(ctx context.Context, id int64) error {
	if err := p.store.DeletePeriodicBooking(ctx, id); err != nil {
		return persistErr("delete periodic booking", err)
	}
	p.log.Info("periodic booking deleted", logx.Int64("id", id))
	return nil
}

// WeeklyPlan reports what one processing pass created, for auditing and tests.
type WeeklyPlan struct {
	Scheduled     []ScheduledBooking
	Confirmations []PendingConfirmation
}

// ProcessPeriodicBookingsForWeek walks every active template and, when the
// next occurrence is not instantly bookable, spawns a pending scheduled
// booking (plus a confirmation record when the template requires one).
//
// The pass is idempotent: a template whose (user, course, date) already has a
// scheduled booking is skipped, so running it twice in the same week creates
// nothing new.
func (p *Policy) ProcessPeriodicBookingsForWeek(ctx context.Context) (WeeklyPlan, error) {
	var plan WeeklyPlan

	active, err := p.store.ActivePeriodicBookings(ctx)
	if err != nil {
		return plan, persistErr("list active periodic bookings", err)
	}

	for _, periodic := range active {
		next := p.NextOccurrence(periodic.Course.Weekday)

		if p.IsInstantWindow(next) {
			// Inside the horizon there is nothing to defer; the user can book
			// immediately and the next pass picks up the following week.
			p.log.Debug("periodic occurrence inside instant window, skipping",
				logx.Int64("periodic_id", periodic.ID), logx.Time("date", next))
			continue
		}

		exists, err := p.store.HasScheduledBooking(ctx, periodic.UserID, periodic.Course.ID, next)
		if err != nil {
			return plan, persistErr("has scheduled booking", err)
		}
		if exists {
			continue
		}

		sched := ScheduledBooking{
			UserID:        periodic.UserID,
			Course:        periodic.Course,
			TargetDate:    next,
			ExecutionTime: p.ExecutionTime(next),
			Status:        ScheduledPending,
		}
		schedID, err := p.store.AddScheduledBooking(ctx, sched)
		if err != nil {
			return plan, persistErr("add scheduled booking", err)
		}
		sched.ID = schedID
		plan.Scheduled = append(plan.Scheduled, sched)

		if periodic.RequiresConfirmation {
			conf, err := p.confirmationFor(ctx, periodic, schedID, next)
			if err != nil {
				return plan, err
			}
			plan.Confirmations = append(plan.Confirmations, conf)
		}

		if err := p.store.TouchPeriodicExecuted(ctx, periodic.ID, p.now()); err != nil {
			return plan, persistErr("touch periodic booking", err)
		}
	}

	p.log.Info("periodic bookings processed",
		logx.Int("active", len(active)),
		logx.Int("scheduled", len(plan.Scheduled)),
		logx.Int("confirmations", len(plan.Confirmations)))
	return plan, nil
}

func (p *Policy) confirmationFor(ctx context.Context, periodic PeriodicBooking, scheduledID int64, target time.Time) (PendingConfirmation, error) {
	start, err := p.CourseStart(periodic.Course, target)
	if err != nil {
		return PendingConfirmation{}, err
	}

	schedID := scheduledID
	conf := PendingConfirmation{
		UserID:          periodic.UserID,
		PeriodicID:      periodic.ID,
		ScheduledID:     &schedID,
		TargetDate:      target,
		ConfirmDeadline: start.Add(-time.Duration(periodic.ConfirmHoursBefore) * time.Hour),
		CancelDeadline:  start.Add(-time.Duration(periodic.CancelHoursBefore) * time.Hour),
		Status:          ConfirmationPending,
	}
	id, err := p.store.AddPendingConfirmation(ctx, conf)
	if err != nil {
		return PendingConfirmation{}, persistErr("add pending confirmation", err)
	}
	conf.ID = id
	p.log.Info("confirmation created",
		logx.Int64("id", id),
		logx.Int64("scheduled_id", scheduledID),
		logx.Time("confirm_deadline", conf.ConfirmDeadline),
		logx.Time("cancel_deadline", conf.CancelDeadline))
	return conf, nil
}

// daysBetween counts calendar days from a to b, both at midnight. Rounding
// absorbs DST-shortened or -lengthened days.
func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
