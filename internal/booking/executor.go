package booking

import (
	"context"
	"fmt"
	"time"

	logx "sportbot/pkg/logx"
)

// Executor consumes the records the Policy produced and drives their state
// transitions: it runs due scheduled bookings against the portal, sends
// confirmation prompts, auto-cancels unconfirmed ones, and handles the
// user's confirm/reject decisions.
//
// All automation calls inside one tick share the single portal session, so
// every entry point processes its due items strictly one at a time.
type Executor struct {
	store    Store
	sessions SessionSource
	notifier Notifier
	policy   *Policy
	log      logx.Logger

	now func() time.Time
}

func NewExecutor(store Store, sessions SessionSource, notifier Notifier, policy *Policy, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		store:    store,
		sessions: sessions,
		notifier: notifier,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (e *Executor) SetNow(now func() time.Time) { e.now = now }

// ExecutePendingScheduledBookings runs every pending booking whose
// execution_time has elapsed, in ascending execution_time order.
//
// A failed attempt marks the booking failed and moves on; there is no
// automatic retry of a failed booking. A session that cannot be acquired at
// all leaves every item pending for the next tick.
func (e *Executor) ExecutePendingScheduledBookings(ctx context.Context) error {
	due, err := e.store.DueScheduledBookings(ctx, e.now())
	if err != nil {
		return persistErr("due scheduled bookings", err)
	}
	if len(due) == 0 {
		e.log.Debug("no scheduled bookings due")
		return nil
	}
	e.log.Info("executing scheduled bookings", logx.Int("due", len(due)))

	auto, release, err := e.sessions.Acquire(ctx)
	if err != nil {
		// Items stay pending; the next tick retries with a fresh session.
		return &AutomationError{Op: "acquire session", Err: err}
	}
	defer release()

	for _, b := range due {
		if err := e.executeOne(ctx, auto, b); err != nil {
			if IsPersistence(err) {
				return err
			}
			// Item-scoped failure: already recorded and notified, keep going.
			e.log.Warn("scheduled booking failed", logx.Int64("id", b.ID), logx.Err(err))
		}
	}
	return nil
}

func (e *Executor) executeOne(ctx context.Context, auto Automation, b ScheduledBooking) error {
	e.log.Info("executing booking",
		logx.Int64("id", b.ID),
		logx.String("course", b.Course.Name),
		logx.Time("target", b.TargetDate))

	ok, attemptErr := auto.AttemptBooking(ctx, b.Course, b.TargetDate)
	if attemptErr != nil || !ok {
		if err := e.store.SetScheduledStatus(ctx, b.ID, ScheduledFailed); err != nil {
			return persistErr("mark booking failed", err)
		}
		e.notify(ctx, b.UserID, failureText(b))
		if attemptErr != nil {
			return &AutomationError{Op: "attempt booking", Err: attemptErr}
		}
		return &AutomationError{Op: "attempt booking", Err: fmt.Errorf("portal refused %s on %s", b.Course.Name, b.TargetDate.Format("2006-01-02"))}
	}

	if err := e.store.SetScheduledStatus(ctx, b.ID, ScheduledCompleted); err != nil {
		return persistErr("mark booking completed", err)
	}
	e.recordMirror(ctx, b)
	e.notify(ctx, b.UserID, successText(b))
	e.log.Info("booking completed", logx.Int64("id", b.ID))
	return nil
}

// ProcessPendingConfirmations handles both halves of the confirmation window
// in one pass: prompts whose confirmation deadline has arrived are sent, and
// prompts whose cancel deadline elapsed without an answer are auto-cancelled.
func (e *Executor) ProcessPendingConfirmations(ctx context.Context) error {
	now := e.now()
	list, err := e.store.ConfirmationsNeedingAction(ctx, now)
	if err != nil {
		return persistErr("confirmations needing action", err)
	}
	if len(list) == 0 {
		e.log.Debug("no confirmations need action")
		return nil
	}

	for _, c := range list {
		var itemErr error
		if !now.Before(c.CancelDeadline) {
			itemErr = e.autoCancel(ctx, c)
		} else if c.Message == nil {
			itemErr = e.sendPrompt(ctx, c)
		}
		if itemErr != nil {
			if IsPersistence(itemErr) {
				return itemErr
			}
			e.log.Warn("confirmation processing failed", logx.Int64("id", c.ID), logx.Err(itemErr))
		}
	}
	return nil
}

func (e *Executor) sendPrompt(ctx context.Context, c PendingConfirmation) error {
	periodic, err := e.store.PeriodicBookingByID(ctx, c.PeriodicID)
	if err != nil {
		return persistErr("load periodic booking", err)
	}

	text := promptText(periodic.Course, c.TargetDate, c.CancelDeadline)
	buttons := [][]Button{{
		{Label: "✅ Confirm", Data: fmt.Sprintf("booking:confirm:%d", c.ID)},
		{Label: "❌ Reject", Data: fmt.Sprintf("booking:reject:%d", c.ID)},
	}}

	handle, err := e.notifier.Send(ctx, c.UserID, text, buttons)
	if err != nil {
		// Leave Message nil; the next tick resends.
		return fmt.Errorf("send confirmation prompt: %w", err)
	}
	if err := e.store.SetConfirmationMessage(ctx, c.ID, handle); err != nil {
		return persistErr("store confirmation message", err)
	}
	e.log.Info("confirmation prompt sent", logx.Int64("id", c.ID), logx.Int64("user", c.UserID))
	return nil
}

func (e *Executor) autoCancel(ctx context.Context, c PendingConfirmation) error {
	if err := e.store.SetConfirmationStatus(ctx, c.ID, ConfirmationAutoCancelled); err != nil {
		return persistErr("mark confirmation auto-cancelled", err)
	}
	if c.ScheduledID != nil {
		if err := e.cancelLinkedScheduled(ctx, *c.ScheduledID); err != nil {
			return err
		}
	}

	text := autoCancelText(c.TargetDate)
	if c.Message != nil {
		if err := e.notifier.Edit(ctx, *c.Message, text, nil); err != nil {
			e.log.Warn("edit of auto-cancel prompt failed", logx.Int64("id", c.ID), logx.Err(err))
		}
	} else {
		e.notify(ctx, c.UserID, text)
	}
	e.log.Info("confirmation auto-cancelled", logx.Int64("id", c.ID))
	return nil
}

// ConfirmBooking is user-triggered: it books immediately, bypassing the
// stored execution_time. The confirmation flips to confirmed only when the
// portal attempt succeeds; on failure it stays pending so the user can retry
// until the cancel deadline.
func (e *Executor) ConfirmBooking(ctx context.Context, confirmationID int64) error {
	c, err := e.store.PendingConfirmationByID(ctx, confirmationID)
	if err != nil {
		return persistErr("load confirmation", err)
	}
	if c.Status != ConfirmationPending {
		return fmt.Errorf("confirmation %d is %s: %w", confirmationID, c.Status, ErrInvalidState)
	}

	periodic, err := e.store.PeriodicBookingByID(ctx, c.PeriodicID)
	if err != nil {
		return persistErr("load periodic booking", err)
	}

	auto, release, err := e.sessions.Acquire(ctx)
	if err != nil {
		return &AutomationError{Op: "acquire session", Err: err}
	}
	defer release()

	ok, err := auto.AttemptBooking(ctx, periodic.Course, c.TargetDate)
	if err != nil {
		return &AutomationError{Op: "attempt booking", Err: err}
	}
	if !ok {
		return &AutomationError{Op: "attempt booking", Err: fmt.Errorf("portal refused %s on %s", periodic.Course.Name, c.TargetDate.Format("2006-01-02"))}
	}

	if err := e.store.SetConfirmationStatus(ctx, c.ID, ConfirmationConfirmed); err != nil {
		return persistErr("mark confirmation confirmed", err)
	}
	if c.ScheduledID != nil {
		if err := e.store.SetScheduledStatus(ctx, *c.ScheduledID, ScheduledCompleted); err != nil {
			return persistErr("mark booking completed", err)
		}
	}
	e.recordMirror(ctx, ScheduledBooking{UserID: c.UserID, Course: periodic.Course, TargetDate: c.TargetDate})
	e.log.Info("booking confirmed", logx.Int64("confirmation_id", c.ID))
	return nil
}

// RejectBooking marks the confirmation rejected and cancels the linked
// scheduled booking so the executor never attempts it.
func (e *Executor) RejectBooking(ctx context.Context, confirmationID int64) error {
	c, err := e.store.PendingConfirmationByID(ctx, confirmationID)
	if err != nil {
		return persistErr("load confirmation", err)
	}
	if c.Status != ConfirmationPending {
		return fmt.Errorf("confirmation %d is %s: %w", confirmationID, c.Status, ErrInvalidState)
	}

	if err := e.store.SetConfirmationStatus(ctx, c.ID, ConfirmationRejected); err != nil {
		return persistErr("mark confirmation rejected", err)
	}
	if c.ScheduledID != nil {
		if err := e.cancelLinkedScheduled(ctx, *c.ScheduledID); err != nil {
			return err
		}
	}
	e.log.Info("booking rejected", logx.Int64("confirmation_id", c.ID))
	return nil
}

// ExecuteInstant books course for date right now: the date is inside the
// portal's advance horizon, so there is nothing to defer.
func (e *Executor) ExecuteInstant(ctx context.Context, userID int64, course Course, date time.Time) error {
	if !e.policy.IsInstantWindow(date) {
		return &ValidationError{Field: "target_date", Reason: fmt.Sprintf("%s is outside the instant booking window", date.Format("2006-01-02"))}
	}

	auto, release, err := e.sessions.Acquire(ctx)
	if err != nil {
		return &AutomationError{Op: "acquire session", Err: err}
	}
	defer release()

	ok, err := auto.AttemptBooking(ctx, course, date)
	if err != nil {
		return &AutomationError{Op: "attempt booking", Err: err}
	}
	if !ok {
		return &AutomationError{Op: "attempt booking", Err: fmt.Errorf("portal refused %s on %s", course.Name, date.Format("2006-01-02"))}
	}

	e.recordMirror(ctx, ScheduledBooking{UserID: userID, Course: course, TargetDate: date})
	e.log.Info("instant booking completed", logx.String("course", course.Name), logx.Time("date", date))
	return nil
}

func (e *Executor) cancelLinkedScheduled(ctx context.Context, id int64) error {
	err := e.store.SetScheduledStatus(ctx, id, ScheduledCancelled)
	if err == nil {
		return nil
	}
	// The linked booking may already have run; that is not an error here.
	if IsPersistence(err) {
		return persistErr("cancel linked booking", err)
	}
	e.log.Debug("linked booking already terminal", logx.Int64("id", id), logx.Err(err))
	return nil
}

func (e *Executor) recordMirror(ctx context.Context, b ScheduledBooking) {
	_, err := e.store.AddUserBooking(ctx, UserBooking{
		UserID:      b.UserID,
		CourseName:  b.Course.Name,
		Location:    b.Course.Location,
		BookingDate: b.TargetDate,
		BookingTime: b.Course.TimeStart,
	})
	if err != nil {
		// The mirror is cosmetic; the portal booking already happened.
		e.log.Warn("booking mirror insert failed", logx.Err(err))
	}
}

func (e *Executor) notify(ctx context.Context, userID int64, text string) {
	if e.notifier == nil {
		return
	}
	if _, err := e.notifier.Send(ctx, userID, text, nil); err != nil {
		e.log.Warn("notification failed", logx.Int64("user", userID), logx.Err(err))
	}
}
