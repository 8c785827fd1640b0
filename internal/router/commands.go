package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sportbot/internal/booking"
)

const dateLayout = "Mon 02 Jan"

func (r *Router) sendHelp(ctx context.Context) error {
	return r.reply(ctx, strings.TrimSpace(`
🏋️ Sport booking bot

/courses [day] - browse the course catalog
/book <course id> - book the next occurrence
/addperiodic <course id> [confirm] - book it every week
/scheduled - pending scheduled bookings
/periodic - weekly booking templates
/mybookings - reservations already placed
/status - trigger schedule and health
`))
}

func (r *Router) sendCourses(ctx context.Context, arg string) error {
	var weekday *time.Weekday
	if arg != "" {
		wd, err := booking.ParseWeekday(arg)
		if err != nil {
			return r.reply(ctx, fmt.Sprintf("I don't know the day %q. Try /courses monday.", arg))
		}
		weekday = &wd
	}

	courses, err := r.store.ListCourses(ctx, weekday, false)
	if err != nil {
		return err
	}
	if len(courses) == 0 {
		return r.reply(ctx, "No courses in the catalog yet. The schedule sync runs daily.")
	}

	var sb strings.Builder
	sb.WriteString("📋 Courses\n")
	day := time.Weekday(-1)
	for _, c := range courses {
		if c.Weekday != day {
			day = c.Weekday
			fmt.Fprintf(&sb, "\n%s\n", day)
		}
		fmt.Fprintf(&sb, "  #%d %s %s", c.ID, c.TimeStart, c.Name)
		if c.Location != "" {
			fmt.Fprintf(&sb, " (%s)", c.Location)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nBook one with /book <id> or /addperiodic <id>.")
	return r.reply(ctx, sb.String())
}

func (r *Router) bookCourse(ctx context.Context, arg string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return r.reply(ctx, "Usage: /book <course id>, see /courses for the ids.")
	}
	return r.bookCourseByID(ctx, id)
}

// bookCourseByID books the next occurrence of the course: immediately when
// the portal already accepts the date, otherwise as a deferred booking that
// fires when the slot opens.
func (r *Router) bookCourseByID(ctx context.Context, id int64) error {
	course, err := r.store.CourseByID(ctx, id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return r.reply(ctx, fmt.Sprintf("No course #%d in the catalog.", id))
		}
		return err
	}

	next := r.policy.NextOccurrence(course.Weekday)
	if r.policy.SuggestMode(course.Weekday) == booking.ModeInstant {
		if err := r.exec.ExecuteInstant(ctx, r.ownerID, course, next); err != nil {
			return err
		}
		return r.reply(ctx, fmt.Sprintf("✅ Booked %s for %s right away.", course.Name, next.Format(dateLayout)))
	}

	b, err := r.policy.CreateScheduledBooking(ctx, r.ownerID, course, nil)
	if err != nil {
		return err
	}
	return r.reply(ctx, fmt.Sprintf(
		"⏳ %s on %s is not open yet. I'll book it automatically on %s at midnight.",
		course.Name, b.TargetDate.Format(dateLayout), b.ExecutionTime.Format(dateLayout)))
}

func (r *Router) addPeriodic(ctx context.Context, arg string) error {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return r.reply(ctx, "Usage: /addperiodic <course id> [confirm]")
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return r.reply(ctx, "Usage: /addperiodic <course id> [confirm]")
	}
	requiresConfirmation := len(fields) > 1 && strings.EqualFold(fields[1], "confirm")

	course, err := r.store.CourseByID(ctx, id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return r.reply(ctx, fmt.Sprintf("No course #%d in the catalog.", id))
		}
		return err
	}

	b, err := r.policy.CreatePeriodicBooking(ctx, r.ownerID, course, requiresConfirmation, 0, 0)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("🔁 Every %s: %s %s.", course.Weekday, course.TimeStart, course.Name)
	if b.RequiresConfirmation {
		text += fmt.Sprintf(" I'll ask for confirmation %dh before each session.", b.ConfirmHoursBefore)
	}
	return r.reply(ctx, text)
}

func (r *Router) sendScheduled(ctx context.Context) error {
	list, err := r.store.ListScheduledBookings(ctx, r.ownerID, booking.ScheduledPending)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return r.reply(ctx, "No pending scheduled bookings.")
	}

	var sb strings.Builder
	sb.WriteString("⏳ Scheduled bookings\n\n")
	var buttons [][]booking.Button
	for _, b := range list {
		fmt.Fprintf(&sb, "#%d %s, %s %s (books %s)\n",
			b.ID, b.Course.Name, b.TargetDate.Format(dateLayout), b.Course.TimeStart,
			b.ExecutionTime.Format(dateLayout))
		buttons = append(buttons, []booking.Button{{
			Label: fmt.Sprintf("🗑 Cancel #%d", b.ID),
			Data:  fmt.Sprintf("sched:cancel:%d", b.ID),
		}})
	}
	_, err = r.notifier.Send(ctx, r.ownerID, sb.String(), buttons)
	return err
}

func (r *Router) sendPeriodic(ctx context.Context) error {
	list, err := r.store.ListPeriodicBookings(ctx, r.ownerID, false)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return r.reply(ctx, "No weekly templates. Create one with /addperiodic <course id>.")
	}

	var sb strings.Builder
	sb.WriteString("🔁 Weekly templates\n\n")
	var buttons [][]booking.Button
	for _, b := range list {
		state := "▶️ active"
		toggle := "⏸ Pause"
		if !b.Active {
			state = "⏸ paused"
			toggle = "▶️ Resume"
		}
		fmt.Fprintf(&sb, "#%d %s %s %s, %s", b.ID, b.Course.Weekday, b.Course.TimeStart, b.Course.Name, state)
		if b.RequiresConfirmation {
			sb.WriteString(", asks first")
		}
		sb.WriteString("\n")
		buttons = append(buttons, []booking.Button{
			{Label: fmt.Sprintf("%s #%d", toggle, b.ID), Data: fmt.Sprintf("periodic:toggle:%d", b.ID)},
			{Label: fmt.Sprintf("🗑 #%d", b.ID), Data: fmt.Sprintf("periodic:delete:%d", b.ID)},
		})
	}
	_, err = r.notifier.Send(ctx, r.ownerID, sb.String(), buttons)
	return err
}

func (r *Router) sendUserBookings(ctx context.Context) error {
	list, err := r.store.ListUserBookings(ctx, r.ownerID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return r.reply(ctx, "No reservations on record yet.")
	}

	var sb strings.Builder
	sb.WriteString("📖 Your reservations\n\n")
	const max = 15
	for i, b := range list {
		if i == max {
			fmt.Fprintf(&sb, "… and %d more\n", len(list)-max)
			break
		}
		fmt.Fprintf(&sb, "%s %s %s", b.BookingDate.Format(dateLayout), b.BookingTime, b.CourseName)
		if b.Location != "" {
			fmt.Fprintf(&sb, " (%s)", b.Location)
		}
		sb.WriteString("\n")
	}
	return r.reply(ctx, sb.String())
}

func (r *Router) sendStatus(ctx context.Context) error {
	var sb strings.Builder
	sb.WriteString("⚙️ Triggers\n\n")
	for _, j := range r.triggers.Jobs() {
		fmt.Fprintf(&sb, "%s (%s)\n", j.Name, j.Spec)
		if j.Runs == 0 {
			sb.WriteString("  not run yet")
		} else {
			fmt.Fprintf(&sb, "  runs %d, last %s", j.Runs, j.LastRun.Format("02 Jan 15:04"))
			if j.LastErr != "" {
				fmt.Fprintf(&sb, ", failed: %s", j.LastErr)
			}
		}
		if !j.NextRun.IsZero() {
			fmt.Fprintf(&sb, ", next %s", j.NextRun.Format("02 Jan 15:04"))
		}
		sb.WriteString("\n")
	}
	return r.reply(ctx, sb.String())
}
