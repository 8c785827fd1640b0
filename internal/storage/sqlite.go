package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sportbot/internal/booking"
)

const scheduledCols = `sb.id, sb.user_id, sb.target_date, sb.execution_time, sb.status, sb.created_at, sb.updated_at,
	c.id, c.name, c.location, c.weekday, c.time_start, c.time_end, c.fit_center`

const periodicCols = `pb.id, pb.user_id, pb.requires_confirmation, pb.confirmation_hours_before, pb.cancel_hours_before,
	pb.active, pb.last_executed, pb.created_at, pb.updated_at,
	c.id, c.name, c.location, c.weekday, c.time_start, c.time_end, c.fit_center`

const confirmationCols = `id, user_id, periodic_id, scheduled_id, target_date, confirmation_deadline, cancel_deadline,
	message_chat_id, message_id, status, created_at, updated_at`

func (s *Store) UpsertCourse(ctx context.Context, c booking.Course) (int64, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO courses(name, location, weekday, time_start, time_end, fit_center)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(name, weekday, time_start) DO UPDATE SET
		   location=excluded.location, time_end=excluded.time_end, fit_center=excluded.fit_center`,
		c.Name, c.Location, int(c.Weekday), c.TimeStart, c.TimeEnd, c.FitCenter,
	)
	if err != nil {
		return 0, err
	}
	// LastInsertId is unreliable on the conflict path, resolve by key instead.
	var id int64
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM courses WHERE name = ? AND weekday = ? AND time_start = ?`,
		c.Name, int(c.Weekday), c.TimeStart,
	).Scan(&id)
	return id, err
}

func (s *Store) CourseByID(ctx context.Context, id int64) (booking.Course, error) {
	var c booking.Course
	var weekday int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, location, weekday, time_start, time_end, fit_center FROM courses WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Location, &weekday, &c.TimeStart, &c.TimeEnd, &c.FitCenter)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.Course{}, booking.ErrNotFound
	}
	if err != nil {
		return booking.Course{}, err
	}
	c.Weekday = time.Weekday(weekday)
	return c, nil
}

func (s *Store) ListCourses(ctx context.Context, weekday *time.Weekday, fitCenter bool) ([]booking.Course, error) {
	q := `SELECT id, name, location, weekday, time_start, time_end, fit_center FROM courses`
	var args []any
	var where []string
	if weekday != nil {
		where = append(where, "weekday = ?")
		args = append(args, int(*weekday))
	}
	if fitCenter {
		where = append(where, "fit_center = 1")
	}
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	q += " ORDER BY weekday, time_start, name"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Course
	for rows.Next() {
		var c booking.Course
		var wd int
		if err := rows.Scan(&c.ID, &c.Name, &c.Location, &wd, &c.TimeStart, &c.TimeEnd, &c.FitCenter); err != nil {
			return nil, err
		}
		c.Weekday = time.Weekday(wd)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddScheduledBooking(ctx context.Context, b booking.ScheduledBooking) (int64, error) {
	now := ms(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_bookings(user_id, course_id, target_date, execution_time, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		b.UserID, b.Course.ID, ms(b.TargetDate), ms(b.ExecutionTime), string(b.Status), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanScheduled(sc interface{ Scan(...any) error }) (booking.ScheduledBooking, error) {
	var b booking.ScheduledBooking
	var target, execAt, created, updated int64
	var status string
	var weekday int
	err := sc.Scan(
		&b.ID, &b.UserID, &target, &execAt, &status, &created, &updated,
		&b.Course.ID, &b.Course.Name, &b.Course.Location, &weekday,
		&b.Course.TimeStart, &b.Course.TimeEnd, &b.Course.FitCenter,
	)
	if err != nil {
		return booking.ScheduledBooking{}, err
	}
	b.TargetDate = fromMS(target)
	b.ExecutionTime = fromMS(execAt)
	b.Status = booking.ScheduledStatus(status)
	b.CreatedAt = fromMS(created)
	b.UpdatedAt = fromMS(updated)
	b.Course.Weekday = time.Weekday(weekday)
	return b, nil
}

func (s *Store) ScheduledBookingByID(ctx context.Context, id int64) (booking.ScheduledBooking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_bookings sb JOIN courses c ON c.id = sb.course_id WHERE sb.id = ?`, id)
	b, err := scanScheduled(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ScheduledBooking{}, booking.ErrNotFound
	}
	return b, err
}

func (s *Store) ListScheduledBookings(ctx context.Context, userID int64, status booking.ScheduledStatus) ([]booking.ScheduledBooking, error) {
	q := `SELECT ` + scheduledCols + ` FROM scheduled_bookings sb JOIN courses c ON c.id = sb.course_id WHERE sb.user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND sb.status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY sb.target_date, sb.id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.ScheduledBooking
	for rows.Next() {
		b, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) DueScheduledBookings(ctx context.Context, now time.Time) ([]booking.ScheduledBooking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledCols+` FROM scheduled_bookings sb JOIN courses c ON c.id = sb.course_id
		 WHERE sb.status = 'pending' AND sb.execution_time <= ?
		 ORDER BY sb.execution_time, sb.id`, ms(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.ScheduledBooking
	for rows.Next() {
		b, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// HasScheduledBooking reports whether any row, terminal ones included, claims
// the (user, course, date) slot. The UNIQUE constraint on the table spans all
// statuses, so a cancelled or completed date must still count as taken or the
// next insert would fail.
func (s *Store) HasScheduledBooking(ctx context.Context, userID, courseID int64, targetDate time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM scheduled_bookings
		 WHERE user_id = ? AND course_id = ? AND target_date = ?`,
		userID, courseID, ms(targetDate),
	).Scan(&n)
	return n > 0, err
}

// SetScheduledStatus only moves bookings out of pending, so terminal states
// can never be overwritten.
func (s *Store) SetScheduledStatus(ctx context.Context, id int64, status booking.ScheduledStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_bookings SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), ms(s.now()), id,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, `SELECT status FROM scheduled_bookings WHERE id = ?`, id, "booking")
}

func (s *Store) AddPeriodicBooking(ctx context.Context, b booking.PeriodicBooking) (int64, error) {
	now := ms(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO periodic_bookings(user_id, course_id, requires_confirmation, confirmation_hours_before,
		   cancel_hours_before, active, last_executed, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		b.UserID, b.Course.ID, b.RequiresConfirmation, b.ConfirmHoursBefore, b.CancelHoursBefore,
		b.Active, nullMS(b.LastExecuted), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanPeriodic(sc interface{ Scan(...any) error }) (booking.PeriodicBooking, error) {
	var b booking.PeriodicBooking
	var lastExec sql.NullInt64
	var created, updated int64
	var weekday int
	err := sc.Scan(
		&b.ID, &b.UserID, &b.RequiresConfirmation, &b.ConfirmHoursBefore, &b.CancelHoursBefore,
		&b.Active, &lastExec, &created, &updated,
		&b.Course.ID, &b.Course.Name, &b.Course.Location, &weekday,
		&b.Course.TimeStart, &b.Course.TimeEnd, &b.Course.FitCenter,
	)
	if err != nil {
		return booking.PeriodicBooking{}, err
	}
	if lastExec.Valid {
		t := fromMS(lastExec.Int64)
		b.LastExecuted = &t
	}
	b.CreatedAt = fromMS(created)
	b.UpdatedAt = fromMS(updated)
	b.Course.Weekday = time.Weekday(weekday)
	return b, nil
}

func (s *Store) PeriodicBookingByID(ctx context.Context, id int64) (booking.PeriodicBooking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+periodicCols+` FROM periodic_bookings pb JOIN courses c ON c.id = pb.course_id WHERE pb.id = ?`, id)
	b, err := scanPeriodic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.PeriodicBooking{}, booking.ErrNotFound
	}
	return b, err
}

func (s *Store) ListPeriodicBookings(ctx context.Context, userID int64, activeOnly bool) ([]booking.PeriodicBooking, error) {
	q := `SELECT ` + periodicCols + ` FROM periodic_bookings pb JOIN courses c ON c.id = pb.course_id WHERE pb.user_id = ?`
	if activeOnly {
		q += ` AND pb.active = 1`
	}
	q += ` ORDER BY pb.id`
	return s.queryPeriodic(ctx, q, userID)
}

func (s *Store) ActivePeriodicBookings(ctx context.Context) ([]booking.PeriodicBooking, error) {
	return s.queryPeriodic(ctx,
		`SELECT `+periodicCols+` FROM periodic_bookings pb JOIN courses c ON c.id = pb.course_id
		 WHERE pb.active = 1 ORDER BY pb.id`)
}

func (s *Store) queryPeriodic(ctx context.Context, q string, args ...any) ([]booking.PeriodicBooking, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.PeriodicBooking
	for rows.Next() {
		b, err := scanPeriodic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) SetPeriodicActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periodic_bookings SET active = ?, updated_at = ? WHERE id = ?`,
		active, ms(s.now()), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) TouchPeriodicExecuted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE periodic_bookings SET last_executed = ?, updated_at = ? WHERE id = ?`,
		ms(at), ms(s.now()), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeletePeriodicBooking(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM periodic_bookings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) AddPendingConfirmation(ctx context.Context, c booking.PendingConfirmation) (int64, error) {
	now := ms(s.now())
	var chatID, msgID any
	if c.Message != nil {
		chatID, msgID = c.Message.ChatID, c.Message.MessageID
	}
	var schedID any
	if c.ScheduledID != nil {
		schedID = *c.ScheduledID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_confirmations(user_id, periodic_id, scheduled_id, target_date,
		   confirmation_deadline, cancel_deadline, message_chat_id, message_id, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		c.UserID, c.PeriodicID, schedID, ms(c.TargetDate),
		ms(c.ConfirmDeadline), ms(c.CancelDeadline), chatID, msgID, string(c.Status), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanConfirmation(sc interface{ Scan(...any) error }) (booking.PendingConfirmation, error) {
	var c booking.PendingConfirmation
	var schedID, chatID, created, updated sql.NullInt64
	var msgID sql.NullInt64
	var target, confirmAt, cancelAt int64
	var status string
	err := sc.Scan(
		&c.ID, &c.UserID, &c.PeriodicID, &schedID, &target, &confirmAt, &cancelAt,
		&chatID, &msgID, &status, &created, &updated,
	)
	if err != nil {
		return booking.PendingConfirmation{}, err
	}
	if schedID.Valid {
		v := schedID.Int64
		c.ScheduledID = &v
	}
	if chatID.Valid && msgID.Valid {
		c.Message = &booking.MessageHandle{ChatID: chatID.Int64, MessageID: int(msgID.Int64)}
	}
	c.TargetDate = fromMS(target)
	c.ConfirmDeadline = fromMS(confirmAt)
	c.CancelDeadline = fromMS(cancelAt)
	c.Status = booking.ConfirmationStatus(status)
	c.CreatedAt = fromMS(created.Int64)
	c.UpdatedAt = fromMS(updated.Int64)
	return c, nil
}

func (s *Store) PendingConfirmationByID(ctx context.Context, id int64) (booking.PendingConfirmation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+confirmationCols+` FROM pending_confirmations WHERE id = ?`, id)
	c, err := scanConfirmation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.PendingConfirmation{}, booking.ErrNotFound
	}
	return c, err
}

func (s *Store) ListPendingConfirmations(ctx context.Context, userID int64, status booking.ConfirmationStatus) ([]booking.PendingConfirmation, error) {
	q := `SELECT ` + confirmationCols + ` FROM pending_confirmations WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY confirmation_deadline, id`
	return s.queryConfirmations(ctx, q, args...)
}

// ConfirmationsNeedingAction returns pending confirmations that either still
// need their prompt sent or have sailed past the cancel deadline.
func (s *Store) ConfirmationsNeedingAction(ctx context.Context, now time.Time) ([]booking.PendingConfirmation, error) {
	n := ms(now)
	return s.queryConfirmations(ctx,
		`SELECT `+confirmationCols+` FROM pending_confirmations
		 WHERE status = 'pending'
		   AND ((message_id IS NULL AND confirmation_deadline <= ?) OR cancel_deadline <= ?)
		 ORDER BY confirmation_deadline, id`, n, n)
}

func (s *Store) queryConfirmations(ctx context.Context, q string, args ...any) ([]booking.PendingConfirmation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.PendingConfirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetConfirmationStatus(ctx context.Context, id int64, status booking.ConfirmationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_confirmations SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		string(status), ms(s.now()), id,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, `SELECT status FROM pending_confirmations WHERE id = ?`, id, "confirmation")
}

func (s *Store) SetConfirmationMessage(ctx context.Context, id int64, h booking.MessageHandle) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_confirmations SET message_chat_id = ?, message_id = ?, updated_at = ? WHERE id = ?`,
		h.ChatID, h.MessageID, ms(s.now()), id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) AddUserBooking(ctx context.Context, b booking.UserBooking) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_bookings(user_id, course_name, location, booking_date, booking_time, created_at)
		 VALUES(?,?,?,?,?,?)`,
		b.UserID, b.CourseName, b.Location, ms(b.BookingDate), b.BookingTime, ms(s.now()),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListUserBookings(ctx context.Context, userID int64) ([]booking.UserBooking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, course_name, location, booking_date, booking_time, created_at
		 FROM user_bookings WHERE user_id = ? ORDER BY booking_date DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.UserBooking
	for rows.Next() {
		var b booking.UserBooking
		var date, created int64
		if err := rows.Scan(&b.ID, &b.UserID, &b.CourseName, &b.Location, &date, &b.BookingTime, &created); err != nil {
			return nil, err
		}
		b.BookingDate = fromMS(date)
		b.CreatedAt = fromMS(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

// checkTransition distinguishes "row missing" from "row already terminal"
// after a guarded status update touched nothing.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, probe string, id int64, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current string
	err = s.db.QueryRowContext(ctx, probe, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %d is %s: %w", kind, id, current, booking.ErrInvalidState)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return booking.ErrNotFound
	}
	return nil
}
