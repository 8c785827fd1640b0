// Package router turns chat updates into booking operations. The bot serves
// exactly one authorized user; everyone else is ignored.
package router

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"sportbot/internal/booking"
	kit "sportbot/internal/transport"
	"sportbot/internal/trigger"
	logx "sportbot/pkg/logx"
)

type Router struct {
	store    booking.Store
	policy   *booking.Policy
	exec     *booking.Executor
	notifier booking.Notifier
	adapter  kit.Adapter
	triggers *trigger.Service
	ownerID  int64
	log      logx.Logger
}

func New(store booking.Store, policy *booking.Policy, exec *booking.Executor, notifier booking.Notifier, adapter kit.Adapter, triggers *trigger.Service, ownerID int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:    store,
		policy:   policy,
		exec:     exec,
		notifier: notifier,
		adapter:  adapter,
		triggers: triggers,
		ownerID:  ownerID,
		log:      log,
	}
}

// DispatchLoop consumes updates until ctx ends or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		if up.Message.FromID != r.ownerID {
			r.log.Debug("ignoring message from unknown user", logx.Int64("from", up.Message.FromID))
			return
		}
		r.handleMessage(ctx, up.Message)
	case kit.UpdateCallback:
		if up.Callback == nil {
			return
		}
		if up.Callback.FromID != r.ownerID {
			return
		}
		r.handleCallback(ctx, up.Callback)
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, arg := splitCommand(m.Text)
	var err error
	switch cmd {
	case "/start", "/help":
		err = r.sendHelp(ctx)
	case "/courses":
		err = r.sendCourses(ctx, arg)
	case "/book":
		err = r.bookCourse(ctx, arg)
	case "/scheduled":
		err = r.sendScheduled(ctx)
	case "/periodic":
		err = r.sendPeriodic(ctx)
	case "/addperiodic":
		err = r.addPeriodic(ctx, arg)
	case "/mybookings":
		err = r.sendUserBookings(ctx)
	case "/status":
		err = r.sendStatus(ctx)
	default:
		err = r.reply(ctx, "Unknown command. Use /help to see what I can do.")
	}
	if err != nil {
		r.log.Warn("command failed", logx.String("cmd", cmd), logx.Err(err))
		if _, isUser := userMessage(err); !isUser {
			_ = r.reply(ctx, "Something went wrong, check the logs.")
		}
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, id, ok := splitCallback(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	var err error
	var ack string
	switch action {
	case "booking:confirm":
		err = r.exec.ConfirmBooking(ctx, id)
		if err == nil {
			ack = "Booked ✅"
			_ = r.notifier.Edit(ctx, booking.MessageHandle{ChatID: cb.ChatID, MessageID: cb.MessageID},
				"✅ Confirmed and booked.", nil)
		}
	case "booking:reject":
		err = r.exec.RejectBooking(ctx, id)
		if err == nil {
			ack = "Rejected"
			_ = r.notifier.Edit(ctx, booking.MessageHandle{ChatID: cb.ChatID, MessageID: cb.MessageID},
				"❌ Rejected. The booking was cancelled.", nil)
		}
	case "sched:cancel":
		err = r.policy.CancelScheduledBooking(ctx, id)
		if err == nil {
			ack = "Cancelled"
		}
	case "periodic:toggle":
		err = r.togglePeriodic(ctx, id)
		if err == nil {
			ack = "Toggled"
		}
	case "periodic:delete":
		err = r.policy.DeletePeriodicBooking(ctx, id)
		if err == nil {
			ack = "Deleted"
		}
	case "course:book":
		err = r.bookCourseByID(ctx, id)
		if err == nil {
			ack = "Done"
		}
	default:
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	if err != nil {
		r.log.Warn("callback failed", logx.String("action", action), logx.Int64("id", id), logx.Err(err))
		msg, isUser := userMessage(err)
		if !isUser {
			msg = "That didn't work, check the logs."
		}
		_ = r.adapter.AnswerCallback(ctx, cb.ID, msg)
		return
	}
	_ = r.adapter.AnswerCallback(ctx, cb.ID, ack)
}

func (r *Router) togglePeriodic(ctx context.Context, id int64) error {
	b, err := r.store.PeriodicBookingByID(ctx, id)
	if err != nil {
		return err
	}
	return r.policy.TogglePeriodicBooking(ctx, id, !b.Active)
}

func (r *Router) reply(ctx context.Context, text string) error {
	_, err := r.notifier.Send(ctx, r.ownerID, text, nil)
	return err
}

// userMessage maps domain errors to something worth showing in chat.
func userMessage(err error) (string, bool) {
	var verr *booking.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	if errors.Is(err, booking.ErrInvalidState) {
		return "Already settled.", true
	}
	if booking.IsAutomation(err) {
		return "The portal refused, you may need to book manually.", true
	}
	return "", false
}

func splitCommand(text string) (cmd, arg string) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "/") {
		return "", text
	}
	parts := strings.SplitN(text, " ", 2)
	cmd = strings.ToLower(parts[0])
	// Strip the @botname suffix of group-style commands.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}
	return cmd, arg
}

// splitCallback parses "<action>:<id>" where action itself contains a colon,
// e.g. "booking:confirm:12".
func splitCallback(data string) (action string, id int64, ok bool) {
	i := strings.LastIndex(data, ":")
	if i <= 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(data[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return data[:i], id, true
}
