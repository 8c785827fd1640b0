// Package notify delivers booking notifications over the chat transport and
// keeps within the Bot API send limits.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"sportbot/internal/booking"
	kit "sportbot/internal/transport"
	logx "sportbot/pkg/logx"
)

type Service struct {
	adapter kit.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func New(adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		adapter: adapter,
		// One message per second with a small burst keeps the bot well under
		// the per-chat Bot API limit.
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
		log:     log,
	}
}

func (s *Service) Send(ctx context.Context, userID int64, text string, buttons [][]booking.Button) (booking.MessageHandle, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return booking.MessageHandle{}, err
	}
	ref, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{
		DisablePreview:     true,
		ReplyMarkupAdapter: markup(buttons),
	})
	if err != nil {
		s.log.Warn("notification send failed", logx.Int64("chat_id", userID), logx.Err(err))
		return booking.MessageHandle{}, err
	}
	s.log.Debug("notification sent", logx.Int64("chat_id", userID))
	return booking.MessageHandle{ChatID: ref.ChatID, MessageID: ref.MessageID}, nil
}

func (s *Service) Edit(ctx context.Context, h booking.MessageHandle, text string, buttons [][]booking.Button) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	err := s.adapter.EditText(ctx, kit.MessageRef{ChatID: h.ChatID, MessageID: h.MessageID}, text, &kit.SendOptions{
		DisablePreview:     true,
		ReplyMarkupAdapter: markup(buttons),
	})
	if err != nil {
		s.log.Warn("notification edit failed", logx.Int64("chat_id", h.ChatID), logx.Err(err))
	}
	return err
}

func markup(buttons [][]booking.Button) any {
	if len(buttons) == 0 {
		return nil
	}
	// Raw inline buttons so the callback data arrives verbatim.
	keyboard := make([][]tele.InlineButton, 0, len(buttons))
	for _, r := range buttons {
		row := make([]tele.InlineButton, 0, len(r))
		for _, b := range r {
			row = append(row, tele.InlineButton{Text: b.Label, Data: b.Data})
		}
		keyboard = append(keyboard, row)
	}
	return &tele.ReplyMarkup{InlineKeyboard: keyboard}
}
