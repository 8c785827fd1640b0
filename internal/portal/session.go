package portal

import (
	"context"

	"sportbot/internal/booking"
	logx "sportbot/pkg/logx"
)

// SessionManager hands out the single portal session. The portal does not
// tolerate concurrent logins for one account, so Acquire serializes callers
// and performs a fresh login for each holder.
type SessionManager struct {
	cfg Config
	log logx.Logger

	slot chan struct{}
}

func NewSessionManager(cfg Config, log logx.Logger) *SessionManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &SessionManager{
		cfg:  cfg,
		log:  log,
		slot: make(chan struct{}, 1),
	}
	m.slot <- struct{}{}
	return m
}

// Acquire blocks until the session slot is free, logs in and returns the
// authenticated client. The release func logs out and frees the slot; it must
// be called exactly once.
func (m *SessionManager) Acquire(ctx context.Context) (booking.Automation, func(), error) {
	client, release, err := m.AcquireClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	return client, release, nil
}

// AcquireClient is Acquire with the concrete client type, for callers that
// need more than the booking automation surface (schedule fetches).
func (m *SessionManager) AcquireClient(ctx context.Context) (*Client, func(), error) {
	select {
	case <-m.slot:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	client, err := NewClient(m.cfg, m.log)
	if err != nil {
		m.slot <- struct{}{}
		return nil, nil, err
	}
	if err := client.Login(ctx); err != nil {
		m.slot <- struct{}{}
		return nil, nil, err
	}

	release := func() {
		client.Logout(context.Background())
		m.slot <- struct{}{}
	}
	return client, release, nil
}
