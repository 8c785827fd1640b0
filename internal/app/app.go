// Package app wires configuration, storage, the portal session, the booking
// engine and the Telegram surface into one runnable unit.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sportbot/internal/booking"
	"sportbot/internal/config"
	"sportbot/internal/notify"
	"sportbot/internal/portal"
	"sportbot/internal/router"
	"sportbot/internal/storage"
	kit "sportbot/internal/transport"
	"sportbot/internal/transport/telegram"
	"sportbot/internal/trigger"
	logx "sportbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter  *telegram.Adapter
	store    *storage.Store
	sessions *portal.SessionManager
	notif    *notify.Service
	policy   *booking.Policy
	exec     *booking.Executor
	triggers *trigger.Service
	router   *router.Router

	updates chan kit.Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logCfg(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Load validated the duration fields already; the defaults only matter if
	// a field is cleared between Normalize and here.
	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	portalTimeout, _ := config.ParseDurationOrDefault("portal.timeout", cfg.Portal.Timeout, 15*time.Second)
	busyTimeout, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sessions := portal.NewSessionManager(portal.Config{
		BaseURL:    cfg.Portal.BaseURL,
		Username:   cfg.Portal.Username,
		Password:   cfg.Portal.Password,
		OTPAuthURL: cfg.Portal.OTPAuthURL,
		Timeout:    portalTimeout,
	}, log.With(logx.String("comp", "portal")))

	loc := time.Local
	if tz := cfg.Scheduling.Timezone; tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduling.timezone: %w", err)
		}
	}

	notif := notify.New(adapter, log.With(logx.String("comp", "notify")))
	policy := booking.NewPolicy(store, log.With(logx.String("comp", "booking")), booking.Defaults{
		ConfirmHoursBefore: cfg.Booking.ConfirmationHoursBefore,
		CancelHoursBefore:  cfg.Booking.CancelHoursBefore,
	}, loc)
	exec := booking.NewExecutor(store, sessions, notif, policy, log.With(logx.String("comp", "booking")))
	triggers := trigger.New(trigger.Config{Timezone: cfg.Scheduling.Timezone}, log.With(logx.String("comp", "trigger")))
	rtr := router.New(store, policy, exec, notif, adapter, triggers, cfg.Telegram.OwnerUserID, log.With(logx.String("comp", "router")))

	a := &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		adapter:  adapter,
		store:    store,
		sessions: sessions,
		notif:    notif,
		policy:   policy,
		exec:     exec,
		triggers: triggers,
		router:   rtr,
		updates:  make(chan kit.Update, 256),
	}
	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File != "",
			Path:    cfg.Logging.File,
		},
	}
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.triggers.Start(runCtx); err != nil {
		return err
	}
	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.router.DispatchLoop(runCtx, a.updates)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(cfg)
			}
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("notified systemd we are ready")
	}

	a.log.Info("started")
	return nil
}

// applyReload picks up the settings that can change without a restart.
// Telegram token, storage path and portal credentials need a restart; the
// validator accepted the file, so a mid-flight change of those is just logged.
func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(logCfg(cfg))
	a.log.Info("config reloaded", logx.String("level", cfg.Logging.Level))
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	var firstErr error
	if err := a.adapter.Stop(ctx); err != nil {
		firstErr = err
	}
	if err := a.triggers.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.logs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
