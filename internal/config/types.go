package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the full on-disk configuration. Durations are Go duration
// strings ("10m", "15s"); wall times are 24h "HH:MM".
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Portal     PortalConfig     `json:"portal"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduling SchedulingConfig `json:"scheduling"`
	Booking    BookingConfig    `json:"booking"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerUserID int64  `json:"owner_user_id"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type PortalConfig struct {
	BaseURL    string `json:"base_url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	OTPAuthURL string `json:"otpauth_url"`
	Timeout    string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulingConfig places the recurring jobs on the clock.
type SchedulingConfig struct {
	Timezone          string `json:"timezone,omitempty"`
	ExecutorAt        string `json:"executor_at,omitempty"`
	PeriodicAt        string `json:"periodic_at,omitempty"`
	ConfirmationEvery string `json:"confirmation_every,omitempty"`
	CatalogSyncAt     string `json:"catalog_sync_at,omitempty"`
}

type BookingConfig struct {
	ConfirmationHoursBefore int `json:"confirmation_hours_before,omitempty"`
	CancelHoursBefore       int `json:"cancel_hours_before,omitempty"`
}

// Normalize fills defaults in place.
func (c *Config) Normalize() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Portal.Timeout == "" {
		c.Portal.Timeout = "15s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/sportbot.db"
	}
	if c.Storage.BusyTimeout == "" {
		c.Storage.BusyTimeout = "5s"
	}
	if c.Scheduling.ExecutorAt == "" {
		c.Scheduling.ExecutorAt = "00:30"
	}
	if c.Scheduling.PeriodicAt == "" {
		c.Scheduling.PeriodicAt = "00:00"
	}
	if c.Scheduling.ConfirmationEvery == "" {
		c.Scheduling.ConfirmationEvery = "10m"
	}
	if c.Scheduling.CatalogSyncAt == "" {
		c.Scheduling.CatalogSyncAt = "06:00"
	}
	if c.Booking.ConfirmationHoursBefore == 0 {
		c.Booking.ConfirmationHoursBefore = 5
	}
	if c.Booking.CancelHoursBefore == 0 {
		c.Booking.CancelHoursBefore = 1
	}
}

// Validate checks everything that would otherwise only fail at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.OwnerUserID == 0 {
		return errors.New("telegram.owner_user_id is required")
	}
	if strings.TrimSpace(c.Portal.BaseURL) == "" {
		return errors.New("portal.base_url is required")
	}
	if strings.TrimSpace(c.Portal.Username) == "" || strings.TrimSpace(c.Portal.Password) == "" {
		return errors.New("portal.username and portal.password are required")
	}
	if strings.TrimSpace(c.Portal.OTPAuthURL) == "" {
		return errors.New("portal.otpauth_url is required")
	}

	for _, f := range []struct{ path, val string }{
		{"scheduling.executor_at", c.Scheduling.ExecutorAt},
		{"scheduling.periodic_at", c.Scheduling.PeriodicAt},
		{"scheduling.catalog_sync_at", c.Scheduling.CatalogSyncAt},
	} {
		if _, err := time.Parse("15:04", strings.TrimSpace(f.val)); err != nil {
			return fmt.Errorf("%s: invalid wall time %q, want HH:MM", f.path, f.val)
		}
	}
	if _, err := ParseDurationField("scheduling.confirmation_every", c.Scheduling.ConfirmationEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("portal.timeout", c.Portal.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if c.Booking.CancelHoursBefore < 1 {
		return errors.New("booking.cancel_hours_before must be at least 1")
	}
	if c.Booking.ConfirmationHoursBefore <= c.Booking.CancelHoursBefore {
		return fmt.Errorf("booking.confirmation_hours_before (%d) must be greater than cancel_hours_before (%d)",
			c.Booking.ConfirmationHoursBefore, c.Booking.CancelHoursBefore)
	}

	if tz := strings.TrimSpace(c.Scheduling.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduling.timezone: %w", err)
		}
	}
	return nil
}
