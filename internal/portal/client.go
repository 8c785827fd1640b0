// Package portal talks to the sports centre's reservation site. It owns the
// authenticated HTTP session, the TOTP second factor and the booking and
// catalog endpoints.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"sportbot/internal/booking"
	logx "sportbot/pkg/logx"
)

// Config carries the portal credentials. OTPAuthURL is the otpauth:// URL
// exported from the authenticator enrollment QR code.
type Config struct {
	BaseURL    string
	Username   string
	Password   string
	OTPAuthURL string
	Timeout    time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.Password) == "" {
		return fmt.Errorf("portal credentials are required")
	}
	if _, err := ParseOTPAuthURL(c.OTPAuthURL); err != nil {
		return fmt.Errorf("portal.otpauth_url: %w", err)
	}
	return nil
}

// Client is one authenticated portal session. It is not safe for concurrent
// use; the SessionManager serializes access.
type Client struct {
	hc      *http.Client
	baseURL string
	cfg     Config
	otp     *OTP
	log     logx.Logger

	now func() time.Time
}

func NewClient(cfg Config, log logx.Logger) (*Client, error) {
	otp, err := ParseOTPAuthURL(cfg.OTPAuthURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		hc:      &http.Client{Jar: jar, Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:     cfg,
		otp:     otp,
		log:     log,
		now:     time.Now,
	}, nil
}

// Login authenticates with username, password and a fresh TOTP code. A code
// about to roll over is not worth submitting, so it waits out the last moment
// of the window instead.
func (c *Client) Login(ctx context.Context) error {
	if rem := c.otp.Remaining(c.now()); rem < 2*time.Second {
		select {
		case <-time.After(rem):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	payload := map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
		"otp":      c.otp.Code(c.now()),
	}
	status, body, err := c.post(ctx, "/api/auth/login", payload)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("login rejected: %s", apiMessage(status, body))
	}
	c.log.Info("portal login ok", logx.String("user", c.cfg.Username))
	return nil
}

// Logout drops the server-side session. Errors only matter for the log.
func (c *Client) Logout(ctx context.Context) {
	if status, body, err := c.post(ctx, "/api/auth/logout", nil); err != nil {
		c.log.Debug("logout failed", logx.Err(err))
	} else if status != http.StatusOK {
		c.log.Debug("logout rejected", logx.String("reason", apiMessage(status, body)))
	}
}

// AttemptBooking reserves course on date. It returns (false, nil) when the
// portal refuses the reservation (slot full, already booked, not yet open)
// and an error only for transport or session failures.
func (c *Client) AttemptBooking(ctx context.Context, course booking.Course, date time.Time) (bool, error) {
	payload := map[string]any{
		"activity":   course.Name,
		"location":   course.Location,
		"date":       date.Format("2006-01-02"),
		"time_start": course.TimeStart,
		"fit_center": course.FitCenter,
	}
	status, body, err := c.post(ctx, "/api/bookings", payload)
	if err != nil {
		return false, fmt.Errorf("book %s: %w", course.Name, err)
	}
	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return true, nil
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		c.log.Info("portal refused booking",
			logx.String("course", course.Name),
			logx.String("reason", apiMessage(status, body)))
		return false, nil
	case status == http.StatusUnauthorized:
		return false, fmt.Errorf("book %s: session expired", course.Name)
	default:
		return false, fmt.Errorf("book %s: %s", course.Name, apiMessage(status, body))
	}
}

// FetchCourses pulls the weekly course schedule for the catalog.
func (c *Client) FetchCourses(ctx context.Context) ([]booking.Course, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/schedule/week", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch schedule: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch schedule: %s", apiMessage(resp.StatusCode, body))
	}

	var raw struct {
		Slots []struct {
			Activity  string `json:"activity"`
			Location  string `json:"location"`
			Weekday   string `json:"weekday"`
			TimeStart string `json:"time_start"`
			TimeEnd   string `json:"time_end"`
			FitCenter bool   `json:"fit_center"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	var out []booking.Course
	for _, s := range raw.Slots {
		wd, err := booking.ParseWeekday(s.Weekday)
		if err != nil {
			c.log.Warn("schedule slot with unknown weekday", logx.String("weekday", s.Weekday))
			continue
		}
		out = append(out, booking.Course{
			Name:      s.Activity,
			Location:  s.Location,
			Weekday:   wd,
			TimeStart: s.TimeStart,
			TimeEnd:   s.TimeEnd,
			FitCenter: s.FitCenter,
		})
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, b, nil
}

func apiMessage(status int, body []byte) string {
	var r struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &r)
	if r.Message != "" {
		return fmt.Sprintf("%s (status=%d)", r.Message, status)
	}
	return fmt.Sprintf("status=%d", status)
}
