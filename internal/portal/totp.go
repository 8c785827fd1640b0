package portal

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OTP generates RFC 6238 time-based one-time passwords from the parameters of
// an otpauth:// URL.
type OTP struct {
	secret []byte
	period int
	digits int
}

// ParseOTPAuthURL extracts the secret and generation parameters from a URL of
// the form otpauth://totp/Label?secret=...&period=30&digits=6.
func ParseOTPAuthURL(raw string) (*OTP, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse otpauth url: %w", err)
	}
	if u.Scheme != "otpauth" {
		return nil, fmt.Errorf("unexpected scheme %q, want otpauth", u.Scheme)
	}
	if u.Host != "totp" {
		return nil, fmt.Errorf("unsupported otp type %q, want totp", u.Host)
	}

	q := u.Query()
	secret := strings.ToUpper(strings.TrimSpace(q.Get("secret")))
	if secret == "" {
		return nil, errors.New("otpauth url has no secret")
	}
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(secret, "="))
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}

	period := 30
	if v := q.Get("period"); v != "" {
		period, err = strconv.Atoi(v)
		if err != nil || period <= 0 {
			return nil, fmt.Errorf("invalid period %q", v)
		}
	}
	digits := 6
	if v := q.Get("digits"); v != "" {
		digits, err = strconv.Atoi(v)
		if err != nil || digits < 6 || digits > 8 {
			return nil, fmt.Errorf("invalid digits %q", v)
		}
	}
	return &OTP{secret: key, period: period, digits: digits}, nil
}

// Code returns the password valid at t.
func (o *OTP) Code(t time.Time) string {
	counter := uint64(t.Unix()) / uint64(o.period)

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, o.secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < o.digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", o.digits, code%mod)
}

// Remaining reports how long the code valid at t stays valid.
func (o *OTP) Remaining(t time.Time) time.Duration {
	p := int64(o.period)
	return time.Duration(p-t.Unix()%p) * time.Second
}
