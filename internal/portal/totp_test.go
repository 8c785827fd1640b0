package portal

import (
	"testing"
	"time"
)

// RFC 6238 appendix B vectors for HMAC-SHA1. The reference secret is the
// ASCII string "12345678901234567890", base32 encoded below.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestOTPCodeRFCVectors(t *testing.T) {
	otp, err := ParseOTPAuthURL("otpauth://totp/Test?secret=" + rfcSecret + "&digits=8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
	}
	for _, tt := range tests {
		if got := otp.Code(time.Unix(tt.unix, 0)); got != tt.want {
			t.Errorf("Code(%d) = %s, want %s", tt.unix, got, tt.want)
		}
	}
}

func TestOTPDefaults(t *testing.T) {
	otp, err := ParseOTPAuthURL("otpauth://totp/Test?secret=JBSWY3DPEHPK3PXP&issuer=Test")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	code := otp.Code(time.Unix(1111111109, 0))
	if len(code) != 6 {
		t.Fatalf("code %q, want 6 digits", code)
	}
	if otp.period != 30 {
		t.Fatalf("period = %d, want 30", otp.period)
	}
}

func TestOTPRemaining(t *testing.T) {
	otp, err := ParseOTPAuthURL("otpauth://totp/Test?secret=JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := otp.Remaining(time.Unix(60, 0)); got != 30*time.Second {
		t.Fatalf("Remaining at window start = %v, want 30s", got)
	}
	if got := otp.Remaining(time.Unix(89, 0)); got != time.Second {
		t.Fatalf("Remaining at window end = %v, want 1s", got)
	}
}

func TestParseOTPAuthURLErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"wrong scheme", "https://example.com?secret=JBSWY3DPEHPK3PXP"},
		{"hotp unsupported", "otpauth://hotp/Test?secret=JBSWY3DPEHPK3PXP"},
		{"no secret", "otpauth://totp/Test"},
		{"bad secret", "otpauth://totp/Test?secret=not!base32"},
		{"bad period", "otpauth://totp/Test?secret=JBSWY3DPEHPK3PXP&period=0"},
		{"bad digits", "otpauth://totp/Test?secret=JBSWY3DPEHPK3PXP&digits=4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseOTPAuthURL(tt.url); err == nil {
				t.Fatalf("ParseOTPAuthURL(%q) succeeded, want error", tt.url)
			}
		})
	}
}
