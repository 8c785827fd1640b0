package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sportbot/internal/booking"
	logx "sportbot/pkg/logx"
)

const testOTPURL = "otpauth://totp/Test?secret=JBSWY3DPEHPK3PXP"

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Username:   "user",
		Password:   "pass",
		OTPAuthURL: testOTPURL,
		Timeout:    time.Second,
	}
}

func TestClientLogin(t *testing.T) {
	var gotOTP string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotOTP = body["otp"]
		if body["username"] != "user" || body["password"] != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), logx.Logger{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if len(gotOTP) != 6 {
		t.Fatalf("otp = %q, want 6 digits", gotOTP)
	}
}

func TestClientLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "bad credentials"})
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), logx.Logger{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Login(context.Background()); err == nil {
		t.Fatal("login succeeded, want error")
	}
}

func TestAttemptBooking(t *testing.T) {
	course := booking.Course{Name: "Yoga", Location: "Hall 2", Weekday: time.Monday, TimeStart: "18:00"}
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		status  int
		want    bool
		wantErr bool
	}{
		{"created", http.StatusCreated, true, false},
		{"slot full", http.StatusConflict, false, false},
		{"not yet open", http.StatusUnprocessableEntity, false, false},
		{"session expired", http.StatusUnauthorized, false, true},
		{"server error", http.StatusInternalServerError, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/bookings" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				if body["date"] != "2025-03-10" || body["activity"] != "Yoga" {
					t.Errorf("unexpected payload %v", body)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c, err := NewClient(testConfig(srv.URL), logx.Logger{})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			got, err := c.AttemptBooking(context.Background(), course, date)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ok = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchCourses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"slots": []map[string]any{
				{"activity": "Yoga", "location": "Hall 2", "weekday": "Monday", "time_start": "18:00", "time_end": "19:00"},
				{"activity": "Gym", "location": "Fit", "weekday": "??", "time_start": "08:00"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), logx.Logger{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	courses, err := c.FetchCourses(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	// The slot with an unparseable weekday is dropped.
	if len(courses) != 1 || courses[0].Name != "Yoga" || courses[0].Weekday != time.Monday {
		t.Fatalf("courses = %+v", courses)
	}
}

func TestSessionManagerSerializes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewSessionManager(testConfig(srv.URL), logx.Logger{})

	_, release, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// A second caller must block until the first releases.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := m.Acquire(ctx); err == nil {
		t.Fatal("second acquire succeeded while session was held")
	}

	release()

	_, release2, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}
