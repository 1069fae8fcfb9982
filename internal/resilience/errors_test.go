package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("leetcode: profile: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"plain", errors.New("invalid input: missing field"), false},
		{"status error", &StatusError{StatusCode: 404}, false},
		{"conn reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"tls pattern", errors.New("net/http: TLS handshake timeout"), true},
		{"no such host", errors.New("dial tcp: lookup leetcode.com: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNetworkFailure_IgnoresHTTPStatus(t *testing.T) {
	if IsNetworkFailure(NewTransientError(errors.New("http 429"), 429)) {
		t.Error("a 429 answer means the service is reachable")
	}
	if !IsNetworkFailure(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)) {
		t.Error("refused connection should count as unreachable")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestTransientError_UnwrapAndHint(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 429).WithRetryAfter(3 * time.Second)

	if !errors.Is(te, inner) {
		t.Error("TransientError.Unwrap should return the inner error")
	}
	if te.Error() != "root cause" {
		t.Errorf("unexpected message %q", te.Error())
	}
	wrapped := fmt.Errorf("stackexchange: users: %w", te)
	if got := RetryAfter(wrapped); got != 3*time.Second {
		t.Errorf("expected 3s hint, got %v", got)
	}
	if got := StatusCode(wrapped); got != 429 {
		t.Errorf("expected status 429, got %d", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := ParseRetryAfter("20", now); got != 20*time.Second {
		t.Errorf("seconds form: got %v", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(date, now); got != 90*time.Second {
		t.Errorf("date form: got %v", got)
	}
	for _, v := range []string{"", "soon", "-4"} {
		if got := ParseRetryAfter(v, now); got != 0 {
			t.Errorf("ParseRetryAfter(%q) = %v, want 0", v, got)
		}
	}
}

func TestParseRateLimitReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	if got := ParseRateLimitReset("1700000042", now); got != 42*time.Second {
		t.Errorf("expected 42s, got %v", got)
	}
	if got := ParseRateLimitReset("1699999999", now); got != 0 {
		t.Errorf("past reset should be 0, got %v", got)
	}
	if got := ParseRateLimitReset("", now); got != 0 {
		t.Errorf("missing header should be 0, got %v", got)
	}
}
