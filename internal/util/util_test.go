package util

import (
	"testing"
	"time"
)

func TestValidatePort(t *testing.T) {
	for _, port := range []int{1, 22, 65535} {
		if err := ValidatePort(port); err != nil {
			t.Fatalf("port %d should be valid: %v", port, err)
		}
	}
	for _, port := range []int{0, -1, 65536} {
		if err := ValidatePort(port); err == nil {
			t.Fatalf("port %d should be rejected", port)
		}
	}
}

func TestFormatUptime(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "1m"},
		{90 * time.Second, "1m"},
		{14 * time.Minute, "14m"},
		{2*time.Hour + 14*time.Minute, "2h 14m"},
		{73 * time.Hour, "3d 1h"},
	}
	for _, c := range cases {
		if got := FormatUptime(c.d); got != c.want {
			t.Fatalf("FormatUptime(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}

func TestDefaultString(t *testing.T) {
	if got := DefaultString("", "fallback"); got != "fallback" {
		t.Fatalf("got %q", got)
	}
	if got := DefaultString("value", "fallback"); got != "value" {
		t.Fatalf("got %q", got)
	}
}

func TestEmptyDash(t *testing.T) {
	if got := EmptyDash(""); got != "-" {
		t.Fatalf("got %q", got)
	}
	if got := EmptyDash("x"); got != "x" {
		t.Fatalf("got %q", got)
	}
}
