package env

import (
	"testing"
	"time"
)

func TestStrFallback(t *testing.T) {
	t.Setenv("LF_TEST_STR", "")
	if got := Str("LF_TEST_STR", "dflt"); got != "dflt" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("LF_TEST_STR", "set")
	if got := Str("LF_TEST_STR", "dflt"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}

func TestIntIgnoresGarbage(t *testing.T) {
	t.Setenv("LF_TEST_INT", "abc")
	if got := Int("LF_TEST_INT", 7); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
	t.Setenv("LF_TEST_INT", "42")
	if got := Int("LF_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":      5 * time.Second,
		"90s":   90 * time.Second,
		"2":     2 * time.Second,
		"0.5":   500 * time.Millisecond,
		"bogus": 5 * time.Second,
	}
	for in, want := range cases {
		t.Setenv("LF_TEST_DUR", in)
		if got := Duration("LF_TEST_DUR", 5*time.Second); got != want {
			t.Fatalf("Duration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBoolAndFloat(t *testing.T) {
	t.Setenv("LF_TEST_BOOL", "true")
	if !Bool("LF_TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("LF_TEST_FLOAT", "0.25")
	if got := Float("LF_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("expected 0.25, got %v", got)
	}
}
