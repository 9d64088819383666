package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("REPROSERVER_ENV_TEST_STRING", "value")
	if got := String("REPROSERVER_ENV_TEST_STRING", "fallback"); got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
	if got := String("REPROSERVER_ENV_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("REPROSERVER_ENV_TEST_DURATION", "250ms")
	got, err := Duration("REPROSERVER_ENV_TEST_DURATION", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("Duration()=%v, want 250ms", got)
	}
	if _, err := Duration("REPROSERVER_ENV_TEST_STRING_BAD", 0); err != nil {
		t.Fatalf("Duration() default err=%v", err)
	}
}

func TestDuration_Invalid(t *testing.T) {
	t.Setenv("REPROSERVER_ENV_TEST_DURATION_BAD", "not-a-duration")
	if _, err := Duration("REPROSERVER_ENV_TEST_DURATION_BAD", time.Second); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("REPROSERVER_ENV_TEST_BOOL", "true")
	got, err := Bool("REPROSERVER_ENV_TEST_BOOL", false)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if !got {
		t.Fatalf("Bool()=false, want true")
	}
}

func TestInt(t *testing.T) {
	t.Setenv("REPROSERVER_ENV_TEST_INT", "42")
	got, err := Int("REPROSERVER_ENV_TEST_INT", 7)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%d, want 42", got)
	}
}
