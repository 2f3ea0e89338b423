package ident_test

import (
	"testing"
	"time"

	"github.com/snehjoshi/osyncq/internal/ident"
)

func TestNewID_Format(t *testing.T) {
	id := ident.MustNewID()
	if len(id) != 26 {
		t.Errorf("ULID should be 26 chars, got %d: %s", len(id), id)
	}
	if err := ident.Validate(id); err != nil {
		t.Errorf("Validate(%s): %v", id, err)
	}
}

func TestNewID_Monotonic(t *testing.T) {
	prev := ident.MustNewID()
	for i := 0; i < 1000; i++ {
		next := ident.MustNewID()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTime_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	u, err := ident.At(at)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	got, err := ident.Time(u.String())
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("Time: want %v, got %v", at, got)
	}
}

func TestValidate_RejectsGarbage(t *testing.T) {
	if err := ident.Validate("not-a-ulid"); err == nil {
		t.Error("expected error for malformed id")
	}
	if _, err := ident.Time("short"); err == nil {
		t.Error("expected error from Time for malformed id")
	}
}
