package devapi

import (
	"testing"
	"time"
)

func TestLoginLockoutLocksAndExpires(t *testing.T) {
	t.Parallel()
	current := time.Unix(1000, 0)
	lockout := NewLoginLockout(2, time.Minute)
	lockout.now = func() time.Time { return current }

	if lockout.RecordFailure("Alice") {
		t.Fatalf("first failure must not lock")
	}
	if !lockout.RecordFailure("alice ") {
		t.Fatalf("second failure must lock")
	}
	if !lockout.Locked("ALICE") {
		t.Fatalf("expected username to be locked regardless of case")
	}
	if lockout.Locked("bob") {
		t.Fatalf("other users must not be locked")
	}

	current = current.Add(2 * time.Minute)
	if lockout.Locked("alice") {
		t.Fatalf("lock must expire after the window")
	}
	if len(lockout.entries) != 0 {
		t.Fatalf("expected expired entries purged, got %d", len(lockout.entries))
	}
}

func TestLoginLockoutWindowAndReset(t *testing.T) {
	t.Parallel()
	current := time.Unix(1000, 0)
	lockout := NewLoginLockout(2, time.Minute)
	lockout.now = func() time.Time { return current }

	lockout.RecordFailure("alice")
	current = current.Add(90 * time.Second)
	if lockout.RecordFailure("alice") {
		t.Fatalf("failures in different windows must not lock")
	}
	lockout.Reset("alice")
	if lockout.RecordFailure("alice") {
		t.Fatalf("reset must forget earlier failures")
	}

	disabled := NewLoginLockout(0, time.Minute)
	for attempt := 0; attempt < 10; attempt++ {
		disabled.RecordFailure("alice")
	}
	if disabled.Locked("alice") {
		t.Fatalf("zero threshold disables lockout")
	}
	var absent *LoginLockout
	if absent.Locked("alice") || absent.RecordFailure("alice") {
		t.Fatalf("nil lockout never locks")
	}
}
