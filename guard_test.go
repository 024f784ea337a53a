package petauth

import (
	"testing"
	"time"

	"github.com/petlink-dev/petauth/account"
)

func newTestGuard(threshold int, lockout time.Duration, clock *time.Time) *LoginGuard {
	g := NewLoginGuard(threshold, lockout)
	g.now = func() time.Time { return *clock }
	return g
}

func TestGuardLocksAtThreshold(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(3, 30*time.Minute, &clock)
	acct := &account.Account{ID: "a1"}

	if g.RecordFailure(acct) {
		t.Fatal("first failure should not lock")
	}
	if g.RecordFailure(acct) {
		t.Fatal("second failure should not lock")
	}
	if g.IsLocked(acct) {
		t.Fatal("account locked below threshold")
	}
	if !g.RecordFailure(acct) {
		t.Fatal("third failure should lock")
	}
	if !g.IsLocked(acct) {
		t.Fatal("account not locked at threshold")
	}
	if got, want := acct.LockedUntil, clock.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("LockedUntil = %v, want %v", got, want)
	}
}

func TestGuardLazyExpiry(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(3, 30*time.Minute, &clock)
	acct := &account.Account{ID: "a1"}

	for i := 0; i < 3; i++ {
		g.RecordFailure(acct)
	}
	if !g.IsLocked(acct) {
		t.Fatal("account not locked")
	}

	// One second before expiry the lock still holds.
	clock = clock.Add(30*time.Minute - time.Second)
	if !g.IsLocked(acct) {
		t.Fatal("lock released early")
	}

	clock = clock.Add(2 * time.Second)
	if g.IsLocked(acct) {
		t.Fatal("lock not released after expiry")
	}
	if acct.FailedLogins != 0 || !acct.LockedUntil.IsZero() {
		t.Fatalf("expired lock not cleared: failures=%d lockedUntil=%v", acct.FailedLogins, acct.LockedUntil)
	}
}

func TestGuardResetOnSuccess(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := newTestGuard(5, 30*time.Minute, &clock)
	acct := &account.Account{ID: "a1"}

	if g.ResetOnSuccess(acct) {
		t.Fatal("reset on a clean account reported a change")
	}

	g.RecordFailure(acct)
	g.RecordFailure(acct)
	if !g.ResetOnSuccess(acct) {
		t.Fatal("reset after failures reported no change")
	}
	if acct.FailedLogins != 0 {
		t.Fatalf("FailedLogins = %d after reset", acct.FailedLogins)
	}

	// Counter starts over after a reset.
	for i := 0; i < 4; i++ {
		if g.RecordFailure(acct) {
			t.Fatalf("locked after %d post-reset failures", i+1)
		}
	}
	if !g.RecordFailure(acct) {
		t.Fatal("fifth post-reset failure should lock")
	}
}
