package petauth

import (
	"time"

	"github.com/petlink-dev/petauth/account"
)

// LoginGuard is the brute-force lockout state machine. It mutates the
// in-memory account record only; persisting the mutation is the caller's
// job, so a single Update can carry lockout state together with whatever
// else the operation changed.
//
// Locks expire lazily: nothing runs in the background, the elapsed lock is
// simply cleared the next time the account is checked.
type LoginGuard struct {
	threshold int
	lockout   time.Duration
	now       func() time.Time
}

// NewLoginGuard creates a guard that locks after threshold consecutive
// failures for the given duration.
func NewLoginGuard(threshold int, lockout time.Duration) *LoginGuard {
	return &LoginGuard{threshold: threshold, lockout: lockout, now: time.Now}
}

// IsLocked reports whether the account is currently locked out. An elapsed
// lock is cleared on the record (counter included) and reported unlocked;
// the caller persists the cleared state with its next write.
func (g *LoginGuard) IsLocked(acct *account.Account) bool {
	if acct.LockedUntil.IsZero() {
		return false
	}
	if g.now().Before(acct.LockedUntil) {
		return true
	}

	acct.LockedUntil = time.Time{}
	acct.FailedLogins = 0
	return false
}

// RecordFailure counts one failed attempt and reports whether this attempt
// crossed the threshold and locked the account.
func (g *LoginGuard) RecordFailure(acct *account.Account) bool {
	acct.FailedLogins++
	if acct.FailedLogins < g.threshold {
		return false
	}

	acct.LockedUntil = g.now().Add(g.lockout)
	return true
}

// ResetOnSuccess clears the failure counter after a successful
// authentication and reports whether anything changed.
func (g *LoginGuard) ResetOnSuccess(acct *account.Account) bool {
	if acct.FailedLogins == 0 && acct.LockedUntil.IsZero() {
		return false
	}
	acct.FailedLogins = 0
	acct.LockedUntil = time.Time{}
	return true
}
