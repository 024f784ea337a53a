package petauth

import (
	"context"
	"errors"
	"log"

	"github.com/petlink-dev/petauth/account"
)

// Login authenticates an email/password pair and issues a session.
//
// The lockout check runs before the password compare: a locked account
// rejects even the correct password, and the failure that crossed the
// threshold is itself reported as plain invalid credentials. Locks expire
// lazily; the first login attempt after the window clears the counter.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	acct, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			e.metrics.Inc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if e.guard.IsLocked(acct) {
		e.metrics.Inc(MetricLoginLocked)
		e.emit(ctx, AuditEvent{
			EventType: AuditLoginLocked,
			AccountID: acct.ID,
			Email:     acct.Email,
			Error:     ErrAccountLocked.Error(),
		})
		return nil, ErrAccountLocked
	}

	if !e.verifyPassword(password, acct) {
		lockedNow := e.guard.RecordFailure(acct)
		acct.UpdatedAt = e.now()
		if updateErr := e.accounts.Update(ctx, acct); updateErr != nil {
			log.Printf("petauth: persisting login failure for %s: %v", acct.ID, updateErr)
		}

		e.metrics.Inc(MetricLoginFailure)
		event := AuditEvent{
			EventType: AuditLoginFailed,
			AccountID: acct.ID,
			Email:     acct.Email,
			Error:     ErrInvalidCredentials.Error(),
		}
		if lockedNow {
			event.EventType = AuditLoginLocked
			event.Error = ErrAccountLocked.Error()
		}
		e.emit(ctx, event)
		return nil, ErrInvalidCredentials
	}

	if !acct.Active() {
		e.metrics.Inc(MetricLoginFailure)
		return nil, ErrAccessDenied
	}

	e.guard.ResetOnSuccess(acct)
	acct.LastLoginAt = e.now()
	acct.UpdatedAt = acct.LastLoginAt
	if err := e.accounts.Update(ctx, acct); err != nil {
		return nil, err
	}

	pair, err := e.sessions.IssueSession(ctx, acct)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, AuditEvent{
		EventType: AuditLogin,
		AccountID: acct.ID,
		Email:     acct.Email,
		Success:   true,
	})

	return &LoginResult{
		Account: summarize(acct),
		Tokens:  TokenPair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
	}, nil
}

// Logout destroys the account's current session. Logging out an account
// with no session is a no-op.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.sessions.Invalidate(ctx, accountID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	e.metrics.Inc(MetricSessionInvalidated)
	e.emit(ctx, AuditEvent{
		EventType: AuditLogout,
		AccountID: accountID,
		Success:   true,
	})
	return nil
}

// verifyPassword runs the credential compare. Accounts without a local
// password (social-only) always fail; hash parse failures are treated as a
// mismatch rather than surfaced to the caller.
func (e *Engine) verifyPassword(password string, acct *account.Account) bool {
	if acct.PasswordHash == "" {
		return false
	}
	ok, err := e.hasher.Verify(password, acct.PasswordHash)
	if err != nil {
		log.Printf("petauth: verifying password for %s: %v", acct.ID, err)
		return false
	}
	return ok
}
