package petauth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/petlink-dev/petauth/account"
	"github.com/petlink-dev/petauth/verification"
)

// RequestFindID starts a find-id verification for the account holding the
// given phone number. The returned request id is the handle for VerifyFindID
// and ResendCode; the returned time is when the code stops working.
func (e *Engine) RequestFindID(ctx context.Context, phone string) (string, time.Time, error) {
	if e == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if e.flow == nil {
		return "", time.Time{}, ErrVerificationDisabled
	}
	if phone == "" {
		return "", time.Time{}, ErrInvalidInput
	}

	acct, err := e.accounts.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", time.Time{}, ErrAccountNotFound
		}
		return "", time.Time{}, err
	}

	req, err := e.flow.Create(ctx, verification.TypeFindID, acct.ID, phone)
	if err != nil {
		return "", time.Time{}, err
	}

	e.metrics.Inc(MetricVerificationRequested)
	e.emit(ctx, AuditEvent{
		EventType: AuditVerificationRequested,
		Success:   true,
		Metadata:  map[string]string{"type": string(verification.TypeFindID)},
	})
	return req.ID, req.ExpiresAt, nil
}

// VerifyFindID checks the submitted code and, on success, reveals the email
// of the account the request was created for. The request is left to expire
// naturally; only a completed password reset destroys its request.
func (e *Engine) VerifyFindID(ctx context.Context, requestID, code string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.flow == nil {
		return "", ErrVerificationDisabled
	}

	req, _, err := e.flow.Verify(ctx, requestID, verification.TypeFindID, code)
	if err != nil {
		e.metrics.Inc(MetricVerificationFailed)
		return "", mapVerificationError(err)
	}

	acct, err := e.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			// The account disappeared between request and verify.
			return "", ErrAccountNotFound
		}
		return "", err
	}

	e.metrics.Inc(MetricVerificationSucceeded)
	e.emit(ctx, AuditEvent{
		EventType: AuditVerificationPassed,
		AccountID: acct.ID,
		Success:   true,
		Metadata:  map[string]string{"type": string(verification.TypeFindID)},
	})
	return acct.Email, nil
}

// RequestPasswordReset starts a password-reset verification. Email and
// phone must both belong to the same account; any mismatch is reported as
// ErrAccountNotFound without saying which part was wrong. Social-only
// accounts have no password to reset.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, phone string) (string, time.Time, error) {
	if e == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	if e.flow == nil {
		return "", time.Time{}, ErrVerificationDisabled
	}
	if err := validateEmail(email); err != nil {
		return "", time.Time{}, err
	}
	if phone == "" {
		return "", time.Time{}, ErrInvalidInput
	}

	acct, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return "", time.Time{}, ErrAccountNotFound
		}
		return "", time.Time{}, err
	}
	if acct.Phone != phone {
		return "", time.Time{}, ErrAccountNotFound
	}
	if acct.SocialOnly() {
		return "", time.Time{}, ErrSocialAccount
	}

	req, err := e.flow.Create(ctx, verification.TypePasswordReset, acct.ID, phone)
	if err != nil {
		return "", time.Time{}, err
	}

	e.metrics.Inc(MetricVerificationRequested)
	e.emit(ctx, AuditEvent{
		EventType: AuditVerificationRequested,
		AccountID: acct.ID,
		Success:   true,
		Metadata:  map[string]string{"type": string(verification.TypePasswordReset)},
	})
	return req.ID, req.ExpiresAt, nil
}

// VerifyPasswordReset checks the submitted code and, on success, returns
// the single-use reset token for ConfirmPasswordReset. Re-verifying mints a
// fresh token and invalidates the previous one.
func (e *Engine) VerifyPasswordReset(ctx context.Context, requestID, code string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.flow == nil {
		return "", ErrVerificationDisabled
	}

	_, resetToken, err := e.flow.Verify(ctx, requestID, verification.TypePasswordReset, code)
	if err != nil {
		e.metrics.Inc(MetricVerificationFailed)
		return "", mapVerificationError(err)
	}

	e.metrics.Inc(MetricVerificationSucceeded)
	e.emit(ctx, AuditEvent{
		EventType: AuditVerificationPassed,
		Success:   true,
		Metadata:  map[string]string{"type": string(verification.TypePasswordReset)},
	})
	return resetToken, nil
}

// ResendCode replaces a pending request's code and redelivers it, returning
// the new expiry. The previous code stops working immediately.
func (e *Engine) ResendCode(ctx context.Context, requestID string) (time.Time, error) {
	if e == nil {
		return time.Time{}, ErrEngineNotReady
	}
	if e.flow == nil {
		return time.Time{}, ErrVerificationDisabled
	}

	req, err := e.flow.Resend(ctx, requestID)
	if err != nil {
		return time.Time{}, mapVerificationError(err)
	}
	e.metrics.Inc(MetricVerificationResent)
	return req.ExpiresAt, nil
}

// ConfirmPasswordReset consumes a reset token and replaces the account's
// password. The verification request is destroyed and any live session is
// invalidated, so existing refresh tokens die with the old password.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if e.flow == nil {
		return ErrVerificationDisabled
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	req, err := e.flow.ConsumeResetToken(ctx, resetToken)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetFailed)
		if errors.Is(err, verification.ErrNotFound) || errors.Is(err, verification.ErrNotVerified) {
			return ErrResetTokenInvalid
		}
		return err
	}

	acct, err := e.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		e.metrics.Inc(MetricPasswordResetFailed)
		if errors.Is(err, account.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if acct.SocialOnly() {
		e.metrics.Inc(MetricPasswordResetFailed)
		return ErrSocialAccount
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	acct.PasswordHash = hash
	e.guard.ResetOnSuccess(acct)
	acct.UpdatedAt = e.now()
	if err := e.accounts.Update(ctx, acct); err != nil {
		return err
	}

	// Destroy the request first so the token cannot be replayed even if
	// session invalidation fails.
	if err := e.flow.Complete(ctx, req.ID); err != nil {
		log.Printf("petauth: completing reset request %s: %v", req.ID, err)
	}
	if err := e.sessions.Invalidate(ctx, acct.ID); err != nil && !errors.Is(err, account.ErrNotFound) {
		log.Printf("petauth: invalidating session for %s after reset: %v", acct.ID, err)
	}

	e.metrics.Inc(MetricPasswordResetConfirmed)
	e.metrics.Inc(MetricSessionInvalidated)
	e.emit(ctx, AuditEvent{
		EventType: AuditPasswordResetDone,
		AccountID: acct.ID,
		Email:     acct.Email,
		Success:   true,
	})
	return nil
}
