package petauth

import (
	"context"
	"errors"
	"time"

	"github.com/petlink-dev/petauth/account"
	"github.com/petlink-dev/petauth/identity"
	"github.com/petlink-dev/petauth/session"
	"github.com/petlink-dev/petauth/token"
	"github.com/petlink-dev/petauth/verification"
)

// Engine is the authentication façade: local registration and login with
// brute-force lockout, refresh rotation with replay detection, OAuth
// reconciliation, and the SMS verification flows behind find-id and
// password reset.
//
// An Engine is safe for concurrent use. All engine state lives in the
// backing stores; apart from the optional audit dispatcher no goroutine
// outlives the call that needed it.
type Engine struct {
	config   Config
	accounts account.Store
	codec    *token.Codec
	hasher   PasswordHasher
	guard    *LoginGuard
	sessions *session.Registry
	flow     *verification.Flow
	resolver *identity.Resolver
	audit    *auditDispatcher
	metrics  *Metrics
	now      func() time.Time
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// ValidateAccess verifies an access token and returns its claims.
func (e *Engine) ValidateAccess(tokenStr string) (*token.AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := e.now()
	claims, err := e.codec.ValidateAccess(tokenStr)
	e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

// CheckEmailAvailable reports whether no account holds the given email.
func (e *Engine) CheckEmailAvailable(ctx context.Context, email string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if err := validateEmail(email); err != nil {
		return false, err
	}

	_, err := e.accounts.GetByEmail(ctx, email)
	if errors.Is(err, account.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// CheckNicknameAvailable reports whether no account holds the given
// nickname.
func (e *Engine) CheckNicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if nickname == "" {
		return false, ErrInvalidInput
	}

	_, err := e.accounts.GetByNickname(ctx, nickname)
	if errors.Is(err, account.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (e *Engine) emit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = e.now()
	e.audit.Emit(ctx, event)
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrBadSignature),
		errors.Is(err, token.ErrUnsupported):
		return ErrTokenInvalid
	default:
		return err
	}
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrExpiredToken):
		return ErrTokenExpired
	case errors.Is(err, session.ErrInvalidToken):
		return ErrTokenInvalid
	case errors.Is(err, session.ErrReplayDetected):
		return ErrRefreshReuse
	default:
		return err
	}
}

func mapVerificationError(err error) error {
	switch {
	case errors.Is(err, verification.ErrNotFound):
		return ErrVerificationNotFound
	case errors.Is(err, verification.ErrWrongType):
		return ErrVerificationNotFound
	case errors.Is(err, verification.ErrExpired):
		return ErrVerificationExpired
	case errors.Is(err, verification.ErrCodeMismatch):
		return ErrVerificationCodeMismatch
	case errors.Is(err, verification.ErrNotVerified):
		return ErrResetTokenInvalid
	default:
		return err
	}
}

func mapIdentityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrUnsupportedProvider):
		return ErrProviderUnsupported
	case errors.Is(err, identity.ErrExternalAuthFailed):
		return ErrExternalAuthFailed
	case errors.Is(err, identity.ErrInconsistentState):
		return ErrInconsistentState
	default:
		return err
	}
}
