package petauth

import (
	"context"
	"errors"
	"log"

	"github.com/petlink-dev/petauth/session"
)

// Refresh rotates a refresh token: the presented token is spent and a
// fresh pair is issued. Presenting an already-rotated token destroys the
// session and returns ErrRefreshReuse; under concurrent calls with the same
// token exactly one caller wins the rotation.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	pair, acct, err := e.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrReplayDetected) {
			e.metrics.Inc(MetricReplayDetected)
			e.metrics.Inc(MetricSessionInvalidated)
			event := AuditEvent{
				EventType: AuditRefreshReplay,
				Error:     ErrRefreshReuse.Error(),
			}
			if acct != nil {
				event.AccountID = acct.ID
				event.Email = acct.Email
			}
			e.emit(ctx, event)
			return nil, ErrRefreshReuse
		}
		e.metrics.Inc(MetricRefreshFailure)
		return nil, mapSessionError(err)
	}

	// Status is checked after the rotation won: an inactive account's
	// fresh pair must not survive.
	if !acct.Active() {
		if invErr := e.sessions.Invalidate(ctx, acct.ID); invErr != nil {
			log.Printf("petauth: invalidating session for inactive account %s: %v", acct.ID, invErr)
		}
		e.metrics.Inc(MetricRefreshFailure)
		e.metrics.Inc(MetricSessionInvalidated)
		return nil, ErrAccessDenied
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emit(ctx, AuditEvent{
		EventType: AuditRefresh,
		AccountID: acct.ID,
		Email:     acct.Email,
		Success:   true,
	})

	return &LoginResult{
		Account: summarize(acct),
		Tokens:  TokenPair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
	}, nil
}
