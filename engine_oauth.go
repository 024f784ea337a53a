package petauth

import (
	"context"

	"github.com/petlink-dev/petauth/account"
)

// OAuthLogin exchanges an authorization code at the given provider,
// reconciles the external identity with exactly one local account, and
// issues a session. IsNewUser reports whether this call created the
// account; a login that lost a concurrent creation race resolves the
// winner's account with IsNewUser false.
func (e *Engine) OAuthLogin(ctx context.Context, provider account.Provider, code string) (*OAuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	acct, isNew, err := e.resolver.Resolve(ctx, provider, code)
	if err != nil {
		e.metrics.Inc(MetricOAuthFailure)
		return nil, mapIdentityError(err)
	}

	if !acct.Active() {
		e.metrics.Inc(MetricOAuthFailure)
		return nil, ErrAccessDenied
	}

	acct.LastLoginAt = e.now()
	acct.UpdatedAt = acct.LastLoginAt
	if err := e.accounts.Update(ctx, acct); err != nil {
		return nil, err
	}

	pair, err := e.sessions.IssueSession(ctx, acct)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricOAuthLoginSuccess)
	if isNew {
		e.metrics.Inc(MetricOAuthAccountCreated)
	}
	e.emit(ctx, AuditEvent{
		EventType: AuditOAuthLogin,
		AccountID: acct.ID,
		Email:     acct.Email,
		Provider:  string(provider),
		Success:   true,
		Metadata:  map[string]string{"is_new_user": boolString(isNew)},
	})

	return &OAuthResult{
		Account:   summarize(acct),
		Tokens:    TokenPair{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken},
		IsNewUser: isNew,
	}, nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
