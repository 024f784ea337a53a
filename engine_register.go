package petauth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/petlink-dev/petauth/account"
)

// Register creates a local account from the given input. The email and
// nickname must be unused; the store's uniqueness claims arbitrate
// concurrent registrations for the same email, so of N racing calls exactly
// one succeeds and the rest get ErrDuplicateEmail.
//
// Registration does not log the account in. The caller follows up with
// Login when auto-login is wanted.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*AccountSummary, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if err := validateRegisterInput(in); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	acct := &account.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Nickname:     in.Nickname,
		Name:         in.Name,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         e.config.Account.DefaultRole,
		Status:       account.StatusActive,
		Provider:     account.ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.accounts.Insert(ctx, acct); err != nil {
		switch {
		case errors.Is(err, account.ErrDuplicateEmail):
			e.metrics.Inc(MetricRegisterDuplicate)
			return nil, ErrDuplicateEmail
		case errors.Is(err, account.ErrDuplicateNickname):
			e.metrics.Inc(MetricRegisterDuplicate)
			return nil, ErrDuplicateNickname
		case errors.Is(err, account.ErrDuplicatePhone):
			e.metrics.Inc(MetricRegisterDuplicate)
			return nil, ErrDuplicatePhone
		default:
			return nil, err
		}
	}

	e.metrics.Inc(MetricRegisterSuccess)
	e.emit(ctx, AuditEvent{
		EventType: AuditRegister,
		AccountID: acct.ID,
		Email:     acct.Email,
		Success:   true,
	})

	summary := summarize(acct)
	return &summary, nil
}
