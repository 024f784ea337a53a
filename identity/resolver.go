// Package identity reconciles external OAuth identities with local
// accounts. Given an authorization code it resolves exactly one account,
// creating it when nothing matches, and recovers deterministically when two
// logins for the same new user race each other.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petlink-dev/petauth/account"
)

var (
	// ErrUnsupportedProvider is returned when no client is registered for
	// the requested provider.
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
	// ErrExternalAuthFailed is returned when the provider rejects the
	// authorization code or returns an unusable profile.
	ErrExternalAuthFailed = errors.New("external authentication failed")
	// ErrInconsistentState is returned when a create lost a uniqueness
	// race but neither the email nor the provider identity can be found
	// afterwards. The store contents contradict themselves.
	ErrInconsistentState = errors.New("inconsistent account state")
)

// Profile is the normalized identity a provider client extracts from its
// userinfo response.
type Profile struct {
	ProviderID string
	Email      string
	Name       string
	Nickname   string
	AvatarURL  string
}

// Client exchanges an authorization code for a verified profile at one
// provider.
type Client interface {
	ExchangeCode(ctx context.Context, code string) (*Profile, error)
}

// Accounts is the persistence surface the resolver needs.
type Accounts interface {
	GetByEmail(ctx context.Context, email string) (*account.Account, error)
	GetByProvider(ctx context.Context, provider account.Provider, providerID string) (*account.Account, error)
	Insert(ctx context.Context, acct *account.Account) error
	Update(ctx context.Context, acct *account.Account) error
}

// Resolver maps (provider, code) pairs to accounts. Provider dispatch is a
// lookup in the client table, so adding a provider is registering a client,
// not growing a switch.
type Resolver struct {
	clients     map[account.Provider]Client
	accounts    Accounts
	defaultRole string
}

// NewResolver returns a resolver over the given client table. Accounts it
// creates get defaultRole; an empty defaultRole falls back to "user".
func NewResolver(accounts Accounts, clients map[account.Provider]Client, defaultRole string) (*Resolver, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if defaultRole == "" {
		defaultRole = "user"
	}
	table := make(map[account.Provider]Client, len(clients))
	for p, c := range clients {
		if c == nil {
			return nil, fmt.Errorf("nil client for provider %q", p)
		}
		table[p] = c
	}
	return &Resolver{clients: table, accounts: accounts, defaultRole: defaultRole}, nil
}

// Resolve exchanges code at the given provider and returns the one local
// account that identity belongs to. The boolean reports whether this call
// created the account; a concurrent login that loses the creation race gets
// the same account with false.
//
// Matching prefers email over the (provider, provider id) pair: an existing
// local account with the provider's email gets the external identity
// attached rather than a duplicate account created.
func (r *Resolver) Resolve(ctx context.Context, provider account.Provider, code string) (*account.Account, bool, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, false, ErrUnsupportedProvider
	}

	profile, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrExternalAuthFailed, err)
	}
	if profile == nil || profile.Email == "" || profile.ProviderID == "" {
		return nil, false, fmt.Errorf("%w: profile missing email or provider id", ErrExternalAuthFailed)
	}

	acct, err := r.findExisting(ctx, provider, profile)
	if err != nil {
		return nil, false, err
	}
	if acct != nil {
		return acct, false, nil
	}

	created, err := r.create(ctx, provider, profile)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, account.ErrDuplicateEmail) {
		return nil, false, err
	}

	// Lost the creation race. The winner's row must be findable by email
	// or by provider identity; anything else is corruption.
	acct, err = r.findExisting(ctx, provider, profile)
	if err != nil {
		return nil, false, err
	}
	if acct == nil {
		return nil, false, ErrInconsistentState
	}
	return acct, false, nil
}

func (r *Resolver) findExisting(ctx context.Context, provider account.Provider, profile *Profile) (*account.Account, error) {
	acct, err := r.accounts.GetByEmail(ctx, profile.Email)
	if err == nil {
		return r.attach(ctx, acct, provider, profile)
	}
	if !errors.Is(err, account.ErrNotFound) {
		return nil, err
	}

	acct, err = r.accounts.GetByProvider(ctx, provider, profile.ProviderID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, account.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// attach links the external identity to an account found by email and
// backfills profile attributes the account is missing.
func (r *Resolver) attach(ctx context.Context, acct *account.Account, provider account.Provider, profile *Profile) (*account.Account, error) {
	changed := false
	if acct.Provider == account.ProviderLocal {
		acct.Provider = provider
		acct.ProviderID = profile.ProviderID
		changed = true
	}
	if acct.AvatarURL == "" && profile.AvatarURL != "" {
		acct.AvatarURL = profile.AvatarURL
		changed = true
	}
	if acct.Name == "" && profile.Name != "" {
		acct.Name = profile.Name
		changed = true
	}

	if changed {
		if err := r.accounts.Update(ctx, acct); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

const createAttempts = 3

func (r *Resolver) create(ctx context.Context, provider account.Provider, profile *Profile) (*account.Account, error) {
	nickname := profile.Nickname
	if nickname == "" {
		nickname = nicknameFromEmail(profile.Email)
	}

	var lastErr error
	for attempt := 0; attempt < createAttempts; attempt++ {
		now := time.Now()
		acct := &account.Account{
			ID:         uuid.NewString(),
			Email:      profile.Email,
			Nickname:   nickname,
			Name:       profile.Name,
			AvatarURL:  profile.AvatarURL,
			Role:       r.defaultRole,
			Status:     account.StatusActive,
			Provider:   provider,
			ProviderID: profile.ProviderID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err := r.accounts.Insert(ctx, acct)
		if err == nil {
			return acct, nil
		}
		if errors.Is(err, account.ErrDuplicateNickname) {
			// Collision with an unrelated account; a suffixed retry
			// keeps the creation race path unambiguous.
			nickname = suffixedNickname(nickname)
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

func nicknameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		local = "user"
	}
	return local
}

func suffixedNickname(base string) string {
	return base + "-" + uuid.NewString()[:8]
}
