package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/petlink-dev/petauth/account"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*account.Account

	// insertsBlindEmail makes Insert fail with ErrDuplicateEmail without
	// recording the row, simulating a lost race whose winner is invisible.
	insertsBlindEmail bool
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*account.Account)}
}

func (s *memAccounts) GetByEmail(_ context.Context, email string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, account.ErrNotFound
}

func (s *memAccounts) GetByProvider(_ context.Context, provider account.Provider, providerID string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Provider == provider && a.ProviderID == providerID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, account.ErrNotFound
}

func (s *memAccounts) Insert(_ context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertsBlindEmail {
		return account.ErrDuplicateEmail
	}
	for _, a := range s.accounts {
		if a.Email == acct.Email {
			return account.ErrDuplicateEmail
		}
		if a.Nickname == acct.Nickname {
			return account.ErrDuplicateNickname
		}
	}
	copied := *acct
	s.accounts[acct.ID] = &copied
	return nil
}

func (s *memAccounts) Update(_ context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; !ok {
		return account.ErrNotFound
	}
	copied := *acct
	s.accounts[acct.ID] = &copied
	return nil
}

func (s *memAccounts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

type stubClient struct {
	profile *Profile
	err     error
}

func (c *stubClient) ExchangeCode(_ context.Context, _ string) (*Profile, error) {
	if c.err != nil {
		return nil, c.err
	}
	copied := *c.profile
	return &copied, nil
}

func googleProfile() *Profile {
	return &Profile{
		ProviderID: "google-123",
		Email:      "pat@example.com",
		Name:       "Pat",
		AvatarURL:  "https://img.example.com/pat.png",
	}
}

func newTestResolver(t *testing.T, store Accounts, client Client) *Resolver {
	t.Helper()

	r, err := NewResolver(store, map[account.Provider]Client{
		account.ProviderGoogle: client,
	}, "user")
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	return r
}

func TestResolveRejectsUnknownProvider(t *testing.T) {
	r := newTestResolver(t, newMemAccounts(), &stubClient{profile: googleProfile()})

	_, _, err := r.Resolve(context.Background(), account.ProviderNaver, "code")
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}

func TestResolveWrapsExchangeFailure(t *testing.T) {
	r := newTestResolver(t, newMemAccounts(), &stubClient{err: errors.New("code rejected")})

	_, _, err := r.Resolve(context.Background(), account.ProviderGoogle, "bad-code")
	if !errors.Is(err, ErrExternalAuthFailed) {
		t.Fatalf("err = %v, want ErrExternalAuthFailed", err)
	}
}

func TestResolveCreatesAccount(t *testing.T) {
	store := newMemAccounts()
	r := newTestResolver(t, store, &stubClient{profile: googleProfile()})

	acct, isNew, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !isNew {
		t.Fatal("isNew = false for a freshly created account")
	}
	if acct.Email != "pat@example.com" || acct.Provider != account.ProviderGoogle {
		t.Fatalf("unexpected account %+v", acct)
	}
	if acct.PasswordHash != "" {
		t.Fatal("social account was given a password hash")
	}
	if acct.Nickname == "" {
		t.Fatal("created account has no nickname")
	}
	if acct.CreatedAt.IsZero() || !acct.UpdatedAt.Equal(acct.CreatedAt) {
		t.Fatalf("timestamps not stamped at creation: created=%v updated=%v", acct.CreatedAt, acct.UpdatedAt)
	}

	// A second login with the same identity finds the same row.
	again, isNew, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if isNew {
		t.Fatal("isNew = true on a repeat login")
	}
	if again.ID != acct.ID {
		t.Fatal("repeat login resolved a different account")
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d accounts, want 1", store.count())
	}
}

func TestResolveAttachesToLocalAccount(t *testing.T) {
	store := newMemAccounts()
	existing := &account.Account{
		ID:           "local-1",
		Email:        "pat@example.com",
		Nickname:     "pat",
		PasswordHash: "$argon2id$...",
		Role:         "user",
		Status:       account.StatusActive,
		Provider:     account.ProviderLocal,
	}
	if err := store.Insert(context.Background(), existing); err != nil {
		t.Fatalf("seed Insert failed: %v", err)
	}

	r := newTestResolver(t, store, &stubClient{profile: googleProfile()})
	acct, isNew, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if isNew {
		t.Fatal("attaching to an existing account reported isNew")
	}
	if acct.ID != "local-1" {
		t.Fatalf("resolved %s, want local-1", acct.ID)
	}
	if acct.Provider != account.ProviderGoogle || acct.ProviderID != "google-123" {
		t.Fatal("external identity not attached")
	}
	if acct.AvatarURL != "https://img.example.com/pat.png" {
		t.Fatal("avatar not backfilled")
	}
	if acct.PasswordHash == "" {
		t.Fatal("attach cleared the password hash")
	}
}

func TestResolveConcurrentCreateHasOneWinner(t *testing.T) {
	store := newMemAccounts()
	r := newTestResolver(t, store, &stubClient{profile: googleProfile()})

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	type outcome struct {
		id    string
		isNew bool
		err   error
	}
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			acct, isNew, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
			if err != nil {
				results <- outcome{err: err}
				return
			}
			results <- outcome{id: acct.ID, isNew: isNew}
		}()
	}
	wg.Wait()
	close(results)

	creates := 0
	ids := make(map[string]bool)
	for res := range results {
		if res.err != nil {
			t.Fatalf("Resolve failed: %v", res.err)
		}
		if res.isNew {
			creates++
		}
		ids[res.id] = true
	}
	if creates != 1 {
		t.Fatalf("%d calls reported isNew, want exactly 1", creates)
	}
	if len(ids) != 1 {
		t.Fatalf("resolved %d distinct accounts, want 1", len(ids))
	}
	if store.count() != 1 {
		t.Fatalf("store holds %d accounts, want 1", store.count())
	}
}

func TestResolveRetriesNicknameCollision(t *testing.T) {
	store := newMemAccounts()
	squatter := &account.Account{
		ID:       "other-1",
		Email:    "other@example.com",
		Nickname: "pat",
		Status:   account.StatusActive,
		Provider: account.ProviderLocal,
	}
	if err := store.Insert(context.Background(), squatter); err != nil {
		t.Fatalf("seed Insert failed: %v", err)
	}

	r := newTestResolver(t, store, &stubClient{profile: googleProfile()})
	acct, isNew, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !isNew {
		t.Fatal("isNew = false for a created account")
	}
	if acct.Nickname == "pat" {
		t.Fatal("collision was not resolved with a distinct nickname")
	}
}

func TestResolveReportsInconsistentState(t *testing.T) {
	store := newMemAccounts()
	store.insertsBlindEmail = true

	r := newTestResolver(t, store, &stubClient{profile: googleProfile()})
	_, _, err := r.Resolve(context.Background(), account.ProviderGoogle, "code")
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("err = %v, want ErrInconsistentState", err)
	}
}
