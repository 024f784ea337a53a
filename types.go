package petauth

import (
	"github.com/petlink-dev/petauth/account"
)

// TokenPair is an issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AccountSummary is the public projection of an account returned by
// authentication operations. It never carries credentials.
type AccountSummary struct {
	ID        string
	Email     string
	Nickname  string
	Name      string
	AvatarURL string
	Role      string
	Provider  account.Provider
}

// RegisterInput is the payload for local registration. Both agreements are
// mandatory; registration without them is rejected.
type RegisterInput struct {
	Email        string
	Password     string
	Nickname     string
	Name         string
	Phone        string
	AgreeTerms   bool
	AgreePrivacy bool
}

// LoginResult is the outcome of a successful password or refresh
// authentication.
type LoginResult struct {
	Account AccountSummary
	Tokens  TokenPair
}

// OAuthResult is the outcome of a successful OAuth login. IsNewUser is true
// only when this call created the account; a concurrent login that lost the
// creation race gets the same account with false.
type OAuthResult struct {
	Account   AccountSummary
	Tokens    TokenPair
	IsNewUser bool
}

// PasswordHasher abstracts the credential hash so deployments can swap the
// default argon2id implementation.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

func summarize(acct *account.Account) AccountSummary {
	return AccountSummary{
		ID:        acct.ID,
		Email:     acct.Email,
		Nickname:  acct.Nickname,
		Name:      acct.Name,
		AvatarURL: acct.AvatarURL,
		Role:      acct.Role,
		Provider:  acct.Provider,
	}
}
