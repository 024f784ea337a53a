// Package account defines the account record shared by the authentication
// engine and its storage backends, together with the store contract every
// backend must satisfy.
//
// # Architecture boundaries
//
// This package owns the account model and the [Store] interface. It performs
// no I/O and imports no sibling package, so every other package (session,
// identity, redisstore, the engine root) can depend on it without cycles.
package account

import (
	"context"
	"errors"
	"time"
)

// Provider identifies where an account's credentials originate.
type Provider string

const (
	// ProviderLocal marks accounts registered with an email and password.
	ProviderLocal Provider = "local"
	// ProviderGoogle marks accounts reconciled from Google OAuth.
	ProviderGoogle Provider = "google"
	// ProviderKakao marks accounts reconciled from Kakao OAuth.
	ProviderKakao Provider = "kakao"
	// ProviderNaver marks accounts reconciled from Naver OAuth.
	ProviderNaver Provider = "naver"
)

// Status represents the lifecycle state of an account.
type Status uint8

const (
	// StatusActive is the normal, login-capable state.
	StatusActive Status = iota
	// StatusSuspended blocks authentication until an operator intervenes.
	StatusSuspended
	// StatusDeleted marks a soft-deleted account.
	StatusDeleted
)

var (
	// ErrNotFound is returned by lookups that match no account.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail is returned by Insert when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateNickname is returned by Insert when the nickname is taken.
	ErrDuplicateNickname = errors.New("nickname already registered")
	// ErrDuplicatePhone is returned by Insert and Update when the phone
	// number is claimed by another account.
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrRefreshMismatch is returned by RotateRefreshTokenHash when the
	// provided hash does not match the stored one. The store has already
	// cleared the stored hash when this is returned.
	ErrRefreshMismatch = errors.New("refresh token hash mismatch")
	// ErrUnavailable wraps backend failures (network, timeouts).
	ErrUnavailable = errors.New("account store unavailable")
)

// Account is the identity + credential record contended by concurrent
// authentication flows.
//
// Invariants:
//   - Provider == ProviderLocal implies PasswordHash is non-empty; any other
//     provider may leave it empty (social-only account).
//   - RefreshTokenHash holds the SHA-256 digest of the single currently
//     valid refresh token, or "" when none. It is overwritten, never
//     appended, and only mutated through the dedicated Store methods.
//   - LockedUntil is the zero time when the account is not locked out.
type Account struct {
	ID           string
	Email        string
	Nickname     string
	Name         string
	Phone        string
	AvatarURL    string
	PasswordHash string
	Role         string
	Status       Status
	Provider     Provider
	ProviderID   string

	RefreshTokenHash string

	FailedLogins int
	LockedUntil  time.Time
	LastLoginAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool {
	return a.Status == StatusActive
}

// SocialOnly reports whether the account has no local password credential.
func (a *Account) SocialOnly() bool {
	return a.Provider != ProviderLocal && a.PasswordHash == ""
}

// Store is the keyed persistence contract for accounts.
//
// Update persists every field except RefreshTokenHash; the refresh hash is
// only written through SetRefreshTokenHash, RotateRefreshTokenHash, and
// ClearRefreshToken so that concurrent rotations stay serialized on a single
// compare-and-set point.
type Store interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByNickname(ctx context.Context, nickname string) (*Account, error)
	GetByPhone(ctx context.Context, phone string) (*Account, error)
	GetByProvider(ctx context.Context, provider Provider, providerID string) (*Account, error)

	Insert(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error

	SetRefreshTokenHash(ctx context.Context, id, hash string) error

	// RotateRefreshTokenHash atomically compares the stored refresh hash
	// with providedHash and, on a match, replaces it with nextHash. A
	// missing or different stored value clears the stored hash and returns
	// ErrRefreshMismatch: the presented token has been stolen, reused, or
	// already rotated, and the session must be re-established.
	RotateRefreshTokenHash(ctx context.Context, id, providedHash, nextHash string) error

	ClearRefreshToken(ctx context.Context, id string) error
}
