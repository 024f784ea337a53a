// Package session owns the single valid refresh token per account: issuing
// a fresh access/refresh pair, rotating the pair on every refresh call, and
// detecting replay of already-rotated tokens.
//
// The registry never stores token strings. It persists the SHA-256 digest of
// the current refresh token on the account record and relies on the store's
// atomic compare-and-set to serialize concurrent rotations: under N
// concurrent calls with the same token, exactly one observes a digest match
// and wins; the rest see the mismatch left behind by the winner.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/petlink-dev/petauth/account"
	"github.com/petlink-dev/petauth/token"
)

var (
	// ErrInvalidToken is returned for refresh tokens that fail signature
	// or structural validation.
	ErrInvalidToken = errors.New("invalid refresh token")
	// ErrExpiredToken is returned for refresh tokens past their expiry.
	ErrExpiredToken = errors.New("refresh token expired")
	// ErrReplayDetected is returned when a structurally valid refresh
	// token does not match the stored digest: it has already been rotated
	// away or was never the current token. The stored digest has been
	// cleared and the account must re-authenticate.
	ErrReplayDetected = errors.New("refresh token replay detected")
)

// TokenMinter is the token codec surface the registry needs.
type TokenMinter interface {
	CreateAccess(accountID, email string, roles []string) (string, error)
	CreateRefresh(accountID string) (string, error)
	ValidateRefresh(tokenStr string) (*token.RefreshClaims, error)
}

// Store is the account persistence surface the registry needs. The rotate
// method must execute match-check and overwrite as one atomic step.
type Store interface {
	GetByID(ctx context.Context, id string) (*account.Account, error)
	SetRefreshTokenHash(ctx context.Context, id, hash string) error
	RotateRefreshTokenHash(ctx context.Context, id, providedHash, nextHash string) error
	ClearRefreshToken(ctx context.Context, id string) error
}

// Pair is an issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Registry issues and rotates sessions.
type Registry struct {
	codec TokenMinter
	store Store
}

// NewRegistry creates a Registry over the given codec and store.
func NewRegistry(codec TokenMinter, store Store) *Registry {
	return &Registry{codec: codec, store: store}
}

// HashToken returns the hex SHA-256 digest used to persist refresh tokens.
func HashToken(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}

// IssueSession mints a fresh pair for acct and stores the new refresh digest
// as the account's sole valid token, discarding any prior one.
func (r *Registry) IssueSession(ctx context.Context, acct *account.Account) (Pair, error) {
	access, err := r.codec.CreateAccess(acct.ID, acct.Email, rolesOf(acct))
	if err != nil {
		return Pair{}, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := r.codec.CreateRefresh(acct.ID)
	if err != nil {
		return Pair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	if err := r.store.SetRefreshTokenHash(ctx, acct.ID, HashToken(refresh)); err != nil {
		return Pair{}, err
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Rotate validates the presented refresh token, atomically replaces the
// stored digest with a fresh one, and returns the new pair together with the
// account it belongs to.
//
// A digest mismatch means the token was stolen, reused, or lost a concurrent
// rotation race; the store has already cleared the digest by the time
// ErrReplayDetected is returned, limiting a leaked token to a single use.
func (r *Registry) Rotate(ctx context.Context, presented string) (Pair, *account.Account, error) {
	claims, err := r.codec.ValidateRefresh(presented)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return Pair{}, nil, ErrExpiredToken
		}
		return Pair{}, nil, ErrInvalidToken
	}

	acct, err := r.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return Pair{}, nil, ErrInvalidToken
		}
		return Pair{}, nil, err
	}

	refresh, err := r.codec.CreateRefresh(acct.ID)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("mint refresh token: %w", err)
	}

	err = r.store.RotateRefreshTokenHash(ctx, acct.ID, HashToken(presented), HashToken(refresh))
	if err != nil {
		if errors.Is(err, account.ErrRefreshMismatch) {
			return Pair{}, acct, ErrReplayDetected
		}
		if errors.Is(err, account.ErrNotFound) {
			return Pair{}, nil, ErrInvalidToken
		}
		return Pair{}, nil, err
	}

	access, err := r.codec.CreateAccess(acct.ID, acct.Email, rolesOf(acct))
	if err != nil {
		return Pair{}, nil, fmt.Errorf("mint access token: %w", err)
	}

	return Pair{AccessToken: access, RefreshToken: refresh}, acct, nil
}

// Invalidate forcibly clears the account's stored refresh digest, ending the
// session (logout, lockout escalation, detected replay).
func (r *Registry) Invalidate(ctx context.Context, accountID string) error {
	return r.store.ClearRefreshToken(ctx, accountID)
}

func rolesOf(acct *account.Account) []string {
	if acct.Role == "" {
		return nil
	}
	return []string{acct.Role}
}
