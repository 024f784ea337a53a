// Package verification runs the time-boxed code flows behind account
// recovery: a short numeric code is delivered over SMS, verified within a
// small window, and, for password reset, exchanged for a single-use reset
// token. Records expire lazily; nothing in this package runs in the
// background.
package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no verification request exists for the
	// given id or reset token. Callers cannot distinguish "never existed"
	// from "aged out of retention".
	ErrNotFound = errors.New("verification request not found")
	// ErrWrongType is returned when a request exists but was created for a
	// different flow than the caller is driving.
	ErrWrongType = errors.New("verification request type mismatch")
	// ErrExpired is returned when the code window has closed. The request
	// still exists; Resend opens a fresh window.
	ErrExpired = errors.New("verification code expired")
	// ErrCodeMismatch is returned when the submitted code is wrong.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrNotVerified is returned when a reset token is consumed before its
	// request passed code verification.
	ErrNotVerified = errors.New("verification request not verified")
)

// Type discriminates the recovery flow a request belongs to.
type Type string

const (
	TypeFindID        Type = "find_id"
	TypePasswordReset Type = "password_reset"
)

const resetSecretSize = 32

// Request is one in-flight verification. AccountID pins the request to the
// account it was created for, so later changes to phone ownership cannot
// redirect it. Code and ResetTokenHash are secrets; the raw reset token is
// returned to the caller exactly once at verify time and only its digest is
// stored.
type Request struct {
	ID             string
	Type           Type
	AccountID      string
	Phone          string
	Code           string
	Verified       bool
	ResetTokenHash string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Store persists verification requests. Implementations keep records past
// ExpiresAt for a retention window so expired and missing stay
// distinguishable, and index reset token digests for lookup.
type Store interface {
	Get(ctx context.Context, id string) (*Request, error)
	Save(ctx context.Context, req *Request) error
	GetByResetToken(ctx context.Context, tokenHash string) (*Request, error)
	Delete(ctx context.Context, id string) error
}

// SmsSender delivers a verification code to a phone number. Delivery
// failures do not fail the flow; they are logged and the code stays
// retrievable through Resend.
type SmsSender interface {
	Send(ctx context.Context, phone, message string) error
}

// Config holds the code parameters for a Flow.
type Config struct {
	CodeTTL    time.Duration
	CodeDigits int
}

// Flow creates, verifies, and resends verification requests.
type Flow struct {
	store  Store
	sender SmsSender
	config Config
	now    func() time.Time
}

// NewFlow validates cfg and returns a ready Flow.
func NewFlow(store Store, sender SmsSender, cfg Config) (*Flow, error) {
	if store == nil {
		return nil, errors.New("verification store is required")
	}
	if sender == nil {
		return nil, errors.New("sms sender is required")
	}
	if cfg.CodeTTL <= 0 {
		return nil, errors.New("verification code TTL must be positive")
	}
	if cfg.CodeDigits < 6 || cfg.CodeDigits > 10 {
		return nil, errors.New("verification code digits must be 6..10")
	}

	return &Flow{store: store, sender: sender, config: cfg, now: time.Now}, nil
}

// Create starts a verification of the given type for the account's phone: a
// fresh request id, a fresh code, and an SMS on its way. The returned id is
// the handle for Verify and Resend; accountID is the only identity the
// request will ever act on.
func (f *Flow) Create(ctx context.Context, typ Type, accountID, phone string) (*Request, error) {
	code, err := newCode(f.config.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	now := f.now()
	req := &Request{
		ID:        uuid.NewString(),
		Type:      typ,
		AccountID: accountID,
		Phone:     phone,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(f.config.CodeTTL),
	}
	if err := f.store.Save(ctx, req); err != nil {
		return nil, err
	}

	f.deliver(ctx, req)
	return req, nil
}

// Verify checks the submitted code against the request. Checks run in a
// fixed order so the caller always learns the most fundamental problem
// first: existence, then type, then expiry, then the code itself.
//
// On success the request is marked verified. For password-reset requests a
// single-use reset token is minted and returned; its digest replaces any
// previously minted one, so only the latest token can complete the reset.
func (f *Flow) Verify(ctx context.Context, id string, expected Type, code string) (*Request, string, error) {
	req, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if req.Type != expected {
		return nil, "", ErrWrongType
	}
	if f.now().After(req.ExpiresAt) {
		return nil, "", ErrExpired
	}
	if req.Code != code {
		return nil, "", ErrCodeMismatch
	}

	req.Verified = true

	var resetToken string
	if req.Type == TypePasswordReset {
		resetToken, err = newResetToken()
		if err != nil {
			return nil, "", fmt.Errorf("generate reset token: %w", err)
		}
		req.ResetTokenHash = HashResetToken(resetToken)
	}

	if err := f.store.Save(ctx, req); err != nil {
		return nil, "", err
	}
	return req, resetToken, nil
}

// Resend replaces the request's code and reopens the expiry window, then
// re-delivers. The old code stops working immediately.
func (f *Flow) Resend(ctx context.Context, id string) (*Request, error) {
	req, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	code, err := newCode(f.config.CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}
	req.Code = code
	req.Verified = false
	req.ResetTokenHash = ""
	req.ExpiresAt = f.now().Add(f.config.CodeTTL)

	if err := f.store.Save(ctx, req); err != nil {
		return nil, err
	}

	f.deliver(ctx, req)
	return req, nil
}

// ConsumeResetToken resolves a raw reset token back to its verified
// request. The request is left in place; callers delete it with Complete
// once the reset has gone through.
func (f *Flow) ConsumeResetToken(ctx context.Context, resetToken string) (*Request, error) {
	req, err := f.store.GetByResetToken(ctx, HashResetToken(resetToken))
	if err != nil {
		return nil, err
	}
	if !req.Verified {
		return nil, ErrNotVerified
	}
	return req, nil
}

// Complete destroys the request and everything derived from it.
func (f *Flow) Complete(ctx context.Context, id string) error {
	return f.store.Delete(ctx, id)
}

// HashResetToken returns the hex SHA-256 digest under which reset tokens
// are stored and indexed.
func HashResetToken(resetToken string) string {
	sum := sha256.Sum256([]byte(resetToken))
	return hex.EncodeToString(sum[:])
}

func (f *Flow) deliver(ctx context.Context, req *Request) {
	msg := fmt.Sprintf("Your verification code is %s", req.Code)
	if err := f.sender.Send(ctx, req.Phone, msg); err != nil {
		log.Printf("petauth: sms delivery failed for request %s: %v", req.ID, err)
	}
}

func newCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func newResetToken() (string, error) {
	var raw [resetSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
