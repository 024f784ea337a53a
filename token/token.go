// Package token signs and validates the bearer tokens issued by the
// authentication engine: short-lived access tokens carrying identity and
// roles, and longer-lived refresh tokens carrying only the subject.
//
// The codec is a pure function of its configuration: it holds no mutable
// state, performs no I/O, and is safe for unlimited concurrent use.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned for tokens that do not parse as JWTs.
	ErrMalformed = errors.New("malformed token")
	// ErrBadSignature is returned for tokens whose signature does not
	// verify against the configured key.
	ErrBadSignature = errors.New("invalid token signature")
	// ErrExpired is returned for structurally valid tokens past their
	// expiry (plus leeway).
	ErrExpired = errors.New("token expired")
	// ErrUnsupported is returned for tokens signed with an unexpected
	// algorithm or otherwise outside this codec's contract.
	ErrUnsupported = errors.New("unsupported token")
)

const minSecretLen = 32

// Config holds the signing material and lifetimes for both token kinds.
// Instances are set once during initialization and treated as immutable.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Leeway     time.Duration
}

// AccessClaims is the payload of an access token: subject plus the identity
// attributes host middleware needs for authorization decisions.
type AccessClaims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. It deliberately carries
// only the subject and a unique token id, keeping the blast radius of a
// leaked refresh token to the rotation check it will fail.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// Codec mints and validates access and refresh tokens with a server-held
// symmetric key (HS256).
type Codec struct {
	config Config
	now    func() time.Time
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token leeway out of range")
	}

	return &Codec{config: cfg, now: time.Now}, nil
}

// CreateAccess mints an access token for the given account with expiry
// now + AccessTTL.
func (c *Codec) CreateAccess(accountID, email string, roles []string) (string, error) {
	now := c.now()
	claims := AccessClaims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.AccessTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
}

// CreateRefresh mints a refresh token carrying only the subject, with
// expiry now + RefreshTTL. Every mint gets a fresh token id: JWT timestamps
// have one-second resolution, so without it two mints for the same subject
// inside the same second would be byte-identical and rotation could swap a
// digest for itself.
func (c *Codec) CreateRefresh(accountID string) (string, error) {
	now := c.now()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   accountID,
			Issuer:    c.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.config.RefreshTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
}

// ValidateAccess parses and verifies an access token.
func (c *Codec) ValidateAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh parses and verifies a refresh token. A valid access token
// presented here is rejected with ErrUnsupported: the two kinds are
// structurally different and must not substitute for each other.
func (c *Codec) ValidateRefresh(tokenStr string) (*RefreshClaims, error) {
	wide := &AccessClaims{}
	if err := c.parse(tokenStr, wide); err != nil {
		return nil, err
	}
	if wide.Email != "" || len(wide.Roles) > 0 {
		return nil, ErrUnsupported
	}

	return &RefreshClaims{RegisteredClaims: wide.RegisteredClaims}, nil
}

// Subject validates tokenStr as either token kind and returns its subject.
func (c *Codec) Subject(tokenStr string) (string, error) {
	claims := &AccessClaims{}
	if err := c.parse(tokenStr, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}

func (c *Codec) parse(tokenStr string, claims jwt.Claims) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return mapParseError(err)
	}
	if !parsed.Valid {
		return ErrMalformed
	}

	return nil
}

// mapParseError collapses the jwt library's error set into this package's
// taxonomy. Callers react differently to expired vs tampered tokens, so the
// distinction must survive the boundary.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	// An unexpected algorithm also surfaces as a signature error in jwt/v5,
	// so the message check has to run first.
	case strings.Contains(err.Error(), "signing method"):
		return ErrUnsupported
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrUnsupported
	default:
		return ErrMalformed
	}
}
