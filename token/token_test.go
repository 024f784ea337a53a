package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testConfig() Config {
	return Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "petauth-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 14 * 24 * time.Hour,
	}
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()

	codec, err := NewCodec(testConfig())
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}
	return codec
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Secret = []byte("too-short")

	if _, err := NewCodec(cfg); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.CreateAccess("acct-1", "a@x.com", []string{"user", "admin"})
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	claims, err := codec.ValidateAccess(raw)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if claims.Subject != "acct-1" {
		t.Fatalf("subject = %q, want acct-1", claims.Subject)
	}
	if claims.Email != "a@x.com" {
		t.Fatalf("email = %q, want a@x.com", claims.Email)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "user" || claims.Roles[1] != "admin" {
		t.Fatalf("roles = %v, want [user admin]", claims.Roles)
	}
}

func TestRefreshTokenCarriesOnlySubject(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.CreateRefresh("acct-2")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}

	claims, err := codec.ValidateRefresh(raw)
	if err != nil {
		t.Fatalf("ValidateRefresh failed: %v", err)
	}
	if claims.Subject != "acct-2" {
		t.Fatalf("subject = %q, want acct-2", claims.Subject)
	}

	sub, err := codec.Subject(raw)
	if err != nil || sub != "acct-2" {
		t.Fatalf("Subject = (%q, %v), want (acct-2, nil)", sub, err)
	}
}

func TestRefreshTokensDistinctWithinSameSecond(t *testing.T) {
	codec := newTestCodec(t)

	// Freeze the clock: iat and exp are identical across mints, so only the
	// token id separates them.
	frozen := time.Now()
	codec.now = func() time.Time { return frozen }

	first, err := codec.CreateRefresh("acct-2")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}
	second, err := codec.CreateRefresh("acct-2")
	if err != nil {
		t.Fatalf("CreateRefresh failed: %v", err)
	}
	if first == second {
		t.Fatal("two mints for the same subject produced identical tokens")
	}
}

func TestValidateRefreshRejectsAccessToken(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.CreateAccess("acct-3", "b@x.com", []string{"user"})
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	if _, err := codec.ValidateRefresh(raw); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestValidateExpired(t *testing.T) {
	codec := newTestCodec(t)

	past := time.Now().Add(-48 * time.Hour)
	codec.now = func() time.Time { return past }
	raw, err := codec.CreateAccess("acct-4", "c@x.com", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	codec.now = time.Now
	if _, err := codec.ValidateAccess(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestValidateBadSignature(t *testing.T) {
	codec := newTestCodec(t)

	other := testConfig()
	other.Secret = []byte("ffffffffffffffffffffffffffffffff")
	otherCodec, err := NewCodec(other)
	if err != nil {
		t.Fatalf("NewCodec failed: %v", err)
	}

	raw, err := otherCodec.CreateAccess("acct-5", "d@x.com", nil)
	if err != nil {
		t.Fatalf("CreateAccess failed: %v", err)
	}

	if _, err := codec.ValidateAccess(raw); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	codec := newTestCodec(t)

	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		if _, err := codec.ValidateAccess(raw); !errors.Is(err, ErrMalformed) {
			t.Fatalf("ValidateAccess(%q) = %v, want ErrMalformed", raw, err)
		}
	}
}

func TestValidateUnsupportedAlgorithm(t *testing.T) {
	codec := newTestCodec(t)

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "acct-6",
			Issuer:    "petauth-test",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testConfig().Secret)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if _, err := codec.ValidateAccess(raw); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
