package petauth

import "errors"

var (
	// ErrInvalidCredentials is returned when the email is unknown or the
	// password is wrong. The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned when an operation targets an account
	// that does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountLocked is returned while the brute-force lockout window is
	// open. Correct passwords are rejected too.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccessDenied is returned when the account exists and the
	// credentials are right but its status forbids authentication.
	ErrAccessDenied = errors.New("access denied")
	// ErrDuplicateEmail is returned by registration when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateNickname is returned by registration when the nickname is
	// taken.
	ErrDuplicateNickname = errors.New("nickname already registered")
	// ErrDuplicatePhone is returned by registration when the phone number
	// belongs to another account.
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrPasswordPolicy is returned for passwords that fail composition
	// rules.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidInput is returned for requests missing required fields or
	// carrying a malformed email.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTermsNotAgreed is returned by registration when the terms or
	// privacy agreement is missing.
	ErrTermsNotAgreed = errors.New("terms not agreed")

	// ErrTokenInvalid is returned for tokens that fail signature or
	// structural validation.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their lifetime.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshReuse is returned when a refresh token that was already
	// rotated away is presented again. The session has been destroyed.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrVerificationDisabled is returned when a recovery flow is invoked
	// but verification was not configured.
	ErrVerificationDisabled = errors.New("verification disabled")
	// ErrVerificationNotFound is returned for unknown or aged-out
	// verification requests.
	ErrVerificationNotFound = errors.New("verification request not found")
	// ErrVerificationExpired is returned when the code window has closed.
	ErrVerificationExpired = errors.New("verification code expired")
	// ErrVerificationCodeMismatch is returned for wrong codes.
	ErrVerificationCodeMismatch = errors.New("verification code mismatch")
	// ErrResetTokenInvalid is returned for reset tokens that are unknown,
	// consumed, or attached to an unverified request.
	ErrResetTokenInvalid = errors.New("invalid reset token")
	// ErrSocialAccount is returned when a password operation targets an
	// account that has no local password credential.
	ErrSocialAccount = errors.New("social account has no password")

	// ErrProviderUnsupported is returned for OAuth providers without a
	// registered client.
	ErrProviderUnsupported = errors.New("unsupported oauth provider")
	// ErrExternalAuthFailed is returned when the OAuth provider rejects the
	// authorization code or returns an unusable profile.
	ErrExternalAuthFailed = errors.New("external authentication failed")
	// ErrInconsistentState is returned when account storage contradicts
	// itself during OAuth reconciliation. It is not recoverable by retrying.
	ErrInconsistentState = errors.New("inconsistent account state")

	// ErrEngineNotReady is returned by operations on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)
