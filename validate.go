package petauth

import (
	"net/mail"
	"strings"
)

const passwordSpecials = `!@#$%^&*()_+-=[]{};':",./<>?`

// validatePassword enforces the composition policy: at least 8 characters
// with a letter, a digit, and a special character.
func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordPolicy
	}

	var hasLetter, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(passwordSpecials, r):
			hasSpecial = true
		}
	}

	if !hasLetter || !hasDigit || !hasSpecial {
		return ErrPasswordPolicy
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" {
		return ErrInvalidInput
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidInput
	}
	return nil
}

func validateRegisterInput(in RegisterInput) error {
	if !in.AgreeTerms || !in.AgreePrivacy {
		return ErrTermsNotAgreed
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if strings.TrimSpace(in.Nickname) == "" {
		return ErrInvalidInput
	}
	return validatePassword(in.Password)
}
