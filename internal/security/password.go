package security

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MinPasswordLength is the minimum vault password length in characters.
const MinPasswordLength = 12

// PasswordProblem names the first strength rule a password fails.
type PasswordProblem string

const (
	PasswordAcceptable PasswordProblem = ""
	PasswordTooShort   PasswordProblem = "too_short"
	PasswordNoUpper    PasswordProblem = "no_upper"
	PasswordNoLower    PasswordProblem = "no_lower"
	PasswordNoDigit    PasswordProblem = "no_digit"
	PasswordNoSymbol   PasswordProblem = "no_symbol"
)

// CheckPasswordStrength returns the first rule password breaks and a
// human-readable description, or PasswordAcceptable.
func CheckPasswordStrength(password []byte) (PasswordProblem, string) {
	if utf8.RuneCount(password) < MinPasswordLength {
		return PasswordTooShort, fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range string(password) {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}

	switch {
	case !upper:
		return PasswordNoUpper, "password must contain an uppercase letter"
	case !lower:
		return PasswordNoLower, "password must contain a lowercase letter"
	case !digit:
		return PasswordNoDigit, "password must contain a digit"
	case !symbol:
		return PasswordNoSymbol, "password must contain a symbol"
	}
	return PasswordAcceptable, ""
}
