package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrValidation is wrapped by every input policy failure.
var ErrValidation = errors.New("invalid input")

const (
	minUsernameLen = 3
	maxUsernameLen = 20
	minPasswordLen = 6
	maxPasswordLen = 20
	minNicknameLen = 2
	maxNicknameLen = 20

	passwordSymbols = `!@#$%^&*(),.?":{}|<>`
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneRe    = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ValidateUsername checks length and charset.
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLen || n > maxUsernameLen {
		return invalid("username must be %d to %d characters", minUsernameLen, maxUsernameLen)
	}
	if !usernameRe.MatchString(username) {
		return invalid("username may only contain letters, digits and underscores")
	}
	return nil
}

// ValidatePassword checks length and IsPasswordStrong.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen || n > maxPasswordLen {
		return invalid("password must be %d to %d characters", minPasswordLen, maxPasswordLen)
	}
	if !IsPasswordStrong(password) {
		return invalid("password must mix at least three of uppercase, lowercase, digits and symbols")
	}
	return nil
}

// IsPasswordStrong reports whether password contains at least three of the
// four character classes: uppercase, lowercase, digit, symbol.
func IsPasswordStrong(password string) bool {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			classes++
		}
	}
	return classes >= 3
}

// ValidateEmail accepts an empty string or a user@domain.tld address.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if !emailRe.MatchString(email) {
		return invalid("email address is malformed")
	}
	return nil
}

// ValidatePhone accepts an empty string or an 11-digit mobile number.
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if !phoneRe.MatchString(phone) {
		return invalid("phone must be an 11-digit mobile number")
	}
	return nil
}

// ValidateNickname accepts an empty string or 2 to 20 characters.
func ValidateNickname(nickname string) error {
	if nickname == "" {
		return nil
	}
	n := utf8.RuneCountInString(nickname)
	if n < minNicknameLen || n > maxNicknameLen {
		return invalid("nickname must be %d to %d characters", minNicknameLen, maxNicknameLen)
	}
	return nil
}

// validateProfile runs the optional contact field checks in order.
func validateProfile(email, phone, nickname string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := ValidatePhone(phone); err != nil {
		return err
	}
	return ValidateNickname(nickname)
}
