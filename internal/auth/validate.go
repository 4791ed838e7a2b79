package auth

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

const passwordSpecials = "@$!%*?&"

var validate = validator.New(validator.WithRequiredStructEnabled())

// PasswordIsStrong requires at least 8 characters drawn only from letters,
// digits and @$!%*?&, with at least one of each class.
func PasswordIsStrong(password string) bool {
	if len(password) < 8 || len(password) > 100 {
		return false
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return lower && upper && digit && special
}

func normalizeRegisterInput(input RegisterInput) RegisterInput {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.FullName = strings.TrimSpace(input.FullName)
	input.Role = strings.TrimSpace(input.Role)
	return input
}

// validateRegisterInput reports ErrWeakPassword separately from every other
// shape problem so clients can tell the user what to fix.
func validateRegisterInput(input RegisterInput) error {
	if err := validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) == 1 && fieldErrs[0].Field() == "Password" {
			return ErrWeakPassword
		}
		return ErrInvalidInput
	}
	if !PasswordIsStrong(input.Password) {
		return ErrWeakPassword
	}
	return nil
}
