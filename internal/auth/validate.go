package auth

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/ayush/finalapi/internal/models"
)

// allowedUserNameChars matches the character set accepted for usernames.
const allowedUserNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._@+"

// NormalizeEmail is the canonical form used for case-insensitive lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername is the canonical form used for case-insensitive lookups.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// ValidEmail reports whether s is a bare RFC 5322 address such as
// "alice@example.com". Display names and angle brackets are rejected.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || addr.Name != "" {
		return false
	}
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1
}

// ValidUsername reports whether s is non-empty and uses only allowed characters.
func ValidUsername(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(allowedUserNameChars, r) {
			return false
		}
	}
	return true
}

func validateRegistration(req models.RegisterRequest, minPasswordLength int) ValidationErrors {
	var errs ValidationErrors

	username := strings.TrimSpace(req.Username)
	switch {
	case username == "":
		errs = append(errs, FieldError{Field: "username", Code: CodeRequired, Message: "username is required"})
	case !ValidUsername(username):
		errs = append(errs, FieldError{
			Field:   "username",
			Code:    CodeInvalidUserName,
			Message: "username may only contain letters, digits and - . _ @ +",
		})
	}

	email := strings.TrimSpace(req.Email)
	switch {
	case email == "":
		errs = append(errs, FieldError{Field: "email", Code: CodeRequired, Message: "email is required"})
	case !ValidEmail(email):
		errs = append(errs, FieldError{Field: "email", Code: CodeInvalidEmail, Message: "email is not a valid address"})
	}

	switch {
	case req.Password == "":
		errs = append(errs, FieldError{Field: "password", Code: CodeRequired, Message: "password is required"})
	case len([]rune(req.Password)) < minPasswordLength:
		errs = append(errs, FieldError{
			Field:   "password",
			Code:    CodePasswordTooShort,
			Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength),
		})
	}

	if req.ConfirmPassword != nil && *req.ConfirmPassword != req.Password {
		errs = append(errs, FieldError{Field: "confirmPassword", Code: CodePasswordMismatch, Message: "passwords do not match"})
	}

	return errs
}

func validateLogin(req models.LoginRequest) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(req.Email) == "" {
		errs = append(errs, FieldError{Field: "email", Code: CodeRequired, Message: "email is required"})
	}
	if req.Password == "" {
		errs = append(errs, FieldError{Field: "password", Code: CodeRequired, Message: "password is required"})
	}
	return errs
}

func duplicateEmail() FieldError {
	return FieldError{Field: "email", Code: CodeDuplicateEmail, Message: "email is already registered"}
}

func duplicateUsername() FieldError {
	return FieldError{Field: "username", Code: CodeDuplicateUserName, Message: "username is already taken"}
}
