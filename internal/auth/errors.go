package auth

import (
	"errors"
	"strings"

	"github.com/samber/oops"
)

var (
	// ErrNotFound is returned by repositories when no user matches a lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail and ErrDuplicateUsername are returned by repositories
	// when an insert violates a uniqueness constraint.
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")

	// ErrUnauthorized covers every login failure. It deliberately carries no
	// detail about which check failed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInfrastructure marks store failures and timeouts. Callers may retry.
	ErrInfrastructure = errors.New("credential store unavailable")
)

// Validation error codes.
const (
	CodeRequired          = "Required"
	CodeInvalidBody       = "InvalidBody"
	CodeInvalidEmail      = "InvalidEmail"
	CodeInvalidUserName   = "InvalidUserName"
	CodeDuplicateEmail    = "DuplicateEmail"
	CodeDuplicateUserName = "DuplicateUserName"
	CodePasswordTooShort  = "PasswordTooShort"
	CodePasswordMismatch  = "PasswordMismatch"
)

// FieldError is one field-scoped validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors is the full batch of problems found in a request.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, fe := range v {
		msgs[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Has reports whether the batch contains the given code.
func (v ValidationErrors) Has(code string) bool {
	for _, fe := range v {
		if fe.Code == code {
			return true
		}
	}
	return false
}

func unauthorized() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrUnauthorized)
}

func infrastructure(operation string, err error) error {
	return oops.Code("AUTH_STORE_UNAVAILABLE").
		With("operation", operation).
		Wrap(errors.Join(ErrInfrastructure, err))
}
