package domain

import "fmt"

var (
	ErrNotFound          = errString("not found")
	ErrForbidden         = errString("forbidden")
	ErrInvalidTransition = errString("invalid status transition")
)

type errString string

func (e errString) Error() string { return string(e) }

// ValidationError rejects a creation request before anything is stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
