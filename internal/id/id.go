package id

import "github.com/google/uuid"

// New returns a random request identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier this package produced,
// so client-supplied request IDs can be trusted for log correlation.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
