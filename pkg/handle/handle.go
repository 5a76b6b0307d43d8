// Package handle enforces the account-handle rules shared by sign-up and
// availability checks. Handles are unique case-insensitively, so the
// registry is always keyed by the Normalize form.
package handle

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MinLength = 3
	MaxLength = 20
)

var (
	ErrTooShort = fmt.Errorf("handle must be at least %d characters", MinLength)
	ErrTooLong  = fmt.Errorf("handle must be at most %d characters", MaxLength)
	ErrBadChars = errors.New("handle may only use letters, numbers and underscores")
	ErrBadStart = errors.New("handle must start with a letter or number")
)

// Validate reports why a handle is unusable, nil if it is fine. Leading
// and trailing whitespace is ignored, matching Normalize.
func Validate(h string) error {
	h = strings.TrimSpace(h)
	switch {
	case len(h) < MinLength:
		return ErrTooShort
	case len(h) > MaxLength:
		return ErrTooLong
	}
	for i, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_':
			if i == 0 {
				return ErrBadStart
			}
		default:
			return ErrBadChars
		}
	}
	return nil
}

// Normalize lower-cases and trims a handle into its registry key.
func Normalize(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
