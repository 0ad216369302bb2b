package secrets

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("secrets: not found")
	ErrMissingKey   = errors.New("secrets: encryption key not configured")
	ErrInvalidKey   = errors.New("secrets: invalid encryption key")
	ErrInvalidRef   = errors.New("secrets: invalid reference")
	ErrDecrypt      = errors.New("secrets: decryption failed")
	ErrMalformed    = errors.New("secrets: malformed sealed value")
	ErrEmptyValue   = errors.New("secrets: empty value")
	ErrUnsupported  = errors.New("secrets: unsupported operation")
	ErrMissingStore = errors.New("secrets: source required")
)

// ValidateReference performs basic checks on a reference.
func ValidateReference(ref Reference) error {
	if strings.TrimSpace(ref.Service) == "" || strings.TrimSpace(ref.Key) == "" {
		return ErrInvalidRef
	}
	if strings.ContainsAny(ref.Service, "[]\n") || strings.ContainsAny(ref.Key, "=\n") {
		return ErrInvalidRef
	}
	return nil
}
