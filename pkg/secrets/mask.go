package secrets

import (
	"strings"

	masker "github.com/goliatone/go-masker"
)

var secretFields = []string{
	"token", "access_token", "api_key", "apikey",
	"client_secret", "secret", "encryption_key",
}

func init() {
	for _, field := range secretFields {
		masker.Default.RegisterMaskField(field, "preserveEnds(2,2)")
	}
}

// Mask renders a preview of value that is safe for diagnostics output.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if masked, err := masker.Default.String("preserveEnds(2,2)", value); err == nil && masked != value {
		return masked
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:2]) + strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-2:])
}

// MaskAll masks every value in the map, keyed by reference.
func MaskAll(values map[Reference]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for ref, v := range values {
		out[ref.String()] = Mask(v)
	}
	return out
}
