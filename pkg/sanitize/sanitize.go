// Package sanitize validates caller supplied text against an allow-list
// before it is placed in an outbound request.
package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/config"
)

// DefaultMaxLength bounds sanitized input, in runes.
const DefaultMaxLength = 512

var ErrInvalidPunctuation = errors.New("sanitize: allowed punctuation must be printable ASCII symbols or space")

// Input is text that passed a Sanitizer. The zero value is empty and is never
// returned by Sanitize.
type Input struct {
	value string
}

func (i Input) String() string { return i.value }

// IsZero reports whether the input was not produced by a Sanitizer.
func (i Input) IsZero() bool { return i.value == "" }

// QueryLiteral renders the input for embedding in a textual query: single
// quotes are doubled and semicolons removed, independently of the allow-list.
func (i Input) QueryLiteral() string {
	out := strings.ReplaceAll(i.value, ";", "")
	return strings.ReplaceAll(out, "'", "''")
}

// Sanitizer checks text against ASCII alphanumerics plus a configured set of
// punctuation.
type Sanitizer struct {
	punctuation string
	maxLength   int
	pattern     *regexp.Regexp
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithPunctuation sets the extra characters accepted besides alphanumerics.
func WithPunctuation(chars string) Option {
	return func(s *Sanitizer) {
		s.punctuation = chars
	}
}

func WithMaxLength(n int) Option {
	return func(s *Sanitizer) {
		if n > 0 {
			s.maxLength = n
		}
	}
}

// WithConfig applies the sanitizer config block.
func WithConfig(cfg config.SanitizerConfig) Option {
	return func(s *Sanitizer) {
		WithMaxLength(cfg.MaxLength)(s)
		if cfg.AllowedPunctuation != "" {
			s.punctuation = cfg.AllowedPunctuation
		}
	}
}

// New builds a Sanitizer. Without options only alphanumerics are accepted.
func New(opts ...Option) (*Sanitizer, error) {
	s := &Sanitizer{maxLength: DefaultMaxLength}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	pattern, err := allowPattern(s.punctuation)
	if err != nil {
		return nil, err
	}
	s.pattern = pattern
	return s, nil
}

// With returns a sanitizer sharing the length limit but accepting a different
// punctuation set.
func (s *Sanitizer) With(punctuation string) (*Sanitizer, error) {
	return New(WithMaxLength(s.maxLength), WithPunctuation(punctuation))
}

// Punctuation returns the accepted punctuation set.
func (s *Sanitizer) Punctuation() string { return s.punctuation }

// Sanitize trims raw and validates it. It is idempotent: sanitizing the
// String of a returned Input yields the same Input.
func (s *Sanitizer) Sanitize(raw string) (Input, error) {
	value := strings.TrimSpace(raw)
	err := validation.Validate(value,
		validation.Required.Error("input is required"),
		validation.RuneLength(1, s.maxLength).Error(fmt.Sprintf("input exceeds %d characters", s.maxLength)),
		validation.Match(s.pattern).Error("input contains characters outside the allow-list"),
	)
	if err != nil {
		return Input{}, apierror.Wrap(apierror.KindValidation, err, "invalid input")
	}
	return Input{value: value}, nil
}

// SanitizeAll validates every value of params, keyed by parameter name.
func (s *Sanitizer) SanitizeAll(params map[string]string) (map[string]Input, error) {
	out := make(map[string]Input, len(params))
	for name, raw := range params {
		in, err := s.Sanitize(raw)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindValidation, err, "parameter %q", name)
		}
		out[name] = in
	}
	return out, nil
}

func allowPattern(punctuation string) (*regexp.Regexp, error) {
	var class strings.Builder
	class.WriteString("A-Za-z0-9")
	seen := make(map[rune]bool)
	for _, r := range punctuation {
		if seen[r] {
			continue
		}
		seen[r] = true
		switch {
		case r == ' ':
			class.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsPunct(r) || unicode.IsSymbol(r)):
			class.WriteRune('\\')
			class.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		default:
			return nil, ErrInvalidPunctuation
		}
	}
	return regexp.Compile("^[" + class.String() + "]+$")
}
