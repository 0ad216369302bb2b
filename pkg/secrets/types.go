// Package secrets decrypts API secrets from an encrypted, section-based
// configuration source. Plaintext is memoized in memory only.
package secrets

import (
	"context"
	"strings"
)

// Reference identifies a sealed value: a service section and a key inside it.
type Reference struct {
	Service string
	Key     string
}

func (r Reference) String() string {
	return strings.ToLower(r.Service) + "/" + r.Key
}

// Sealed is the ciphertext form of a secret as held by a Source:
// nonce || AEAD ciphertext.
type Sealed []byte

// Source reads sealed values. Implementations return ErrNotFound when the
// service section or key does not exist.
type Source interface {
	Lookup(ctx context.Context, ref Reference) (Sealed, error)
}

// Writer is implemented by sources that can persist sealed values.
type Writer interface {
	Store(ctx context.Context, ref Reference, sealed Sealed) error
}

// Lister is implemented by sources that can enumerate their references.
type Lister interface {
	List(ctx context.Context) ([]Reference, error)
}

// Secret is a sealed value together with its reference. Plaintext is never
// part of this type.
type Secret struct {
	Service    string
	Key        string
	CipherText Sealed
}

// Ref returns the reference for the secret.
func (s Secret) Ref() Reference {
	return Reference{Service: s.Service, Key: s.Key}
}
