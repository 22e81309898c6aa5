// Package pkce generates the random values used by the Authorization Code
// flow: PKCE code verifiers and their S256 challenges (RFC 7636), and the
// anti-CSRF state parameter.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// MethodS256 is the only challenge method this package produces.
const MethodS256 = "S256"

const (
	// VerifierLength is the length of generated code verifiers.
	VerifierLength = 64

	// StateLength is the length of generated state values. 43 characters
	// matches the length of a base64url-encoded 32 byte value.
	StateLength = 43

	minVerifierLength = 43
	maxVerifierLength = 128
)

// Alphabet is the RFC 3986 unreserved character set. Verifiers and state
// values are drawn from it so they are URL-safe without escaping.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// ErrInvalidVerifier is returned for verifiers that violate RFC 7636 section 4.1.
var ErrInvalidVerifier = errors.New("invalid PKCE code verifier")

// Challenge is a PKCE code verifier together with its derived challenge.
type Challenge struct {
	Verifier  string
	Challenge string
	Method    string
}

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// RandomString returns length characters drawn uniformly from Alphabet
// using a cryptographically secure source.
func RandomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("random string length must be positive, got %d", length)
	}

	out := make([]byte, length)
	for i := range out {
		// rand.Int samples uniformly in [0, n), so no modulo bias is introduced.
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = Alphabet[n.Int64()]
	}
	return string(out), nil
}

// NewChallenge generates a fresh verifier and its S256 challenge.
func NewChallenge() (*Challenge, error) {
	verifier, err := RandomString(VerifierLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}

	return &Challenge{
		Verifier:  verifier,
		Challenge: s256(verifier),
		Method:    MethodS256,
	}, nil
}

// ChallengeFor derives the S256 challenge for an existing verifier.
func ChallengeFor(verifier string) (string, error) {
	if err := ValidateVerifier(verifier); err != nil {
		return "", err
	}
	return s256(verifier), nil
}

// ValidateVerifier checks the length and character set of a code verifier.
func ValidateVerifier(verifier string) error {
	if n := len(verifier); n < minVerifierLength || n > maxVerifierLength {
		return fmt.Errorf("%w: length %d outside [%d, %d]", ErrInvalidVerifier, n, minVerifierLength, maxVerifierLength)
	}
	for i := 0; i < len(verifier); i++ {
		if !isUnreserved(verifier[i]) {
			return fmt.Errorf("%w: character %q at position %d", ErrInvalidVerifier, verifier[i], i)
		}
	}
	return nil
}

// NewState generates an anti-CSRF state value.
func NewState() (string, error) {
	state, err := RandomString(StateLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return state, nil
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
