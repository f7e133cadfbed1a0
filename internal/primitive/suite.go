package primitive

import (
	"crypto/rand"
	"io"
)

// Suite bundles the engine's fixed hybrid algorithm pairing. The zero value
// is not usable; construct with NewSuite.
type Suite struct {
	// Rand is the randomness source for key generation and encapsulation.
	// It defaults to crypto/rand and is overridable for deterministic tests.
	Rand io.Reader
}

// NewSuite returns a Suite drawing randomness from crypto/rand.
func NewSuite() *Suite {
	return &Suite{Rand: rand.Reader}
}

func (s *Suite) rand() io.Reader {
	if s.Rand == nil {
		return rand.Reader
	}
	return s.Rand
}
