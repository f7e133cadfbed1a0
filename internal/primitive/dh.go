package primitive

import (
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"agentseal/internal/domain"
)

// GenerateDH returns a fresh X25519 key pair. The private key is clamped
// per RFC 7748.
func (s *Suite) GenerateDH() (priv domain.X25519Private, pub domain.X25519Public, err error) {
	if _, err = io.ReadFull(s.rand(), priv[:]); err != nil {
		return priv, pub, fmt.Errorf("dh keygen: %w", err)
	}
	clamp(&priv)
	pb, err := curve25519.X25519(priv.Slice(), curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pb)
	return priv, pub, nil
}

// DH computes an X25519 shared secret.
func DH(priv domain.X25519Private, pub domain.X25519Public) (out [32]byte, err error) {
	secret, err := curve25519.X25519(priv.Slice(), pub.Slice())
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func clamp(k *domain.X25519Private) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
