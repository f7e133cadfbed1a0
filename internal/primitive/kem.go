package primitive

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
)

const (
	// KEMPublicKeySize is the ML-KEM-768 public key length.
	KEMPublicKeySize = mlkem768.PublicKeySize
	// KEMPrivateKeySize is the ML-KEM-768 private key length.
	KEMPrivateKeySize = mlkem768.PrivateKeySize
	// KEMCiphertextSize is the ML-KEM-768 ciphertext length.
	KEMCiphertextSize = mlkem768.CiphertextSize
	// KEMSharedSize is the encapsulated shared secret length.
	KEMSharedSize = mlkem768.SharedKeySize
)

// GenerateKEM returns a fresh ML-KEM-768 key pair as raw bytes.
func (s *Suite) GenerateKEM() (priv, pub []byte, err error) {
	pk, sk, err := mlkem768.GenerateKeyPair(s.rand())
	if err != nil {
		return nil, nil, fmt.Errorf("mlkem keygen: %w", err)
	}
	pub, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	priv, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// KEMEncapsulate encapsulates against a peer public key, returning the
// ciphertext and shared secret.
func (s *Suite) KEMEncapsulate(pub []byte) (ct, shared []byte, err error) {
	var pk mlkem768.PublicKey
	if err := pk.Unpack(pub); err != nil {
		return nil, nil, fmt.Errorf("mlkem public key: %w", err)
	}
	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if _, err := io.ReadFull(s.rand(), seed); err != nil {
		return nil, nil, fmt.Errorf("mlkem seed: %w", err)
	}
	ct = make([]byte, mlkem768.CiphertextSize)
	shared = make([]byte, mlkem768.SharedKeySize)
	pk.EncapsulateTo(ct, shared, seed)
	return ct, shared, nil
}

// KEMDecapsulate recovers the shared secret from a ciphertext.
func KEMDecapsulate(priv, ct []byte) ([]byte, error) {
	var sk mlkem768.PrivateKey
	if err := sk.Unpack(priv); err != nil {
		return nil, fmt.Errorf("mlkem private key: %w", err)
	}
	if len(ct) != mlkem768.CiphertextSize {
		return nil, fmt.Errorf("mlkem decapsulate: bad ciphertext length %d", len(ct))
	}
	shared := make([]byte, mlkem768.SharedKeySize)
	sk.DecapsulateTo(shared, ct)
	return shared, nil
}
