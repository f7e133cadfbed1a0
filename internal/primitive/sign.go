package primitive

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"agentseal/internal/domain"
)

const (
	// PQSigPublicKeySize is the ML-DSA-65 public key length.
	PQSigPublicKeySize = mldsa65.PublicKeySize
	// PQSigPrivateKeySize is the ML-DSA-65 private key length.
	PQSigPrivateKeySize = mldsa65.PrivateKeySize
	// PQSignatureSize is the ML-DSA-65 signature length.
	PQSignatureSize = mldsa65.SignatureSize
)

// GenerateClassicalSigning returns a fresh Ed25519 key pair.
func (s *Suite) GenerateClassicalSigning() (priv domain.Ed25519Private, pub domain.Ed25519Public, err error) {
	pk, sk, err := ed25519.GenerateKey(s.rand())
	if err != nil {
		return priv, pub, fmt.Errorf("ed25519 keygen: %w", err)
	}
	copy(priv[:], sk)
	copy(pub[:], pk)
	return priv, pub, nil
}

// GeneratePQSigning returns a fresh ML-DSA-65 key pair as raw bytes.
func (s *Suite) GeneratePQSigning() (priv, pub []byte, err error) {
	pk, sk, err := mldsa65.GenerateKey(s.rand())
	if err != nil {
		return nil, nil, fmt.Errorf("mldsa keygen: %w", err)
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

// SignClassical signs msg with an Ed25519 private key.
func SignClassical(priv domain.Ed25519Private, msg []byte) []byte {
	return ed25519.Sign(ed25519.PrivateKey(priv[:]), msg)
}

// VerifyClassical verifies an Ed25519 signature.
func VerifyClassical(pub domain.Ed25519Public, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// SignPQ signs msg with an ML-DSA-65 private key.
func SignPQ(priv, msg []byte) ([]byte, error) {
	var sk mldsa65.PrivateKey
	if err := sk.UnmarshalBinary(priv); err != nil {
		return nil, fmt.Errorf("mldsa private key: %w", err)
	}
	sig := make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(&sk, msg, nil, false, sig); err != nil {
		return nil, fmt.Errorf("mldsa sign: %w", err)
	}
	return sig, nil
}

// VerifyPQ verifies an ML-DSA-65 signature.
func VerifyPQ(pub, msg, sig []byte) bool {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(pub); err != nil {
		return false
	}
	return mldsa65.Verify(&pk, msg, nil, sig)
}
