package agreement

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/util/memzero"
)

const keySize = 32

// Result is the agreed session secret. RootKey and ChainKey are owned by
// the caller, which must hand them to the ratchet and wipe its own copies.
type Result struct {
	SessionID string
	RootKey   []byte
	ChainKey  []byte

	// Handshake is populated on the initiator side only; it carries the
	// parameters attached to the first envelope of the session.
	Handshake domain.Handshake

	// Reduced reports that no one-time key was consumed, trading away one
	// axis of forward secrecy. Callers must surface this.
	Reduced bool
}

// VerifyBundle checks the medium-key hybrid signature against the bundle's
// identity keys and rejects expired material. A bundle that fails here must
// not be used for anything.
func VerifyBundle(bundle domain.KeyBundle, now time.Time) error {
	m := bundle.Medium
	if len(m.KEMPub) != primitive.KEMPublicKeySize {
		return fmt.Errorf("%w: bad medium KEM key length %d", domain.ErrInvalidKeyBundle, len(m.KEMPub))
	}
	msg := m.SigningBytes()
	if !primitive.VerifyClassical(bundle.Identity.SigPub, msg, m.SigClassical) {
		return fmt.Errorf("%w: classical medium-key signature", domain.ErrInvalidKeyBundle)
	}
	if !primitive.VerifyPQ(bundle.Identity.PQSigPub, msg, m.SigPQ) {
		return fmt.Errorf("%w: post-quantum medium-key signature", domain.ErrInvalidKeyBundle)
	}
	if m.ExpiresAt != 0 && now.Unix() >= m.ExpiresAt {
		return fmt.Errorf("%w: medium key expired", domain.ErrInvalidKeyBundle)
	}
	return nil
}

// Initiate runs the initiator side of the handshake against a verified
// responder bundle. oneTime is the key consumed from the responder's pool,
// or nil for the reduced handshake.
func Initiate(
	suite *primitive.Suite,
	initiator domain.AgentID,
	initiatorDHPriv domain.X25519Private,
	initiatorDHPub domain.X25519Public,
	bundle domain.KeyBundle,
	oneTime *domain.OneTimeKeyPublic,
) (Result, error) {
	if err := VerifyBundle(bundle, time.Now()); err != nil {
		return Result{}, err
	}

	ephPriv, ephPub, err := suite.GenerateDH()
	if err != nil {
		return Result{}, err
	}
	defer memzero.Zero32((*[32]byte)(&ephPriv))

	dh1, err := primitive.DH(initiatorDHPriv, bundle.Medium.DHPub)
	if err != nil {
		return Result{}, err
	}
	dh2, err := primitive.DH(ephPriv, bundle.Identity.DHPub)
	if err != nil {
		return Result{}, err
	}
	dh3, err := primitive.DH(ephPriv, bundle.Medium.DHPub)
	if err != nil {
		return Result{}, err
	}
	var dh4 [keySize]byte
	var oneTimeID domain.OneTimeKeyID
	if oneTime != nil {
		dh4, err = primitive.DH(ephPriv, oneTime.DHPub)
		if err != nil {
			return Result{}, err
		}
		oneTimeID = oneTime.ID
	}

	kemCT, kemShared, err := suite.KEMEncapsulate(bundle.Medium.KEMPub)
	if err != nil {
		return Result{}, err
	}

	root, chain := derive(dh1, dh2, dh3, dh4, kemShared, initiator, bundle.AgentID, bundle.Version)
	memzero.Zero(kemShared)

	return Result{
		SessionID: uuid.NewString(),
		RootKey:   root,
		ChainKey:  chain,
		Reduced:   oneTime == nil,
		Handshake: domain.Handshake{
			InitiatorID:    initiator,
			InitiatorDHPub: initiatorDHPub,
			EphemeralPub:   ephPub,
			MediumKeyID:    bundle.Medium.ID,
			OneTimeKeyID:   oneTimeID,
			KEMCiphertext:  kemCT,
			BundleVersion:  bundle.Version,
		},
	}, nil
}

// Respond mirrors the handshake on the responder side using its private
// medium (and optionally one-time) keys and the parameters the initiator
// attached.
func Respond(
	suite *primitive.Suite,
	responder domain.AgentID,
	responderDHPriv domain.X25519Private,
	mediumDHPriv domain.X25519Private,
	mediumKEMPriv []byte,
	oneTimeDHPriv *domain.X25519Private,
	hs domain.Handshake,
) (Result, error) {
	dh1, err := primitive.DH(mediumDHPriv, hs.InitiatorDHPub)
	if err != nil {
		return Result{}, err
	}
	dh2, err := primitive.DH(responderDHPriv, hs.EphemeralPub)
	if err != nil {
		return Result{}, err
	}
	dh3, err := primitive.DH(mediumDHPriv, hs.EphemeralPub)
	if err != nil {
		return Result{}, err
	}
	var dh4 [keySize]byte
	if oneTimeDHPriv != nil {
		dh4, err = primitive.DH(*oneTimeDHPriv, hs.EphemeralPub)
		if err != nil {
			return Result{}, err
		}
	}

	kemShared, err := primitive.KEMDecapsulate(mediumKEMPriv, hs.KEMCiphertext)
	if err != nil {
		return Result{}, err
	}

	root, chain := derive(dh1, dh2, dh3, dh4, kemShared, hs.InitiatorID, responder, hs.BundleVersion)
	memzero.Zero(kemShared)

	return Result{
		SessionID: uuid.NewString(),
		RootKey:   root,
		ChainKey:  chain,
		Reduced:   oneTimeDHPriv == nil,
	}, nil
}

// derive concatenates the classical DH outputs (dh4 stays a zero-filled
// placeholder in the reduced handshake so the IKM layout is fixed) with the
// KEM shared secret, then splits a 64-byte HKDF output into root and chain
// keys. The info string binds both identities and the exact bundle version.
func derive(dh1, dh2, dh3, dh4 [keySize]byte, kemShared []byte, initiator, responder domain.AgentID, bundleVersion uint64) (root, chain []byte) {
	ikm := make([]byte, 0, 4*keySize+len(kemShared))
	ikm = append(ikm, dh1[:]...)
	ikm = append(ikm, dh2[:]...)
	ikm = append(ikm, dh3[:]...)
	ikm = append(ikm, dh4[:]...)
	ikm = append(ikm, kemShared...)

	info := make([]byte, 0, 64)
	info = append(info, []byte("agentseal/handshake/v1|")...)
	info = append(info, initiator...)
	info = append(info, '|')
	info = append(info, responder...)
	info = append(info, '|')
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], bundleVersion)
	info = append(info, v[:]...)

	out := primitive.KDF(ikm, nil, info, 2*keySize)
	memzero.Zero(ikm)
	memzero.Zero(dh1[:])
	memzero.Zero(dh2[:])
	memzero.Zero(dh3[:])
	memzero.Zero(dh4[:])
	return out[:keySize:keySize], out[keySize:]
}
