package envelope

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
)

// Version is the current envelope wire version.
const Version = 1

// canonicalMagic opens every canonical byte sequence.
var canonicalMagic = []byte("ASE1")

// Codec signs and verifies envelopes and enforces the freshness window.
type Codec struct {
	// MaxAge rejects envelopes older than this.
	MaxAge time.Duration
	// ClockSkew tolerates timestamps this far in the future.
	ClockSkew time.Duration

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

// NewCodec returns a codec with the given freshness window.
func NewCodec(maxAge, clockSkew time.Duration) *Codec {
	return &Codec{MaxAge: maxAge, ClockSkew: clockSkew, Now: time.Now}
}

// CanonicalBytes returns the byte sequence covered by the hybrid signature:
// every field except the signatures themselves, in fixed order, variable
// fields length-prefixed with uint32 big-endian and scalars written at fixed
// width.
func CanonicalBytes(e domain.Envelope) []byte {
	out := make([]byte, 0, 128+len(e.Ciphertext)+len(e.WrappedKey))
	out = append(out, canonicalMagic...)

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], e.Version)
	out = append(out, u16[:]...)

	out = appendPrefixed(out, []byte(e.MessageID))
	out = appendPrefixed(out, []byte(e.SenderID))
	out = appendPrefixed(out, []byte(e.RecipientID))
	out = appendPrefixed(out, e.Ciphertext)
	out = appendPrefixed(out, e.Nonce)
	out = appendPrefixed(out, e.WrappedKey)
	out = appendPrefixed(out, []byte(e.KeyID))
	out = appendPrefixed(out, headerBytes(e.RatchetHeader))

	out = append(out, byte(e.Priority))

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], e.TTL)
	out = append(out, u32[:]...)

	out = appendPrefixed(out, []byte(e.CorrelationID))

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(e.Timestamp))
	out = append(out, u64[:]...)
	return out
}

// Sign computes both signatures over the canonical bytes via the identity
// collaborator and attaches them. The envelope must not change afterwards.
func (c *Codec) Sign(ctx context.Context, e *domain.Envelope, signer domain.IdentitySigner) error {
	sigC, sigPQ, err := signer.SignWithIdentity(ctx, e.SenderID, CanonicalBytes(*e))
	if err != nil {
		return fmt.Errorf("sign envelope: %w", err)
	}
	e.SigClassical = sigC
	e.SigPQ = sigPQ
	return nil
}

// Verify recomputes the canonical bytes and checks both signatures against
// the sender's identity keys. Both must pass; a single valid signature is
// not sufficient.
func (c *Codec) Verify(e domain.Envelope, sender domain.IdentityKeys) error {
	msg := CanonicalBytes(e)
	if !primitive.VerifyClassical(sender.SigPub, msg, e.SigClassical) {
		return fmt.Errorf("%w: classical", domain.ErrSignatureVerificationFailed)
	}
	if !primitive.VerifyPQ(sender.PQSigPub, msg, e.SigPQ) {
		return fmt.Errorf("%w: post-quantum", domain.ErrSignatureVerificationFailed)
	}
	return nil
}

// CheckFreshness bounds replay exposure independent of ratchet-level replay
// protection: the embedded timestamp must be within MaxAge of now and at
// most ClockSkew in the future.
func (c *Codec) CheckFreshness(e domain.Envelope) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	ts := time.Unix(e.Timestamp, 0)
	if age := now().Sub(ts); age > c.MaxAge {
		return fmt.Errorf("%w: %s old", domain.ErrEnvelopeExpired, age)
	}
	if ahead := ts.Sub(now()); ahead > c.ClockSkew {
		return fmt.Errorf("%w: %s in the future", domain.ErrEnvelopeExpired, ahead)
	}
	return nil
}

func headerBytes(h *domain.RatchetHeader) []byte {
	if h == nil {
		return nil
	}
	out := make([]byte, 0, len(h.DHPub)+8)
	out = append(out, h.DHPub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PN)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.N)
	out = append(out, b[:]...)
	return out
}

func appendPrefixed(dst, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	dst = append(dst, n[:]...)
	return append(dst, b...)
}
