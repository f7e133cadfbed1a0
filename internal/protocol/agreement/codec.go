package agreement

import (
	"encoding/binary"
	"fmt"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
)

// handshakeVersion tags the binary handshake layout carried in an
// envelope's WrappedKey field.
const handshakeVersion = 1

// EncodeHandshake serializes a handshake into the versioned length-prefixed
// layout: version byte, then initiator id, initiator DH pub, ephemeral pub,
// medium key id, one-time key id, KEM ciphertext, bundle version.
func EncodeHandshake(hs domain.Handshake) []byte {
	out := make([]byte, 0, 96+len(hs.KEMCiphertext))
	out = append(out, handshakeVersion)
	out = appendPrefixed(out, []byte(hs.InitiatorID))
	out = appendPrefixed(out, hs.InitiatorDHPub.Slice())
	out = appendPrefixed(out, hs.EphemeralPub.Slice())
	out = appendPrefixed(out, []byte(hs.MediumKeyID))
	out = appendPrefixed(out, []byte(hs.OneTimeKeyID))
	out = appendPrefixed(out, hs.KEMCiphertext)
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], hs.BundleVersion)
	return append(out, v[:]...)
}

// DecodeHandshake parses an encoded handshake, validating lengths strictly.
func DecodeHandshake(b []byte) (domain.Handshake, error) {
	var hs domain.Handshake
	if len(b) == 0 {
		return hs, fmt.Errorf("handshake: empty payload")
	}
	if b[0] != handshakeVersion {
		return hs, fmt.Errorf("handshake: unsupported version %d", b[0])
	}
	r := reader{buf: b[1:]}

	initiator, err := r.next()
	if err != nil {
		return hs, err
	}
	dhPub, err := r.next()
	if err != nil {
		return hs, err
	}
	ephPub, err := r.next()
	if err != nil {
		return hs, err
	}
	mediumID, err := r.next()
	if err != nil {
		return hs, err
	}
	oneTimeID, err := r.next()
	if err != nil {
		return hs, err
	}
	kemCT, err := r.next()
	if err != nil {
		return hs, err
	}
	if len(r.buf) != 8 {
		return hs, fmt.Errorf("handshake: truncated bundle version")
	}
	if len(dhPub) != keySize || len(ephPub) != keySize {
		return hs, fmt.Errorf("handshake: bad public key length")
	}
	if len(kemCT) != primitive.KEMCiphertextSize {
		return hs, fmt.Errorf("handshake: bad KEM ciphertext length %d", len(kemCT))
	}

	hs.InitiatorID = domain.AgentID(initiator)
	copy(hs.InitiatorDHPub[:], dhPub)
	copy(hs.EphemeralPub[:], ephPub)
	hs.MediumKeyID = domain.MediumKeyID(mediumID)
	hs.OneTimeKeyID = domain.OneTimeKeyID(oneTimeID)
	hs.KEMCiphertext = append([]byte(nil), kemCT...)
	hs.BundleVersion = binary.BigEndian.Uint64(r.buf)
	return hs, nil
}

type reader struct{ buf []byte }

func (r *reader) next() ([]byte, error) {
	if len(r.buf) < 4 {
		return nil, fmt.Errorf("handshake: truncated field")
	}
	n := binary.BigEndian.Uint32(r.buf[:4])
	r.buf = r.buf[4:]
	if uint32(len(r.buf)) < n {
		return nil, fmt.Errorf("handshake: truncated field body")
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func appendPrefixed(dst, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	dst = append(dst, n[:]...)
	return append(dst, b...)
}
