package ratchet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/util/memzero"
)

const (
	keySize   = 32
	nonceSize = primitive.AEADNonceSize
)

var errChainUninitialised = errors.New("ratchet chain key is uninitialised")

// InitInitiator seeds a state whose sending chain starts from the agreed
// chain key. The fresh ratchet public key travels in every header so the
// responder can complete its side.
func InitInitiator(suite *primitive.Suite, sessionID string, rootKey, chainKey []byte, maxSkip uint32) (domain.RatchetState, error) {
	priv, pub, err := suite.GenerateDH()
	if err != nil {
		return domain.RatchetState{}, err
	}
	return domain.RatchetState{
		SessionID: sessionID,
		RootKey:   append([]byte(nil), rootKey...),
		DHPriv:    priv,
		DHPub:     pub,
		SendCK:    append([]byte(nil), chainKey...),
		Skipped:   make(map[string][]byte),
		MaxSkip:   maxSkip,
	}, nil
}

// InitResponder seeds a state whose receiving chain starts from the agreed
// chain key, tracking the initiator's ratchet public key from the first
// header.
func InitResponder(suite *primitive.Suite, sessionID string, rootKey, chainKey []byte, initiatorRatchetPub domain.X25519Public, maxSkip uint32) (domain.RatchetState, error) {
	priv, pub, err := suite.GenerateDH()
	if err != nil {
		return domain.RatchetState{}, err
	}
	return domain.RatchetState{
		SessionID: sessionID,
		RootKey:   append([]byte(nil), rootKey...),
		DHPriv:    priv,
		DHPub:     pub,
		PeerDHPub: initiatorRatchetPub,
		RecvCK:    append([]byte(nil), chainKey...),
		Skipped:   make(map[string][]byte),
		MaxSkip:   maxSkip,
	}, nil
}

// Encrypt derives the next message key from the sending chain, advances the
// chain, and seals plaintext with the header bound as associated data. The
// responder's first send triggers a DH ratchet step to establish its sending
// chain.
func Encrypt(suite *primitive.Suite, st *domain.RatchetState, ad, plaintext []byte) (domain.RatchetHeader, []byte, []byte, error) {
	if len(st.SendCK) == 0 {
		if err := stepSending(suite, st); err != nil {
			return domain.RatchetHeader{}, nil, nil, err
		}
	}

	mk, err := nextSendKey(st)
	if err != nil {
		return domain.RatchetHeader{}, nil, nil, err
	}
	h := domain.RatchetHeader{DHPub: st.DHPub.Slice(), PN: st.PN, N: st.Ns}
	nonce := messageNonce(h.N)

	ct, err := primitive.AEADEncrypt(mk, nonce, withHeader(ad, h), plaintext)
	memzero.Zero(mk)
	if err != nil {
		return domain.RatchetHeader{}, nil, nil, err
	}
	st.Ns++
	return h, nonce, ct, nil
}

// Decrypt opens a message, tolerating out-of-order delivery within the skip
// window and re-keying when the header carries a new peer ratchet key.
//
// It mutates a deep copy and commits only on success, so a tampered
// ciphertext is rejected without corrupting or advancing the live state.
// Counters already consumed are rejected with ErrReplayed; gaps beyond
// MaxSkip with ErrDesynchronized.
func Decrypt(suite *primitive.Suite, st *domain.RatchetState, ad []byte, h domain.RatchetHeader, nonce, ciphertext []byte) ([]byte, error) {
	if len(h.DHPub) != keySize {
		return nil, fmt.Errorf("%w: bad ratchet key length %d", domain.ErrDecryptionFailed, len(h.DHPub))
	}

	work := st.Clone()
	pt, err := decrypt(suite, &work, ad, h, nonce, ciphertext)
	if err != nil {
		wipe(&work)
		return nil, err
	}

	old := *st
	*st = work
	wipe(&old)
	return pt, nil
}

func decrypt(suite *primitive.Suite, st *domain.RatchetState, ad []byte, h domain.RatchetHeader, nonce, ciphertext []byte) ([]byte, error) {
	// A stored skipped key, keyed by the header's own ratchet key, covers
	// out-of-order arrivals from the current or a previous chain.
	var hdrPub domain.X25519Public
	copy(hdrPub[:], h.DHPub)
	if id := skippedKeyID(hdrPub, h.N); st.Skipped[id] != nil {
		mk := st.Skipped[id]
		pt, err := primitive.AEADDecrypt(mk, nonce, withHeader(ad, h), ciphertext)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
		}
		memzero.Zero(mk)
		delete(st.Skipped, id)
		return pt, nil
	}

	if !equal32(st.PeerDHPub[:], h.DHPub) {
		// Close out the previous receiving chain, then DH-ratchet to the
		// new peer key.
		if err := skipUntil(st, h.PN); err != nil {
			return nil, err
		}
		if err := stepReceiving(suite, st, h.DHPub); err != nil {
			return nil, err
		}
	} else if h.N < st.Nr {
		// Counter already consumed on the current chain with no stored key.
		return nil, domain.ErrReplayed
	}

	if err := skipUntil(st, h.N); err != nil {
		return nil, err
	}
	mk, err := nextRecvKey(st)
	if err != nil {
		return nil, err
	}
	pt, err := primitive.AEADDecrypt(mk, nonce, withHeader(ad, h), ciphertext)
	memzero.Zero(mk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}
	st.Nr++
	return pt, nil
}

// stepSending rotates the sending side only: fresh ratchet pair, root
// advance against the peer's current key.
func stepSending(suite *primitive.Suite, st *domain.RatchetState) error {
	if st.PeerDHPub.IsZero() {
		return errChainUninitialised
	}
	st.PN = st.Ns
	st.Ns = 0

	priv, pub, err := suite.GenerateDH()
	if err != nil {
		return err
	}
	dh, err := primitive.DH(priv, st.PeerDHPub)
	if err != nil {
		return err
	}
	newRK, sendCK := kdfRoot(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	replace(&st.RootKey, newRK)
	replace(&st.SendCK, sendCK)
	memzero.Zero32((*[32]byte)(&st.DHPriv))
	st.DHPriv, st.DHPub = priv, pub
	return nil
}

// stepReceiving performs the full DH ratchet on a new peer key: advance the
// root for the receiving chain, then again with a fresh local pair for the
// future sending chain.
func stepReceiving(suite *primitive.Suite, st *domain.RatchetState, peerPub []byte) error {
	var newPeer domain.X25519Public
	copy(newPeer[:], peerPub)

	dh, err := primitive.DH(st.DHPriv, newPeer)
	if err != nil {
		return err
	}
	rk, recvCK := kdfRoot(st.RootKey, dh[:])
	memzero.Zero(dh[:])

	priv, pub, err := suite.GenerateDH()
	if err != nil {
		memzero.Zero(rk)
		memzero.Zero(recvCK)
		return err
	}
	dh2, err := primitive.DH(priv, newPeer)
	if err != nil {
		memzero.Zero(rk)
		memzero.Zero(recvCK)
		return err
	}
	rk2, sendCK := kdfRoot(rk, dh2[:])
	memzero.Zero(dh2[:])
	memzero.Zero(rk)

	st.PN = st.Ns
	st.Ns, st.Nr = 0, 0
	replace(&st.RootKey, rk2)
	replace(&st.RecvCK, recvCK)
	replace(&st.SendCK, sendCK)
	memzero.Zero32((*[32]byte)(&st.DHPriv))
	st.DHPriv, st.DHPub = priv, pub
	st.PeerDHPub = newPeer
	return nil
}

// skipUntil derives and stores message keys up to (not including) n on the
// current receiving chain. A gap beyond MaxSkip is unrecoverable.
func skipUntil(st *domain.RatchetState, n uint32) error {
	if n <= st.Nr {
		return nil
	}
	if n-st.Nr > st.MaxSkip {
		return domain.ErrDesynchronized
	}
	if len(st.RecvCK) == 0 {
		return errChainUninitialised
	}
	for st.Nr < n {
		mk, err := nextRecvKey(st)
		if err != nil {
			return err
		}
		if uint32(len(st.Skipped)) >= st.MaxSkip {
			return domain.ErrDesynchronized
		}
		st.Skipped[skippedKeyID(st.PeerDHPub, st.Nr)] = mk
		st.Nr++
	}
	return nil
}

// --- chain KDFs ---

func kdfRoot(rk, dh []byte) (newRK, ck []byte) {
	out := primitive.KDF(dh, rk, []byte("agentseal/ratchet/root"), 2*keySize)
	return out[:keySize:keySize], out[keySize:]
}

func kdfChain(ck []byte) (nextCK, mk []byte) {
	out := primitive.KDF(ck, nil, []byte("agentseal/ratchet/chain"), 2*keySize)
	return out[:keySize:keySize], out[keySize:]
}

func nextSendKey(st *domain.RatchetState) ([]byte, error) {
	if len(st.SendCK) == 0 {
		return nil, errChainUninitialised
	}
	next, mk := kdfChain(st.SendCK)
	replace(&st.SendCK, next)
	return mk, nil
}

func nextRecvKey(st *domain.RatchetState) ([]byte, error) {
	if len(st.RecvCK) == 0 {
		return nil, errChainUninitialised
	}
	next, mk := kdfChain(st.RecvCK)
	replace(&st.RecvCK, next)
	return mk, nil
}

// --- helpers ---

// replace wipes the previous buffer before swapping in the successor.
func replace(dst *[]byte, next []byte) {
	memzero.Zero(*dst)
	*dst = next
}

// wipe destroys every secret in a state.
func wipe(st *domain.RatchetState) {
	memzero.Zero(st.RootKey)
	memzero.Zero(st.SendCK)
	memzero.Zero(st.RecvCK)
	memzero.Zero32((*[32]byte)(&st.DHPriv))
	for id, mk := range st.Skipped {
		memzero.Zero(mk)
		delete(st.Skipped, id)
	}
}

// Wipe destroys every secret in a state. Exposed for session teardown.
func Wipe(st *domain.RatchetState) { wipe(st) }

func messageNonce(n uint32) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint32(nonce[nonceSize-4:], n)
	return nonce
}

func withHeader(ad []byte, h domain.RatchetHeader) []byte {
	out := make([]byte, 0, len(ad)+len(h.DHPub)+8)
	out = append(out, ad...)
	out = append(out, h.DHPub...)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], h.PN)
	out = append(out, b[:]...)
	binary.BigEndian.PutUint32(b[:], h.N)
	out = append(out, b[:]...)
	return out
}

func skippedKeyID(peer domain.X25519Public, n uint32) string {
	b := make([]byte, keySize+4)
	copy(b, peer[:])
	binary.BigEndian.PutUint32(b[keySize:], n)
	return string(b)
}

func equal32(a, b []byte) bool {
	if len(a) != keySize || len(b) != keySize {
		return false
	}
	var v byte
	for i := 0; i < keySize; i++ {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
