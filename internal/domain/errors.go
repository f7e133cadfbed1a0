package domain

import "errors"

var (
	// ErrInvalidKeyBundle indicates a bundle whose medium-key signature does
	// not verify, or whose keys are expired or revoked. Fatal, no retry.
	ErrInvalidKeyBundle = errors.New("invalid key bundle")

	// ErrKeyExhausted indicates the peer has no one-time keys left. The
	// handshake may proceed in reduced form.
	ErrKeyExhausted = errors.New("one-time keys exhausted")

	// ErrSignatureVerificationFailed indicates an envelope signature did not
	// verify under both algorithms. Possible forgery; the message is dropped.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrAuthenticationFailed indicates an AEAD tag mismatch.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDecryptionFailed indicates a ciphertext that could not be opened.
	// Fatal for the message only; session state is untouched.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrReplayed indicates a message counter that was already consumed.
	ErrReplayed = errors.New("message replayed")

	// ErrDesynchronized indicates a ratchet gap beyond the skip window. The
	// session is terminally broken and must be re-established.
	ErrDesynchronized = errors.New("session desynchronized")

	// ErrAuthorizationDenied indicates the policy collaborator rejected the
	// exchange. No cryptography is performed.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrRotationInProgress indicates another rotation holds the commit
	// slot. Transient; safe to retry.
	ErrRotationInProgress = errors.New("rotation in progress")

	// ErrRotationFailed indicates the rotation could not be published.
	// Transient; no partial state was committed.
	ErrRotationFailed = errors.New("rotation failed")

	// ErrEnvelopeExpired indicates a timestamp outside the freshness window.
	ErrEnvelopeExpired = errors.New("envelope outside freshness window")

	// ErrSessionNotFound indicates no established session with the peer.
	ErrSessionNotFound = errors.New("no session with peer")

	// ErrKeyNotFound indicates a referenced key id is unknown.
	ErrKeyNotFound = errors.New("key not found")

	// ErrBundleNotFound indicates the directory has no bundle for the agent.
	ErrBundleNotFound = errors.New("key bundle not found")
)
