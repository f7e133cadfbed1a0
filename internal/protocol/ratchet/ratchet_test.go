package ratchet_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/protocol/ratchet"
)

// makePair seeds both ends of a session from a shared root and chain key,
// as a completed key agreement would.
func makePair(t *testing.T, maxSkip uint32) (a, b domain.RatchetState) {
	t.Helper()
	suite := primitive.NewSuite()
	rk := bytes.Repeat([]byte{0x42}, 32)
	ck := bytes.Repeat([]byte{0x24}, 32)

	a, err := ratchet.InitInitiator(suite, "sess", rk, ck, maxSkip)
	if err != nil {
		t.Fatalf("InitInitiator: %v", err)
	}
	b, err = ratchet.InitResponder(suite, "sess", rk, ck, a.DHPub, maxSkip)
	if err != nil {
		t.Fatalf("InitResponder: %v", err)
	}
	return a, b
}

func TestRatchet_OneRoundTrip(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q, want %q", pt, "hi")
	}
}

func TestRatchet_PingPongAdvancesBothChains(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	for i := 0; i < 3; i++ {
		ping := fmt.Sprintf("ping %d", i)
		h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte(ping))
		if err != nil {
			t.Fatalf("round %d Encrypt a: %v", i, err)
		}
		pt, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct)
		if err != nil {
			t.Fatalf("round %d Decrypt b: %v", i, err)
		}
		if string(pt) != ping {
			t.Fatalf("round %d: got %q, want %q", i, pt, ping)
		}

		pong := fmt.Sprintf("pong %d", i)
		h, nonce, ct, err = ratchet.Encrypt(suite, &b, nil, []byte(pong))
		if err != nil {
			t.Fatalf("round %d Encrypt b: %v", i, err)
		}
		pt, err = ratchet.Decrypt(suite, &a, nil, h, nonce, ct)
		if err != nil {
			t.Fatalf("round %d Decrypt a: %v", i, err)
		}
		if string(pt) != pong {
			t.Fatalf("round %d: got %q, want %q", i, pt, pong)
		}
	}
}

func TestRatchet_AssociatedDataMismatch(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h, nonce, ct, err := ratchet.Encrypt(suite, &a, []byte("a>b"), []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &b, []byte("b>a"), h, nonce, ct); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("got err %v, want ErrDecryptionFailed", err)
	}
}

type sealed struct {
	h     domain.RatchetHeader
	nonce []byte
	ct    []byte
}

func TestRatchet_OutOfOrderWithinWindow(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	var msgs []sealed
	for i := 0; i < 3; i++ {
		h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		msgs = append(msgs, sealed{h, nonce, ct})
	}

	// Deliver 3rd, then 1st, then 2nd.
	for _, i := range []int{2, 0, 1} {
		pt, err := ratchet.Decrypt(suite, &b, nil, msgs[i].h, msgs[i].nonce, msgs[i].ct)
		if err != nil {
			t.Fatalf("Decrypt %d: %v", i, err)
		}
		want := fmt.Sprintf("msg %d", i)
		if string(pt) != want {
			t.Fatalf("got %q, want %q", pt, want)
		}
	}
}

func TestRatchet_SkippedKeysSurviveRatchetStep(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h0, n0, ct0, err := ratchet.Encrypt(suite, &a, nil, []byte("early"))
	if err != nil {
		t.Fatalf("Encrypt early: %v", err)
	}
	h1, n1, ct1, err := ratchet.Encrypt(suite, &a, nil, []byte("late"))
	if err != nil {
		t.Fatalf("Encrypt late: %v", err)
	}

	// Only the later message arrives, then the conversation turns over a
	// full DH step before the early one shows up.
	if _, err := ratchet.Decrypt(suite, &b, nil, h1, n1, ct1); err != nil {
		t.Fatalf("Decrypt late: %v", err)
	}
	h, nonce, ct, err := ratchet.Encrypt(suite, &b, nil, []byte("reply"))
	if err != nil {
		t.Fatalf("Encrypt reply: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &a, nil, h, nonce, ct); err != nil {
		t.Fatalf("Decrypt reply: %v", err)
	}
	h, nonce, ct, err = ratchet.Encrypt(suite, &a, nil, []byte("new chain"))
	if err != nil {
		t.Fatalf("Encrypt new chain: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct); err != nil {
		t.Fatalf("Decrypt new chain: %v", err)
	}

	pt, err := ratchet.Decrypt(suite, &b, nil, h0, n0, ct0)
	if err != nil {
		t.Fatalf("Decrypt early after step: %v", err)
	}
	if string(pt) != "early" {
		t.Fatalf("got %q, want %q", pt, "early")
	}
}

func TestRatchet_ReplayRejected(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte("once"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct); err != nil {
		t.Fatalf("first Decrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct); !errors.Is(err, domain.ErrReplayed) {
		t.Fatalf("got err %v, want ErrReplayed", err)
	}
}

func TestRatchet_DesyncBoundary(t *testing.T) {
	const maxSkip = 4
	suite := primitive.NewSuite()
	a, b := makePair(t, maxSkip)

	var msgs []sealed
	for i := 0; i <= maxSkip+1; i++ {
		h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte(fmt.Sprintf("msg %d", i)))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		msgs = append(msgs, sealed{h, nonce, ct})
	}

	// A gap of exactly maxSkip is recoverable.
	if _, err := ratchet.Decrypt(suite, &b, nil, msgs[maxSkip].h, msgs[maxSkip].nonce, msgs[maxSkip].ct); err != nil {
		t.Fatalf("Decrypt at gap %d: %v", maxSkip, err)
	}

	// One past it is not.
	a2, b2 := makePair(t, maxSkip)
	var last sealed
	for i := 0; i <= maxSkip+1; i++ {
		h, nonce, ct, err := ratchet.Encrypt(suite, &a2, nil, []byte("x"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		last = sealed{h, nonce, ct}
	}
	if _, err := ratchet.Decrypt(suite, &b2, nil, last.h, last.nonce, last.ct); !errors.Is(err, domain.ErrDesynchronized) {
		t.Fatalf("got err %v, want ErrDesynchronized", err)
	}
}

func TestRatchet_TamperLeavesStateUsable(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte("first"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	flipped := append([]byte(nil), ct...)
	flipped[0] ^= 0x01
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, flipped); !errors.Is(err, domain.ErrDecryptionFailed) {
		t.Fatalf("got err %v, want ErrDecryptionFailed", err)
	}

	// The failed attempt must not have advanced or corrupted the state.
	pt, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct)
	if err != nil {
		t.Fatalf("Decrypt after tamper: %v", err)
	}
	if string(pt) != "first" {
		t.Fatalf("got %q, want %q", pt, "first")
	}
}

func TestRatchet_WipeClearsSecrets(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}

	ratchet.Wipe(&b)
	for _, buf := range [][]byte{b.RootKey, b.SendCK, b.RecvCK} {
		for _, v := range buf {
			if v != 0 {
				t.Fatal("secret bytes survived wipe")
			}
		}
	}
	var zero domain.X25519Private
	if b.DHPriv != zero {
		t.Fatal("ratchet private key survived wipe")
	}
	if len(b.Skipped) != 0 {
		t.Fatal("skipped keys survived wipe")
	}
}

func TestRatchet_ChainStepWipesPriorKey(t *testing.T) {
	suite := primitive.NewSuite()
	a, b := makePair(t, 10)

	// Advancing the sending chain must zero the previous chain key in
	// place, so state captured after step N cannot re-derive key N-1.
	prevSend := a.SendCK
	h, nonce, ct, err := ratchet.Encrypt(suite, &a, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	for _, v := range prevSend {
		if v != 0 {
			t.Fatal("prior sending chain key survived the step")
		}
	}
	if bytes.Equal(a.SendCK, prevSend) {
		t.Fatal("sending chain did not advance")
	}

	// The same holds for the receiving chain after a committed decrypt.
	prevRoot, prevRecv := b.RootKey, b.RecvCK
	if _, err := ratchet.Decrypt(suite, &b, nil, h, nonce, ct); err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	for _, v := range prevRecv {
		if v != 0 {
			t.Fatal("prior receiving chain key survived the step")
		}
	}
	for _, v := range prevRoot {
		if v != 0 {
			t.Fatal("prior root key survived the commit")
		}
	}
}
