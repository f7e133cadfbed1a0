package agreement_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/protocol/agreement"
)

// responderKeys is everything the responder side holds privately.
type responderKeys struct {
	bundle      domain.KeyBundle
	dhPriv      domain.X25519Private
	mediumDH    domain.X25519Private
	mediumKEM   []byte
	oneTimePriv domain.X25519Private
}

// makeResponder builds a fully signed responder bundle with one one-time key.
func makeResponder(t *testing.T, suite *primitive.Suite, agent domain.AgentID) responderKeys {
	t.Helper()

	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH: %v", err)
	}
	sigPriv, sigPub, err := suite.GenerateClassicalSigning()
	if err != nil {
		t.Fatalf("GenerateClassicalSigning: %v", err)
	}
	pqPriv, pqPub, err := suite.GeneratePQSigning()
	if err != nil {
		t.Fatalf("GeneratePQSigning: %v", err)
	}

	medDHPriv, medDHPub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH medium: %v", err)
	}
	medKEMPriv, medKEMPub, err := suite.GenerateKEM()
	if err != nil {
		t.Fatalf("GenerateKEM: %v", err)
	}
	now := time.Now()
	medium := domain.MediumKey{
		ID:        "medium-1",
		DHPub:     medDHPub,
		KEMPub:    medKEMPub,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(time.Hour).Unix(),
	}
	msg := medium.SigningBytes()
	medium.SigClassical = primitive.SignClassical(sigPriv, msg)
	medium.SigPQ, err = primitive.SignPQ(pqPriv, msg)
	if err != nil {
		t.Fatalf("SignPQ: %v", err)
	}

	otDHPriv, otDHPub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH one-time: %v", err)
	}
	_, otKEMPub, err := suite.GenerateKEM()
	if err != nil {
		t.Fatalf("GenerateKEM one-time: %v", err)
	}

	return responderKeys{
		bundle: domain.KeyBundle{
			AgentID: agent,
			Identity: domain.IdentityKeys{
				DHPub:    dhPub,
				SigPub:   sigPub,
				PQSigPub: pqPub,
			},
			Medium: medium,
			OneTimeKeys: []domain.OneTimeKeyPublic{
				{ID: "ot-1", DHPub: otDHPub, KEMPub: otKEMPub},
			},
			Version: 3,
		},
		dhPriv:      dhPriv,
		mediumDH:    medDHPriv,
		mediumKEM:   medKEMPriv,
		oneTimePriv: otDHPriv,
	}
}

func makeInitiator(t *testing.T, suite *primitive.Suite) (domain.X25519Private, domain.X25519Public) {
	t.Helper()
	priv, pub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH: %v", err)
	}
	return priv, pub
}

func TestAgreement_BothSidesDeriveSameKeys(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	initPriv, initPub := makeInitiator(t, suite)

	ot := resp.bundle.OneTimeKeys[0]
	ir, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, &ot)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if ir.Reduced {
		t.Fatal("full handshake reported as reduced")
	}
	if ir.Handshake.OneTimeKeyID != "ot-1" {
		t.Fatalf("handshake one-time id %q", ir.Handshake.OneTimeKeyID)
	}

	rr, err := agreement.Respond(suite, "agent-b", resp.dhPriv, resp.mediumDH, resp.mediumKEM, &resp.oneTimePriv, ir.Handshake)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if !bytes.Equal(ir.RootKey, rr.RootKey) {
		t.Fatal("root keys differ")
	}
	if !bytes.Equal(ir.ChainKey, rr.ChainKey) {
		t.Fatal("chain keys differ")
	}
}

func TestAgreement_ReducedHandshake(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	initPriv, initPub := makeInitiator(t, suite)

	ir, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, nil)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if !ir.Reduced {
		t.Fatal("handshake without one-time key not reported as reduced")
	}
	if ir.Handshake.OneTimeKeyID != "" {
		t.Fatalf("unexpected one-time id %q", ir.Handshake.OneTimeKeyID)
	}

	rr, err := agreement.Respond(suite, "agent-b", resp.dhPriv, resp.mediumDH, resp.mediumKEM, nil, ir.Handshake)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !bytes.Equal(ir.RootKey, rr.RootKey) || !bytes.Equal(ir.ChainKey, rr.ChainKey) {
		t.Fatal("derived keys differ")
	}
}

func TestAgreement_ReducedAndFullDiverge(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	initPriv, initPub := makeInitiator(t, suite)

	ot := resp.bundle.OneTimeKeys[0]
	full, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, &ot)
	if err != nil {
		t.Fatalf("Initiate full: %v", err)
	}
	reduced, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, nil)
	if err != nil {
		t.Fatalf("Initiate reduced: %v", err)
	}
	if bytes.Equal(full.RootKey, reduced.RootKey) {
		t.Fatal("one-time key did not affect the derivation")
	}
}

func TestVerifyBundle_RejectsTamperedSignatures(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	now := time.Now()

	if err := agreement.VerifyBundle(resp.bundle, now); err != nil {
		t.Fatalf("VerifyBundle valid: %v", err)
	}

	bad := resp.bundle
	bad.Medium.SigClassical = append([]byte(nil), bad.Medium.SigClassical...)
	bad.Medium.SigClassical[0] ^= 0x01
	if err := agreement.VerifyBundle(bad, now); !errors.Is(err, domain.ErrInvalidKeyBundle) {
		t.Fatalf("classical tamper: got %v, want ErrInvalidKeyBundle", err)
	}

	bad = resp.bundle
	bad.Medium.SigPQ = append([]byte(nil), bad.Medium.SigPQ...)
	bad.Medium.SigPQ[0] ^= 0x01
	if err := agreement.VerifyBundle(bad, now); !errors.Is(err, domain.ErrInvalidKeyBundle) {
		t.Fatalf("pq tamper: got %v, want ErrInvalidKeyBundle", err)
	}
}

func TestVerifyBundle_RejectsExpiredMedium(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")

	at := time.Unix(resp.bundle.Medium.ExpiresAt, 0).Add(time.Minute)
	if err := agreement.VerifyBundle(resp.bundle, at); !errors.Is(err, domain.ErrInvalidKeyBundle) {
		t.Fatalf("got %v, want ErrInvalidKeyBundle", err)
	}
}

func TestVerifyBundle_RejectsMutatedFields(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")

	bad := resp.bundle
	bad.Medium.ExpiresAt += 3600
	if err := agreement.VerifyBundle(bad, time.Now()); !errors.Is(err, domain.ErrInvalidKeyBundle) {
		t.Fatalf("got %v, want ErrInvalidKeyBundle", err)
	}
}

func TestHandshakeCodec_RoundTrip(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	initPriv, initPub := makeInitiator(t, suite)

	ot := resp.bundle.OneTimeKeys[0]
	ir, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, &ot)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	enc := agreement.EncodeHandshake(ir.Handshake)
	got, err := agreement.DecodeHandshake(enc)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if got.InitiatorID != ir.Handshake.InitiatorID ||
		got.InitiatorDHPub != ir.Handshake.InitiatorDHPub ||
		got.EphemeralPub != ir.Handshake.EphemeralPub ||
		got.MediumKeyID != ir.Handshake.MediumKeyID ||
		got.OneTimeKeyID != ir.Handshake.OneTimeKeyID ||
		got.BundleVersion != ir.Handshake.BundleVersion {
		t.Fatal("decoded handshake differs")
	}
	if !bytes.Equal(got.KEMCiphertext, ir.Handshake.KEMCiphertext) {
		t.Fatal("decoded KEM ciphertext differs")
	}
}

func TestHandshakeCodec_RejectsMalformedInput(t *testing.T) {
	suite := primitive.NewSuite()
	resp := makeResponder(t, suite, "agent-b")
	initPriv, initPub := makeInitiator(t, suite)

	ir, err := agreement.Initiate(suite, "agent-a", initPriv, initPub, resp.bundle, nil)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	enc := agreement.EncodeHandshake(ir.Handshake)

	cases := map[string][]byte{
		"empty":       nil,
		"bad version": append([]byte{0x7f}, enc[1:]...),
		"truncated":   enc[:len(enc)/2],
	}
	for name, in := range cases {
		if _, err := agreement.DecodeHandshake(in); err == nil {
			t.Fatalf("%s: malformed handshake accepted", name)
		}
	}
}
