package keystore_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agentseal/internal/domain"
	"agentseal/internal/keystore"
	"agentseal/internal/primitive"
)

func newStore(t *testing.T) (*keystore.Store, *primitive.Suite) {
	t.Helper()
	suite := primitive.NewSuite()
	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH: %v", err)
	}
	_, sigPub, err := suite.GenerateClassicalSigning()
	if err != nil {
		t.Fatalf("GenerateClassicalSigning: %v", err)
	}
	_, pqPub, err := suite.GeneratePQSigning()
	if err != nil {
		t.Fatalf("GeneratePQSigning: %v", err)
	}
	store := keystore.NewStore("agent-a", dhPriv, domain.IdentityKeys{
		DHPub:    dhPub,
		SigPub:   sigPub,
		PQSigPub: pqPub,
	})
	return store, suite
}

func installMedium(t *testing.T, store *keystore.Store, suite *primitive.Suite, id domain.MediumKeyID, graceUntil time.Time) {
	t.Helper()
	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		t.Fatalf("GenerateDH: %v", err)
	}
	kemPriv, kemPub, err := suite.GenerateKEM()
	if err != nil {
		t.Fatalf("GenerateKEM: %v", err)
	}
	store.InstallMedium(domain.MediumKey{
		ID:        id,
		DHPub:     dhPub,
		KEMPub:    kemPub,
		CreatedAt: time.Now().Unix(),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}, dhPriv, kemPriv, graceUntil)
}

func TestStore_InstallDemotesPreviousActive(t *testing.T) {
	store, suite := newStore(t)
	grace := time.Now().Add(time.Hour)

	installMedium(t, store, suite, "m1", grace)
	installMedium(t, store, suite, "m2", grace)

	if st, _ := store.MediumState("m1"); st != domain.KeyGrace {
		t.Fatalf("m1 state %s, want grace", st)
	}
	if st, _ := store.MediumState("m2"); st != domain.KeyActive {
		t.Fatalf("m2 state %s, want active", st)
	}
	active, ok := store.ActiveMedium()
	if !ok || active.ID != "m2" {
		t.Fatalf("active medium %q, want m2", active.ID)
	}

	// Both active and grace keys stay usable for decapsulation.
	if _, _, err := store.MediumPrivate("m1"); err != nil {
		t.Fatalf("grace key unusable: %v", err)
	}
	if _, _, err := store.MediumPrivate("m2"); err != nil {
		t.Fatalf("active key unusable: %v", err)
	}
}

func TestStore_ExpireGrace(t *testing.T) {
	store, suite := newStore(t)
	grace := time.Now().Add(-time.Minute)

	installMedium(t, store, suite, "m1", grace)
	installMedium(t, store, suite, "m2", grace)

	if n := store.ExpireGrace(time.Now()); n != 1 {
		t.Fatalf("expired %d keys, want 1", n)
	}
	if st, _ := store.MediumState("m1"); st != domain.KeyExpired {
		t.Fatalf("m1 state %s, want expired", st)
	}
	if _, _, err := store.MediumPrivate("m1"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("expired key usable: %v", err)
	}
	// The active key is untouched.
	if st, _ := store.MediumState("m2"); st != domain.KeyActive {
		t.Fatalf("m2 state %s, want active", st)
	}
}

func TestStore_RevokeFromAnyState(t *testing.T) {
	store, suite := newStore(t)
	grace := time.Now().Add(time.Hour)

	installMedium(t, store, suite, "m1", grace)
	installMedium(t, store, suite, "m2", grace)

	// Revoke the grace key, then the active one.
	for _, id := range []domain.MediumKeyID{"m1", "m2"} {
		if err := store.Revoke(id); err != nil {
			t.Fatalf("Revoke %s: %v", id, err)
		}
		if st, _ := store.MediumState(id); st != domain.KeyRevoked {
			t.Fatalf("%s state %s, want revoked", id, st)
		}
		if _, _, err := store.MediumPrivate(id); !errors.Is(err, domain.ErrKeyNotFound) {
			t.Fatalf("revoked key usable: %v", err)
		}
	}
	if _, ok := store.ActiveMedium(); ok {
		t.Fatal("active medium survived revocation")
	}
	if err := store.Revoke("missing"); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestStore_BundleVersionAdvances(t *testing.T) {
	store, suite := newStore(t)
	installMedium(t, store, suite, "m1", time.Now().Add(time.Hour))

	b1, err := store.Bundle()
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	installMedium(t, store, suite, "m2", time.Now().Add(time.Hour))
	b2, err := store.Bundle()
	if err != nil {
		t.Fatalf("Bundle: %v", err)
	}
	if b2.Version <= b1.Version {
		t.Fatalf("version %d not past %d", b2.Version, b1.Version)
	}
	if b2.Medium.ID != "m2" {
		t.Fatalf("bundle medium %q, want m2", b2.Medium.ID)
	}
}

func TestStore_BundleRequiresActiveMedium(t *testing.T) {
	store, _ := newStore(t)
	if _, err := store.Bundle(); !errors.Is(err, domain.ErrKeyNotFound) {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestStore_OneTimeExactlyOnceUnderContention(t *testing.T) {
	store, suite := newStore(t)

	const pool = 10
	var pairs []keystore.OneTimePair
	for i := 0; i < pool; i++ {
		p, err := keystore.GenerateOneTimePair(suite, domain.OneTimeKeyID(fmt.Sprintf("ot-%d", i)))
		if err != nil {
			t.Fatalf("GenerateOneTimePair: %v", err)
		}
		pairs = append(pairs, p)
	}
	store.AddOneTime(pairs)

	const workers = 100
	var wg sync.WaitGroup
	wins := make(chan domain.OneTimeKeyID, workers)
	for i := 0; i < workers; i++ {
		id := pairs[i%pool].Public.ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := store.TakeOneTime(id); err == nil {
				wins <- id
			}
		}()
	}
	wg.Wait()
	close(wins)

	got := make(map[domain.OneTimeKeyID]int)
	for id := range wins {
		got[id]++
	}
	if len(got) != pool {
		t.Fatalf("%d distinct keys consumed, want %d", len(got), pool)
	}
	for id, n := range got {
		if n != 1 {
			t.Fatalf("key %s consumed %d times", id, n)
		}
	}
	if store.OneTimeCount() != 0 {
		t.Fatalf("%d keys remain, want 0", store.OneTimeCount())
	}
}
