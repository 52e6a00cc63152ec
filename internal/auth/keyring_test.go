package auth_test

import (
	"testing"
	"time"

	"github.com/courierdev/courier/internal/auth"
)

func newKeyring(t *testing.T) *auth.Keyring {
	t.Helper()
	k, err := auth.NewKeyring(nil, "feed-secret-0123456789abcdef")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return k
}

func TestFeedTokenRoundTrip(t *testing.T) {
	t.Parallel()
	k := newKeyring(t)

	token, expiresAt, err := k.GenerateFeedToken("observer", time.Hour)
	if err != nil {
		t.Fatalf("GenerateFeedToken: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expiresAt = %v, want in the future", expiresAt)
	}
	if _, err := k.ValidateFeedToken(token); err != nil {
		t.Fatalf("ValidateFeedToken: %v", err)
	}
}

func TestTokenSurvivesOneRotation(t *testing.T) {
	t.Parallel()
	k := newKeyring(t)

	token, _, err := k.GenerateFeedToken("observer", time.Hour)
	if err != nil {
		t.Fatalf("GenerateFeedToken: %v", err)
	}

	k.Rotate()
	if _, err := k.ValidateFeedToken(token); err != nil {
		t.Fatalf("token invalid after one rotation: %v", err)
	}

	k.Rotate()
	if _, err := k.ValidateFeedToken(token); err == nil {
		t.Fatal("token still valid after two rotations")
	}
}

func TestRejectsGarbageToken(t *testing.T) {
	t.Parallel()
	k := newKeyring(t)
	if _, err := k.ValidateFeedToken("not.a.token"); err == nil {
		t.Fatal("garbage token accepted")
	}
}

func TestRejectsNonFeedToken(t *testing.T) {
	t.Parallel()
	k := newKeyring(t)
	other, err := auth.NewKeyring(nil, "a-completely-different-secret")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}

	token, _, err := other.GenerateFeedToken("observer", time.Hour)
	if err != nil {
		t.Fatalf("GenerateFeedToken: %v", err)
	}
	if _, err := k.ValidateFeedToken(token); err == nil {
		t.Fatal("token signed with a foreign key accepted")
	}
}
