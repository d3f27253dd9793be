package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptRoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("pass")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("expected bcrypt hash, got %q", hash)
	}
	if !h.Verify(hash, "pass") {
		t.Error("expected correct password to verify")
	}
	if h.Verify(hash, "Pass") {
		t.Error("expected wrong password to fail")
	}
}

func TestHashEmpty(t *testing.T) {
	if _, err := NewHasher(bcrypt.MinCost).Hash(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestArgon2idRoundTrip(t *testing.T) {
	hash, err := HashArgon2id("pass")
	if err != nil {
		t.Fatalf("HashArgon2id: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("unexpected PHC string %q", hash)
	}
	h := NewHasher(bcrypt.MinCost)
	if !h.Verify(hash, "pass") {
		t.Error("expected correct password to verify")
	}
	if h.Verify(hash, "nope") {
		t.Error("expected wrong password to fail")
	}
}

func TestVerifyMalformed(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	for _, hash := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=2,p=1$!!!$abc",
		"$argon2id$v=18$m=65536,t=2,p=1$c2FsdA$a2V5",
		"$2a$04$short",
		"$argon2id$v=19$m=65536,t=0,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=65536,t=2,p=0$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=4294967295,t=2,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=65536,t=4000000000,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5",
	} {
		if h.Verify(hash, "pass") {
			t.Errorf("Verify(%q) = true, want false", hash)
		}
	}
}

func TestDummy(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	d := h.Dummy()
	if !strings.HasPrefix(d, "$2") {
		t.Fatalf("expected bcrypt dummy hash, got %q", d)
	}
	if d != h.Dummy() {
		t.Error("expected dummy hash to be stable")
	}
	if h.Verify(d, "") || h.Verify(d, "pass") {
		t.Error("dummy hash must not verify guessable passwords")
	}
}

func TestNewHasherCostBounds(t *testing.T) {
	if got := NewHasher(1).Cost; got != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want default %d", got, bcrypt.DefaultCost)
	}
	if got := NewHasher(bcrypt.MinCost).Cost; got != bcrypt.MinCost {
		t.Errorf("cost = %d, want %d", got, bcrypt.MinCost)
	}
}
