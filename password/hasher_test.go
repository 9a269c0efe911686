package password

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastBcrypt(t *testing.T, cost int) *Bcrypt {
	t.Helper()
	b, err := NewBcrypt(cost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	return b
}

func TestBcryptHashAndVerify(t *testing.T) {
	b := fastBcrypt(t, bcrypt.MinCost)

	hash, err := b.Hash("Secr3t!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if hash == "Secr3t!" || !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("unexpected hash %q", hash)
	}

	ok, err := b.Verify("Secr3t!", hash)
	if err != nil || !ok {
		t.Fatalf("expected verify to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = b.Verify("wrong", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail cleanly, ok=%v err=%v", ok, err)
	}
	ok, err = b.Verify("", hash)
	if err != nil || ok {
		t.Fatalf("expected empty password to fail cleanly, ok=%v err=%v", ok, err)
	}
}

func TestBcryptRejectsBadInput(t *testing.T) {
	b := fastBcrypt(t, bcrypt.MinCost)

	if _, err := b.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, err := b.Hash(strings.Repeat("x", 73)); err == nil {
		t.Fatal("expected password over 72 bytes to be rejected")
	}
	if _, err := b.Verify("pw", "$argon2id$v=19$m=8192,t=1,p=1$AA$AA"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := NewBcrypt(40); err == nil {
		t.Fatal("expected out of range cost to be rejected")
	}
}

func TestBcryptNeedsRehash(t *testing.T) {
	weak := fastBcrypt(t, bcrypt.MinCost)
	strong := fastBcrypt(t, bcrypt.MinCost+1)

	hash, err := weak.Hash("Secr3t!")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if needs, _ := strong.NeedsRehash(hash); !needs {
		t.Fatal("expected lower cost to need rehash")
	}
	if needs, _ := weak.NeedsRehash(hash); needs {
		t.Fatal("expected same cost not to need rehash")
	}
}

func TestNewSwitchesAlgorithmWithoutStrandingHashes(t *testing.T) {
	legacyParams := fieldParams()
	legacyParams.Algorithm = AlgorithmBcrypt
	legacyParams.BcryptCost = bcrypt.MinCost
	legacy, err := New(legacyParams)
	if err != nil {
		t.Fatalf("New(bcrypt): %v", err)
	}
	current, err := New(fieldParams())
	if err != nil {
		t.Fatalf("New(argon2id): %v", err)
	}

	oldHash, _ := legacy.Hash("Secr3t!")
	newHash, err := current.Hash("Secr3t!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(newHash, argon2Prefix) {
		t.Fatalf("expected argon2id output, got %q", newHash)
	}

	for _, h := range []Hasher{legacy, current} {
		for _, hash := range []string{oldHash, newHash} {
			if ok, err := h.Verify("Secr3t!", hash); err != nil || !ok {
				t.Fatalf("verify %q: ok=%v err=%v", hash[:7], ok, err)
			}
		}
	}

	if needs, err := current.NeedsRehash(oldHash); err != nil || !needs {
		t.Fatalf("bcrypt hash under argon2id: needs=%v err=%v", needs, err)
	}
	if needs, err := legacy.NeedsRehash(newHash); err != nil || !needs {
		t.Fatalf("argon2id hash under bcrypt: needs=%v err=%v", needs, err)
	}
	if needs, err := current.NeedsRehash(newHash); err != nil || needs {
		t.Fatalf("current hash: needs=%v err=%v", needs, err)
	}
	if _, err := current.Verify("Secr3t!", "plaintext"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := current.NeedsRehash("plaintext"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := New(Params{Algorithm: "md5"}); err == nil {
		t.Fatal("expected unknown algorithm to be rejected")
	}
	weak := fieldParams()
	weak.Memory = 1
	if _, err := New(weak); err == nil {
		t.Fatal("expected weak argon2id params to be rejected")
	}
}
