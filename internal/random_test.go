package internal

import (
	"testing"
)

func TestChallengeIDRoundTrip(t *testing.T) {
	id, err := NewChallengeID()
	if err != nil {
		t.Fatalf("NewChallengeID: %v", err)
	}

	parsed, err := ParseChallengeID(id.String())
	if err != nil {
		t.Fatalf("ParseChallengeID: %v", err)
	}
	if parsed != id {
		t.Fatal("parsed id differs from original")
	}
}

func TestParseChallengeIDRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "not base64 !!", "c2hvcnQ"} {
		if _, err := ParseChallengeID(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestHashCodeBindsChallenge(t *testing.T) {
	a := HashCode("challenge-a", "123456")
	if a != HashCode("challenge-a", "123456") {
		t.Fatal("hash is not deterministic")
	}
	if a == HashCode("challenge-b", "123456") {
		t.Fatal("same code under another challenge must hash differently")
	}
	if a == HashCode("challenge-a", "654321") {
		t.Fatal("different codes must hash differently")
	}
}

func TestNewOTP(t *testing.T) {
	for _, digits := range []int{6, 8, 10} {
		code, err := NewOTP(digits)
		if err != nil {
			t.Fatalf("NewOTP(%d): %v", digits, err)
		}
		if len(code) != digits {
			t.Fatalf("NewOTP(%d) length = %d", digits, len(code))
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("non-digit %q in %q", c, code)
			}
		}
	}

	for _, digits := range []int{0, 5, 11} {
		if _, err := NewOTP(digits); err == nil {
			t.Fatalf("NewOTP(%d) should fail", digits)
		}
	}
}

func TestLinkTokenRoundTrip(t *testing.T) {
	token, id, secret, err := NewLinkToken()
	if err != nil {
		t.Fatalf("NewLinkToken: %v", err)
	}
	gotID, gotSecret, ok := SplitLinkToken(token)
	if !ok || gotID != id || gotSecret != secret {
		t.Fatalf("split %q = (%q, %q, %v)", token, gotID, gotSecret, ok)
	}

	other, _, _, _ := NewLinkToken()
	if other == token {
		t.Fatal("expected distinct tokens")
	}
}

func TestSplitLinkTokenRejectsMalformed(t *testing.T) {
	token, id, _, _ := NewLinkToken()
	for _, in := range []string{"", id, id + ".", "." + id, token + "x", "a.b", token + "." + id} {
		if _, _, ok := SplitLinkToken(in); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}
