package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ChallengeID is the opaque reference handed to the caller for a pending
// MFA challenge.
type ChallengeID [32]byte

// NewChallengeID draws a random challenge id.
func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

// ParseChallengeID decodes and size-checks a challenge reference.
func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid challenge id size")
	}

	copy(id[:], raw)
	return id, nil
}

// HashCode binds a one-time code to its challenge so stored digests are
// not reusable across challenges.
func HashCode(challengeID, code string) [32]byte {
	h := sha256.New()
	h.Write([]byte(challengeID))
	h.Write([]byte{0})
	h.Write([]byte(code))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewLinkToken returns a single-use token of the form id.secret. The id
// names the stored record; only a hash of the secret is ever stored.
func NewLinkToken() (token, id, secret string, err error) {
	cid, err := NewChallengeID()
	if err != nil {
		return "", "", "", err
	}
	sec, err := NewChallengeID()
	if err != nil {
		return "", "", "", err
	}
	id, secret = cid.String(), sec.String()
	return id + "." + secret, id, secret, nil
}

// SplitLinkToken undoes NewLinkToken. ok is false for anything NewLinkToken
// could not have produced.
func SplitLinkToken(token string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(token, ".")
	if !found {
		return "", "", false
	}
	if _, err := ParseChallengeID(id); err != nil {
		return "", "", false
	}
	if _, err := ParseChallengeID(secret); err != nil {
		return "", "", false
	}
	return id, secret, true
}

// NewOTP returns a uniformly random numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}
