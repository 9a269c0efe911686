package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmptyPassword is returned by Hash for an empty input.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrUnknownFormat is returned when a stored hash is in no supported format.
	ErrUnknownFormat = errors.New("unrecognized password hash format")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify returns (false, nil) on a wrong password and an error only for
	// a malformed hash.
	Verify(password, encodedHash string) (bool, error)
	NeedsRehash(encodedHash string) (bool, error)
}

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	// bcrypt ignores input past 72 bytes.
	BcryptMaxBytes = 72
)

// Params selects the hashing algorithm and its costs. Memory is in KB.
type Params struct {
	Algorithm   string
	BcryptCost  int
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// New returns a Hasher that hashes with p.Algorithm and verifies both
// bcrypt and argon2id hashes, so changing the algorithm never strands
// stored hashes. A hash in the other format always needs a rehash.
func New(p Params) (Hasher, error) {
	switch p.Algorithm {
	case "", AlgorithmBcrypt:
		b, err := NewBcrypt(p.BcryptCost)
		if err != nil {
			return nil, err
		}
		// argon2id hashes from an earlier configuration are verified with
		// whatever parameters they carry.
		return &upgrading{bcrypt: b, argon2: &Argon2{}, primary: AlgorithmBcrypt}, nil
	case AlgorithmArgon2id:
		a, err := NewArgon2(p)
		if err != nil {
			return nil, err
		}
		return &upgrading{bcrypt: &Bcrypt{cost: bcrypt.MinCost}, argon2: a, primary: AlgorithmArgon2id}, nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", p.Algorithm)
	}
}

// Bcrypt hashes with golang.org/x/crypto/bcrypt.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher. cost 0 selects bcrypt.DefaultCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	return &Bcrypt{cost: cost}, nil
}

func (b *Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > BcryptMaxBytes {
		return "", errors.New("password exceeds 72 bytes for bcrypt")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	if !isBcrypt(encodedHash) {
		return false, ErrUnknownFormat
	}
	if password == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, err
	}
}

func (b *Bcrypt) NeedsRehash(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, err
	}
	return cost < b.cost, nil
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}

// upgrading dispatches on the stored hash prefix.
type upgrading struct {
	bcrypt  *Bcrypt
	argon2  *Argon2
	primary string
}

func (u *upgrading) Hash(password string) (string, error) {
	if u.primary == AlgorithmArgon2id {
		return u.argon2.Hash(password)
	}
	return u.bcrypt.Hash(password)
}

func (u *upgrading) Verify(password, encodedHash string) (bool, error) {
	switch format(encodedHash) {
	case AlgorithmBcrypt:
		return u.bcrypt.Verify(password, encodedHash)
	case AlgorithmArgon2id:
		return u.argon2.Verify(password, encodedHash)
	}
	return false, ErrUnknownFormat
}

func (u *upgrading) NeedsRehash(encodedHash string) (bool, error) {
	switch f := format(encodedHash); {
	case f == "":
		return false, ErrUnknownFormat
	case f != u.primary:
		return true, nil
	case f == AlgorithmBcrypt:
		return u.bcrypt.NeedsRehash(encodedHash)
	default:
		return u.argon2.NeedsRehash(encodedHash)
	}
}

func format(encodedHash string) string {
	switch {
	case isBcrypt(encodedHash):
		return AlgorithmBcrypt
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return AlgorithmArgon2id
	}
	return ""
}
