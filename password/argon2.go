package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Prefix = "$argon2id$"

// Floors applied to configured and stored argon2id parameters.
const (
	MinArgon2Memory = 8 * 1024
	MinArgon2Salt   = 16
	MinArgon2Key    = 16
)

var errMalformedArgon2 = errors.New("malformed argon2id hash")

// Argon2 hashes with argon2id using the cost fields of [Params].
type Argon2 struct {
	memory  uint32
	time    uint32
	threads uint8
	saltLen uint32
	keyLen  uint32
}

// NewArgon2 checks p's argon2id fields against the floors above.
func NewArgon2(p Params) (*Argon2, error) {
	switch {
	case p.Memory < MinArgon2Memory:
		return nil, fmt.Errorf("argon2 memory %d KB below %d", p.Memory, MinArgon2Memory)
	case p.Time < 1:
		return nil, errors.New("argon2 time must be at least 1")
	case p.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be at least 1")
	case p.SaltLength < MinArgon2Salt:
		return nil, fmt.Errorf("argon2 salt length %d below %d", p.SaltLength, MinArgon2Salt)
	case p.KeyLength < MinArgon2Key:
		return nil, fmt.Errorf("argon2 key length %d below %d", p.KeyLength, MinArgon2Key)
	}
	return &Argon2{
		memory:  p.Memory,
		time:    p.Time,
		threads: p.Parallelism,
		saltLen: p.SaltLength,
		keyLen:  p.KeyLength,
	}, nil
}

func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, a.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	h := argon2Hash{
		memory:  a.memory,
		time:    a.time,
		threads: a.threads,
		salt:    salt,
		key:     argon2.IDKey([]byte(password), salt, a.time, a.memory, a.threads, a.keyLen),
	}
	return h.String(), nil
}

func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	h, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	if password == "" {
		return false, nil
	}
	key := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.threads, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(key, h.key) == 1, nil
}

// NeedsRehash is true when any stored cost is below the configured one or
// the key length differs.
func (a *Argon2) NeedsRehash(encodedHash string) (bool, error) {
	h, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	return h.memory < a.memory ||
		h.time < a.time ||
		h.threads < a.threads ||
		uint32(len(h.key)) != a.keyLen, nil
}

// argon2Hash is one decoded PHC string:
//
//	$argon2id$v=19$m=<KB>,t=<passes>,p=<threads>$<salt>$<key>
//
// Salt and key use unpadded standard base64.
type argon2Hash struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

func (h argon2Hash) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version, h.memory, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(h.salt),
		base64.RawStdEncoding.EncodeToString(h.key),
	)
}

func parseArgon2(encoded string) (argon2Hash, error) {
	var h argon2Hash
	rest, ok := strings.CutPrefix(encoded, argon2Prefix)
	if !ok {
		return h, ErrUnknownFormat
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return h, errMalformedArgon2
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil {
		return h, errMalformedArgon2
	}
	if version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version %d", version)
	}
	_, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.threads)
	if err != nil || fields[1] != fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, h.threads) {
		return h, errMalformedArgon2
	}
	if h.memory < MinArgon2Memory || h.time < 1 || h.threads < 1 {
		return h, errMalformedArgon2
	}

	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[2]); err != nil || len(h.salt) < MinArgon2Salt {
		return h, errMalformedArgon2
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[3]); err != nil || len(h.key) < MinArgon2Key {
		return h, errMalformedArgon2
	}
	return h, nil
}
