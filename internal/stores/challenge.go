package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const challengeRecordVersion1 = 1

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeExpired  = errors.New("mfa challenge expired")
	ErrChallengeMismatch = errors.New("mfa challenge code mismatch")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// Challenge is one pending second-factor check.
type Challenge struct {
	AccountID string
	Email     string
	CodeHash  [32]byte
	ExpiresAt int64 // unix milliseconds
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.UnixMilli() >= c.ExpiresAt
}

// ChallengeStore saves challenges and consumes them at most once.
type ChallengeStore interface {
	Save(ctx context.Context, challengeID string, record *Challenge, ttl time.Duration) error
	// Consume deletes and returns the challenge when codeHash matches and the
	// challenge has not expired. A mismatch leaves the challenge in place.
	Consume(ctx context.Context, challengeID string, codeHash [32]byte) (*Challenge, error)
}

func encodeChallenge(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(challengeRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if len(record.AccountID) > 65535 || len(record.Email) > 65535 {
		return nil, errors.New("mfa challenge field length exceeded")
	}
	for _, s := range []string{record.AccountID, record.Email} {
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersion1 {
		return nil, errors.New("invalid mfa challenge version")
	}

	record := &Challenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	fields := make([]string, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.AccountID = fields[0]
	record.Email = fields[1]

	return record, nil
}
