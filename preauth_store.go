package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	preAuthKeyPrefix      = "apc"
	preAuthRecordVersion1 = 1
	preAuthMaxAttempts    = 5
)

var (
	errPreAuthChallengeNotFound = errors.New("pre-auth challenge not found")
	errPreAuthChallengeExpired  = errors.New("pre-auth challenge expired")
	errPreAuthChallengeExceeded = errors.New("pre-auth challenge attempts exceeded")
	errPreAuthChallengeBackend  = errors.New("pre-auth challenge backend unavailable")
)

// preAuthChallenge is the pending half of a two-factor login: the password
// was verified, the one-time code was not. A challenge is redeemable exactly
// once and disappears on expiry, success, or too many failed codes.
type preAuthChallenge struct {
	UserID    string
	Email     string
	ExpiresAt int64
	Attempts  uint16
}

type preAuthChallengeStore struct {
	redis *redis.Client
	now   func() time.Time
}

func newPreAuthChallengeStore(redisClient *redis.Client, now func() time.Time) *preAuthChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &preAuthChallengeStore{redis: redisClient, now: now}
}

func (s *preAuthChallengeStore) key(challengeID string) string {
	return preAuthKeyPrefix + ":" + challengeID
}

func (s *preAuthChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *preAuthChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodePreAuthChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPreAuthChallengeBackend, err)
	}
	return nil
}

func (s *preAuthChallengeStore) Get(ctx context.Context, challengeID string) (*preAuthChallenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPreAuthChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errPreAuthChallengeBackend, err)
	}

	record, err := decodePreAuthChallenge(data)
	if err != nil {
		return nil, err
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, errPreAuthChallengeExpired
	}
	return record, nil
}

// Delete removes the challenge and reports whether it existed. Redeeming a
// challenge goes through Delete so two concurrent confirmations cannot both
// succeed.
func (s *preAuthChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errPreAuthChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under a WATCH transaction and
// deletes the challenge once maxAttempts is reached. It returns true when
// this failure exhausted the challenge.
func (s *preAuthChallengeStore) RecordFailure(
	ctx context.Context,
	challengeID string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePreAuthChallenge(data)
			if err != nil {
				return err
			}
			if s.now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errPreAuthChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errPreAuthChallengeExpired
			}

			updated, err := encodePreAuthChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, errPreAuthChallengeNotFound
			}
			if errors.Is(err, errPreAuthChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", errPreAuthChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, errPreAuthChallengeNotFound
}

func encodePreAuthChallenge(record *preAuthChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(preAuthRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 || len(record.Email) > 65535 {
		return nil, errors.New("pre-auth challenge field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)

	return buf.Bytes(), nil
}

func decodePreAuthChallenge(data []byte) (*preAuthChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != preAuthRecordVersion1 {
		return nil, errors.New("invalid pre-auth challenge version")
	}

	record := &preAuthChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userLen); err != nil {
		return nil, err
	}
	user := make([]byte, userLen)
	if _, err := io.ReadFull(reader, user); err != nil {
		return nil, err
	}
	record.UserID = string(user)

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	return record, nil
}
