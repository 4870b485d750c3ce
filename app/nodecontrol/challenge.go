package nodecontrol

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/puzpuzpuz/xsync/v4"
)

var (
	ErrChallengeMismatch = errors.New("challenge is not the last one issued")
	ErrChallengeInvalid  = errors.New("challenge is invalid or expired")
)

// ChallengeStore issues single-use challenges. Only the most recent challenge
// of a network is accepted, once, before it expires.
type ChallengeStore struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
	issued *xsync.Map[string, string]
}

// NewChallengeStore signs with secret, or with a random key when secret is empty.
func NewChallengeStore(secret string, ttl time.Duration, clock clockwork.Clock) (*ChallengeStore, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate challenge key: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ChallengeStore{
		secret: key,
		ttl:    ttl,
		clock:  clock,
		issued: xsync.NewMap[string, string](),
	}, nil
}

// Issue creates a challenge for network, replacing any earlier one.
func (s *ChallengeStore) Issue(network string) (string, error) {
	jti := make([]byte, 16)
	if _, err := rand.Read(jti); err != nil {
		return "", err
	}
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   network,
		ID:        hex.EncodeToString(jti),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	s.issued.Store(network, signed)
	return signed, nil
}

// Consume accepts challenge if it is the last one issued for network and still
// valid. An accepted challenge cannot be used again.
func (s *ChallengeStore) Consume(network, challenge string) error {
	accepted := false
	s.issued.Compute(network, func(last string, loaded bool) (string, xsync.ComputeOp) {
		if !loaded || challenge == "" || last != challenge {
			return last, xsync.CancelOp
		}
		accepted = true
		return "", xsync.DeleteOp
	})
	if !accepted {
		return ErrChallengeMismatch
	}

	_, err := jwt.ParseWithClaims(challenge, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(network),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeInvalid, err)
	}
	return nil
}
