package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL bounds the provider consent round trip.
const DefaultStateTTL = 10 * time.Minute

const stateAudience = "oauth-state"

var ErrInvalidState = errors.New("invalid oauth state")

type stateClaims struct {
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// StateCodec carries the owner and provider through an OAuth redirect as a
// short-lived signed token.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateCodec(secret string, ttl time.Duration) (*StateCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *StateCodec) Encode(ownerID, provider string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", ErrMissingUserID
	}
	now := s.now()
	claims := stateClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

func (s *StateCodec) Decode(state string) (string, string, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Subject == "" || claims.Provider == "" {
		return "", "", ErrInvalidState
	}
	return claims.Subject, claims.Provider, nil
}
