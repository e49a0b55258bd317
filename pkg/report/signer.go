package report

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/dissonance/pkg/contracts"
)

// DefaultTokenTTL bounds how long a signed decision stays verifiable.
const DefaultTokenTTL = 24 * time.Hour

// DecisionClaims is the payload of a signed decision token. The subject is
// the request id; the report hash binds the token to exact report bytes.
type DecisionClaims struct {
	Decision     string `json:"decision"`
	ReportSha256 string `json:"reportSha256"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 decision tokens.
type Signer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
}

// NewSigner builds a signer from a shared secret.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) == 0 {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "signing key is required")
	}
	return &Signer{key: key, ttl: DefaultTokenTTL, clock: time.Now}, nil
}

// WithTTL overrides the token lifetime.
func (s *Signer) WithTTL(ttl time.Duration) *Signer {
	s.ttl = ttl
	return s
}

// WithClock overrides the time source for tests.
func (s *Signer) WithClock(clock func() time.Time) *Signer {
	s.clock = clock
	return s
}

// Sign issues a token binding the report's decision to its canonical bytes.
func (s *Signer) Sign(r *DissonanceReport) (string, error) {
	sum, err := r.Sha256()
	if err != nil {
		return "", err
	}

	now := s.clock()
	claims := DecisionClaims{
		Decision:     string(r.Decision),
		ReportSha256: sum,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   r.RequestID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verify parses a token and returns its claims. Signature, algorithm, and
// expiry are all checked.
func (s *Signer) Verify(token string) (*DecisionClaims, error) {
	claims := &DecisionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return s.clock() }),
	)
	if err != nil {
		return nil, contracts.WrapCoded(contracts.CodeInvalidInput, err, "verify decision token")
	}
	if !parsed.Valid {
		return nil, contracts.NewCodedError(contracts.CodeInvalidInput, "decision token invalid")
	}
	return claims, nil
}
