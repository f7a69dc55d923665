package gateway

import (
	"fmt"
	"time"

	"github.com/boddenberg/hbci-session-go/internal/domain"
	"github.com/boddenberg/hbci-session-go/internal/infra/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "hbci-session"

// Claims identifies the passport a gateway call acts for.
type Claims struct {
	BLZ string `json:"blz"`
	jwt.RegisteredClaims
}

// TokenSigner issues short-lived HS256 service tokens, one per passport.
// Tokens are reused until shortly before they expire.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	tokens *cache.InMemory[string]
}

// NewTokenSigner creates a signer. Cached tokens are dropped a fifth of
// their lifetime before expiry.
func NewTokenSigner(secret string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		ttl:    ttl,
		tokens: cache.New[string](ttl - ttl/5),
	}
}

// Token returns a valid token for blz/userID.
func (s *TokenSigner) Token(blz, userID string) (string, error) {
	key := domain.PassportKey(blz, userID)
	if tok, ok := s.tokens.Get(key); ok {
		return tok, nil
	}

	now := time.Now()
	claims := Claims{
		BLZ: blz,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    tokenIssuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign gateway token: %w", err)
	}
	s.tokens.Set(key, tok)
	return tok, nil
}

// Close stops the token cache cleanup.
func (s *TokenSigner) Close() {
	s.tokens.Close()
}

// VerifyToken parses and validates a token signed with secret. The
// gateway uses the same check; tests use it to assert what was sent.
func VerifyToken(secret, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid gateway token: " + err.Error()}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid gateway token"}
	}
	return claims, nil
}
