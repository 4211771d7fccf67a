package transport

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identify this engine instance to the decision service.
type Claims struct {
	Instance    string `json:"instance"`
	StrategyTag int64  `json:"strategy_tag"`
	jwt.RegisteredClaims
}

// CreateToken signs a short-lived HS256 bearer token.
func CreateToken(secret, instance string, tag int64, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Instance:    instance,
		StrategyTag: tag,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   instance,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// parseToken verifies the signature and returns claims.
func parseToken(secret, token string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}
