// Package auth issues and validates producer access tokens. A token binds
// a producer id and its source application; every event published through
// the API carries both.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	ProducerID string `json:"producer_id"`
	SourceApp  string `json:"source_app"`
	jwt.RegisteredClaims
}

type JWTService struct {
	secret []byte
	expiry time.Duration
}

func NewJWTService(secret string, expiry time.Duration) *JWTService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// GenerateToken mints a signed token for a producer.
func (s *JWTService) GenerateToken(producerID, sourceApp string) (string, error) {
	now := time.Now()
	claims := Claims{
		ProducerID: producerID,
		SourceApp:  sourceApp,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   producerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.ProducerID == "" || claims.SourceApp == "" {
		return nil, fmt.Errorf("token missing producer identity")
	}
	return claims, nil
}
