// Package auth resolves connect-time bearer tokens to user identifiers.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
)

const issuer = "songiq"

// Claims carries the user identifier issued by the account service.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secretKey []byte
	clock     clockwork.Clock
}

var _ domain.CredentialVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secretKey string, clock clockwork.Clock) *JWTVerifier {
	return &JWTVerifier{secretKey: []byte(secretKey), clock: clock}
}

// Verify returns the token's user. The userId claim wins over the subject.
// Every failure wraps domain.ErrInvalidCredential.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		credential,
		claims,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secretKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidCredential, err)
	}
	if !token.Valid {
		return "", domain.ErrInvalidCredential
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", fmt.Errorf("%w: no user in token", domain.ErrInvalidCredential)
	}
	return userID, nil
}

// Issue signs a token for userID valid for ttl. Used by tests and local tooling.
func (v *JWTVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secretKey)
}
