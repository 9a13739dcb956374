package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the minimum accepted HMAC secret length in bytes.
// HS256 secrets shorter than the hash output weaken the MAC.
const MinSecretLen = 32

// ErrSecretTooShort is returned when the signing secret is below MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLen)

// GenerateToken creates a signed JWT string from the given claims.
// The expiry duration is added to the current time to set the ExpiresAt field.
func GenerateToken(secret []byte, claims *ManagerClaims, expiry time.Duration) (string, error) {
	if len(secret) < MinSecretLen {
		return "", ErrSecretTooShort
	}

	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates a JWT string, returning the ManagerClaims.
// Strictly pins the signing method to HS256 to prevent algorithm confusion attacks.
func ValidateToken(secret []byte, tokenStr string) (*ManagerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &ManagerClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v (only HS256 allowed)", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*ManagerClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
