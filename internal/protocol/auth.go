package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authClaims is the minimal claim set a run.start bearer token carries: the
// subject becomes the run's Principal when verification succeeds.
type authClaims struct {
	jwt.RegisteredClaims
}

// bearerAuth verifies HS256 bearer tokens against a shared secret. A nil
// *bearerAuth (the zero value returned when no secret is configured) never
// rejects a request, matching the protocol's "auth is optional" contract.
type bearerAuth struct {
	secret []byte
}

func newBearerAuth(secret string) *bearerAuth {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &bearerAuth{secret: []byte(secret)}
}

// verify checks token and returns the subject claim to use as the run's
// principal. An empty token is rejected whenever auth is configured.
func (a *bearerAuth) verify(token string) (string, error) {
	if a == nil {
		return "", nil
	}
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	if token == "" {
		return "", fmt.Errorf("protocol: missing bearer token")
	}
	claims := &authClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("protocol: invalid bearer token")
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return "", fmt.Errorf("protocol: expired bearer token")
	}
	return claims.Subject, nil
}
