package main

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID   string
	Username string
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate verifies a handshake token and extracts the caller's
// identity. The token may carry a "Bearer " prefix, which is stripped
// before verification.
func (a *Authenticator) Authenticate(raw string) (Identity, error) {
	tokenStr := strings.TrimSpace(raw)
	if len(tokenStr) > 7 && strings.EqualFold(tokenStr[:7], "bearer ") {
		tokenStr = strings.TrimSpace(tokenStr[7:])
	}
	if tokenStr == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid claims type", ErrUnauthenticated)
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing userId claim", ErrUnauthenticated)
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username = userID
	}

	return Identity{UserID: userID, Username: username}, nil
}
