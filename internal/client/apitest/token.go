package apitest

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var errInvalidToken = errors.New("invalid token")

type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

// issueAccess mints an HS256 access token for userID that expires accessTTL
// after the server clock.
func (s *Server) issueAccess(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(s.now),
			ExpiresAt: jwt.NewNumericDate(s.now.Add(s.accessTTL)),
		},
		UserID: userID,
	})
	return token.SignedString(s.secret)
}

// userFromAccess validates tokenString against the server clock.
func (s *Server) userFromAccess(tokenString string) (string, error) {
	now := s.now
	claims := &accessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserID == "" {
		return "", errInvalidToken
	}
	return claims.UserID, nil
}

type refreshEntry struct {
	userID    string
	expiresAt time.Time
}

// issueRefresh stores a new opaque refresh token. Tokens rotate: each one is
// good for a single exchange.
func (s *Server) issueRefresh(userID string) string {
	token := uuid.NewString()
	s.refresh[token] = refreshEntry{userID: userID, expiresAt: s.now.Add(s.refreshTTL)}
	return token
}

func (s *Server) consumeRefresh(token string) (string, bool) {
	entry, ok := s.refresh[token]
	if !ok {
		return "", false
	}
	delete(s.refresh, token)
	if !entry.expiresAt.After(s.now) {
		return "", false
	}
	return entry.userID, true
}
