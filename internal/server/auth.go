package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// actorKey is the gin context key holding the authenticated actor id.
const actorKey = "actorID"

var errNoSubject = errors.New("server: token has no subject")

// IssueToken signs an HS256 token for actorID. Used by the CLI to mint
// tokens for local callers and by tests.
func IssueToken(secret []byte, actorID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   actorID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("server: signing token: %w", err)
	}

	return signed, nil
}

// parseActor validates tokenString and returns its subject.
func parseActor(secret []byte, tokenString string, now func() time.Time) (string, error) {
	var claims jwt.RegisteredClaims

	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return "", err
	}

	if claims.Subject == "" {
		return "", errNoSubject
	}

	return claims.Subject, nil
}

// authMiddleware requires a valid bearer token and stores its subject as the
// actor for the request.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		scheme, tok, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		actorID, err := parseActor(s.secret, tok, s.nowFunc)
		if err != nil {
			s.logger.Debug("rejected bearer token", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})

			return
		}

		c.Set(actorKey, actorID)
		c.Next()
	}
}
