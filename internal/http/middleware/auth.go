// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements identity resolution. Every document the API reads or
// writes is keyed by the signed-in user's lower-cased email, so requests
// without an identity are rejected with 401 before reaching a handler.
//
// Two modes:
//   - Secret set: "Authorization: Bearer <HS256 JWT>" is required; the user
//     id is the "email" claim, falling back to "sub".
//   - Secret empty (development/tests): the X-User-ID header is trusted.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ctxKeyUserID is the Gin context key holding the resolved user id.
	ctxKeyUserID = "userID"
	// HeaderUserID carries the user id when token auth is disabled.
	HeaderUserID = "X-User-ID"
)

var (
	errNoCredentials = errors.New("missing bearer token")
	errNoIdentity    = errors.New("token carries no email or subject")
)

// AuthOptions configures Auth.
type AuthOptions struct {
	// Secret is the HS256 signing key. Empty disables token auth.
	Secret string
	// Issuer, when set, must match the token's "iss" claim.
	Issuer string
}

// Auth resolves the caller's identity and stores it under "userID".
func Auth(opts AuthOptions) gin.HandlerFunc {
	secret := []byte(opts.Secret)
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		var (
			uid string
			err error
		)
		if len(secret) > 0 {
			uid, err = fromBearer(c.GetHeader("Authorization"), parser, secret)
		} else {
			uid = c.GetHeader(HeaderUserID)
		}
		uid = normalizeUserID(uid)
		if err != nil || uid == "" {
			msg := "authentication required"
			if err != nil {
				msg = "invalid credentials"
				LoggerFrom(c).Debug().Err(err).Msg("auth rejected")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    msg,
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// UserID returns the identity stored by Auth, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func fromBearer(header string, parser *jwt.Parser, secret []byte) (string, error) {
	scheme, raw, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return "", errNoCredentials
	}
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return "", err
	}
	if email, _ := claims["email"].(string); strings.TrimSpace(email) != "" {
		return email, nil
	}
	if sub, _ := claims.GetSubject(); strings.TrimSpace(sub) != "" {
		return sub, nil
	}
	return "", errNoIdentity
}

func normalizeUserID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
