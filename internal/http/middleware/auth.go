// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file verifies HS256 bearer tokens issued by the shop's auth service
// and stores the caller identity (claim "id") and admin flag (claim "admin")
// in the Gin context. Tokens are read from the Authorization header or, for
// browser clients, the accessToken cookie.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys populated by JWTAuth.
const (
	CtxKeyUserID = "userID"
	CtxKeyAdmin  = "auth.admin"
)

const accessTokenCookie = "accessToken"

var (
	errNoToken      = errors.New("missing bearer token")
	errNoIdentity   = errors.New("token carries no id claim")
	errBadSignature = errors.New("unexpected signing method")
)

// JWTAuth verifies bearer tokens with a shared secret. A JWTAuth built with
// an empty secret is disabled: it never rejects and trusts the X-User-ID
// header instead, which is how local development and tests run.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth returns a verifier for secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(strings.TrimSpace(secret))}
}

// Enabled reports whether tokens are verified.
func (a *JWTAuth) Enabled() bool { return a != nil && len(a.secret) > 0 }

// Optional verifies a token when one is presented. Requests without a token
// pass through anonymously; an invalid token is rejected with 403.
func (a *JWTAuth) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		raw, err := bearerToken(c)
		if errors.Is(err, errNoToken) {
			c.Next()
			return
		}
		if err := a.authenticate(c, raw); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("token rejected")
			abortAuth(c, http.StatusForbidden, "forbidden", "invalid token")
			return
		}
		c.Next()
	}
}

// Required rejects requests that carry no verified identity with 401. When
// verification is disabled the X-User-ID header must be present.
func (a *JWTAuth) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			if strings.TrimSpace(c.GetHeader("X-User-ID")) == "" {
				abortAuth(c, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			c.Next()
			return
		}
		if _, ok := c.Get(CtxKeyUserID); ok {
			c.Next()
			return
		}
		raw, err := bearerToken(c)
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if err := a.authenticate(c, raw); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("token rejected")
			abortAuth(c, http.StatusForbidden, "forbidden", "invalid token")
			return
		}
		c.Next()
	}
}

func (a *JWTAuth) authenticate(c *gin.Context, raw string) error {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", errBadSignature, t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}

	id, _ := claims["id"].(string)
	if strings.TrimSpace(id) == "" {
		return errNoIdentity
	}
	admin, _ := claims["admin"].(bool)

	c.Set(CtxKeyUserID, id)
	c.Set(CtxKeyAdmin, admin)
	return nil
}

// IsAdmin reports whether the verified token carried admin=true.
func IsAdmin(c *gin.Context) bool {
	v, ok := c.Get(CtxKeyAdmin)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func bearerToken(c *gin.Context) (string, error) {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), nil
		}
		return "", errNoToken
	}
	if ck, err := c.Cookie(accessTokenCookie); err == nil && ck != "" {
		return ck, nil
	}
	return "", errNoToken
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
