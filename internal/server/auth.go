// Package server implements JWT-based authentication for the control plane
// and Bearer-token authentication for the data plane.
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is how long a control-plane JWT stays valid.
const tokenTTL = 24 * time.Hour

// Auth holds the credentials both planes check against.
type Auth struct {
	jwtSecret  []byte
	agentToken string
	adminUser  string
	adminPass  string
}

// NewAuth builds an Auth from configured secrets.
func NewAuth(jwtSecret, agentToken, adminUser, adminPass string) *Auth {
	return &Auth{
		jwtSecret:  []byte(jwtSecret),
		agentToken: agentToken,
		adminUser:  adminUser,
		adminPass:  adminPass,
	}
}

// Claims is the payload embedded in every JWT issued by /api/login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// CheckAdmin reports whether the credentials match the configured admin.
func (a *Auth) CheckAdmin(user, pass string) bool {
	u := subtle.ConstantTimeCompare([]byte(user), []byte(a.adminUser))
	p := subtle.ConstantTimeCompare([]byte(pass), []byte(a.adminPass))
	return u&p == 1
}

// GenerateJWT creates a signed HS256 JWT valid for 24 hours.
func (a *Auth) GenerateJWT(username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "wgtally",
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// parseJWT validates a token string and returns the claims.
func (a *Auth) parseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// JWTMiddleware validates control-plane tokens and stores the username in
// the Gin context as "username".
func (a *Auth) JWTMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing or malformed Authorization header, expected: Bearer <token>",
			})
			return
		}

		claims, err := a.parseJWT(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// AgentTokenMiddleware checks the collector pre-shared key on the data plane.
func (a *Auth) AgentTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearer(c)
		if !ok || subtle.ConstantTimeCompare([]byte(raw), []byte(a.agentToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing agent token",
			})
			return
		}
		c.Next()
	}
}
