// Package auth resolves bearer tokens into actors.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"tasktracker/internal/models"
)

const actorKey = "actor"

// ErrUnauthenticated is returned for missing or unusable tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the token payload. The subject is the user id.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses tokenString and returns the actor it names.
func (v *Verifier) Verify(tokenString string) (models.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return models.Actor{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return models.Actor{}, fmt.Errorf("%w: missing subject", ErrUnauthenticated)
	}
	if !claims.Role.Valid() {
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}
	return models.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved actor on the gin context.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		actor, err := v.Verify(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(c *gin.Context) (models.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return models.Actor{}, false
	}
	actor, ok := v.(models.Actor)
	return actor, ok
}
