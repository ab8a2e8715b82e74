package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserAuth enforces bearer JWT tokens signed with HS256.
func UserAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// UserID extracts the authenticated user from a request handled by UserAuth.
func UserID(c *gin.Context) string {
	claimsAny, ok := c.Get("claims")
	if !ok {
		return ""
	}
	claims, _ := claimsAny.(Claims)
	return claims.Subject
}
