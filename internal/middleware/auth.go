package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quizline/quizline-backend/internal/auth"
	"github.com/quizline/quizline-backend/internal/response"
)

const contextKeyClaims = "auth_claims"

// Auth validates the Bearer token and stores its claims in the request
// context. requiredType restricts the endpoint to one token type.
func Auth(tokens *auth.TokenService, requiredType auth.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.AbortFail(c, response.ErrTokenRequired)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			response.AbortFail(c, response.ErrTokenInvalid)
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			if err == auth.ErrTokenExpired {
				response.AbortFail(c, response.ErrTokenExpired)
			} else {
				response.AbortFail(c, response.ErrTokenInvalid)
			}
			return
		}
		if claims.TokenType != requiredType {
			response.AbortFail(c, response.ErrForbidden)
			return
		}

		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the validated claims, nil when Auth did not run.
func GetClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, ok := v.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
