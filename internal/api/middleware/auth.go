package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sammy/pagelift/internal/logger"
)

const userIDKey = "user_id"

// Auth returns a middleware that resolves the caller's identity from an
// optional Bearer token. Requests without a token (or with a token that
// fails verification) proceed as guests; handlers decide whether an
// identity is required for the operation.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Without a configured secret there is no trusted issuer, so
		// every caller is a guest regardless of what they present.
		if secret == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.Next()
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			logger.CtxWarn(c.Request.Context(), "Rejected bearer token: %v", err)
			c.Next()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.Next()
			return
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			c.Next()
			return
		}

		c.Set(userIDKey, sub)

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldUserID: sub,
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// UserID returns the authenticated user's ID from the Gin context, or nil
// when the request is a guest request.
func UserID(c *gin.Context) *string {
	v, exists := c.Get(userIDKey)
	if !exists {
		return nil
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return nil
	}
	return &id
}
