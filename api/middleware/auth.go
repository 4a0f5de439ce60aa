package middleware

import (
	"context"
	"messenger/apperrors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenResolver - справочник токенов (services.UserService)
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (int64, error)
}

// bearerToken достает токен из Authorization или из ?token= (браузерный websocket не умеет заголовки)
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return c.Query("token")
}

// testIdentity - тестовые варианты аутентификации:
// 1. X-User-ID заголовок (для простых тестов)
// 2. Bearer test_token_N (для интеграционных тестов)
func testIdentity(c *gin.Context, token string) (int64, bool) {
	if header := c.GetHeader("X-User-ID"); header != "" {
		userID, err := strconv.ParseInt(header, 10, 64)
		return userID, err == nil && userID > 0
	}
	if strings.HasPrefix(token, "test_token_") {
		userID, err := strconv.ParseInt(strings.TrimPrefix(token, "test_token_"), 10, 64)
		return userID, err == nil && userID > 0
	}
	return 0, false
}

// AuthMiddleware кладет в контекст user_id владельца токена.
// allowTestIdentity дополнительно включает тестовые способы входа.
func AuthMiddleware(resolver TokenResolver, allowTestIdentity bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)

		if allowTestIdentity {
			if userID, ok := testIdentity(c, token); ok {
				c.Set("user_id", userID)
				c.Next()
				return
			}
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": "UNAUTHENTICATED"})
			c.Abort()
			return
		}
		userID, err := resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(apperrors.HTTPStatus(err), gin.H{"error": apperrors.PublicMessage(err), "code": apperrors.PublicCode(err)})
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}
