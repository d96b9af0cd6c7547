package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/service"
)

// ContextUserID 驗證成功後存放用戶 ID 的 key
const ContextUserID = "userID"

// AuthMiddleware 是一個 Gin 中間件，用於驗證請求的 JWT token
func AuthMiddleware(verifier *service.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := verifier.Authenticate(service.Credentials{
			HandshakeHeader: c.GetHeader("Authorization"),
			RequestHeader:   c.GetHeader("X-Authorization"),
		})
		if err != nil {
			message := "Invalid or expired token"
			if errors.Is(err, service.ErrMissingCredential) {
				message = "Authorization header is required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}

		// 將用戶信息設置到上下文中
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID 取出 AuthMiddleware 設定的用戶 ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
