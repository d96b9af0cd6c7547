package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/middleware"
	"chat_web/internal/service"
)

// MessageHandler 提供訊息歷史的查詢
type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

// ListMessages 目前用戶寄出或收到的所有訊息
func (h *MessageHandler) ListMessages(c *gin.Context) {
	messages, err := h.messageService.ListForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Conversation 與指定用戶之間的訊息，依時間由舊到新
func (h *MessageHandler) Conversation(c *gin.Context) {
	messages, err := h.messageService.Conversation(c.Request.Context(), middleware.UserID(c), c.Param("peerId"))
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversation"})
		return
	}
	c.JSON(http.StatusOK, messages)
}
