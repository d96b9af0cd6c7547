package service

import (
	"context"
	"fmt"

	"chat_web/internal/models"
	"chat_web/internal/repository"
)

// MessageService 提供訊息歷史的查詢
type MessageService struct {
	messageRepo repository.MessageRepository
}

func NewMessageService(messageRepo repository.MessageRepository) *MessageService {
	return &MessageService{messageRepo: messageRepo}
}

// ListForUser 用戶寄出或收到的所有訊息
func (s *MessageService) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	messages, err := s.messageRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return nonNil(messages), nil
}

// Conversation 兩人之間的訊息，依時間由舊到新
func (s *MessageService) Conversation(ctx context.Context, userID, peerID string) ([]models.Message, error) {
	messages, err := s.messageRepo.ListConversation(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return nonNil(messages), nil
}

func nonNil(messages []models.Message) []models.Message {
	if messages == nil {
		return []models.Message{}
	}
	return messages
}
