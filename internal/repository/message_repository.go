package repository

import (
	"context"

	"github.com/pkg/errors"

	"chat_web/internal/models"
	"chat_web/internal/storage"
)

// MessageRepository 是訊息的持久化閘道
type MessageRepository interface {
	// Create 寫入一則新訊息，寄件人或收件人不存在時回傳 ErrUserNotFound
	Create(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	// MarkSeen 將 senderID 寄給 receiverID 的未讀訊息全部標為已讀，回傳更新筆數
	MarkSeen(ctx context.Context, senderID, receiverID string) (int64, error)
	// ListConversation 依建立時間由舊到新列出兩人之間的訊息
	ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
	// ListForUser 列出用戶寄出或收到的所有訊息
	ListForUser(ctx context.Context, userID string) ([]models.Message, error)
}

type messageRepository struct {
	baseRepository
	users UserRepository
}

func NewMessageRepository(db *storage.Database, users UserRepository) MessageRepository {
	return &messageRepository{baseRepository: baseRepository{db: db}, users: users}
}

func (r *messageRepository) Create(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	ok, err := r.users.Exists(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	message := &models.Message{
		ID:         models.NewMessageID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}
	if err := r.create(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (r *messageRepository) MarkSeen(ctx context.Context, senderID, receiverID string) (int64, error) {
	result := r.conn(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND seen = ?", senderID, receiverID, false).
		Update("seen", true)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "mark seen")
	}
	return result.RowsAffected, nil
}

func (r *messageRepository) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := r.conn(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, errors.Wrap(err, "list conversation")
}

func (r *messageRepository) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.conn(ctx).
		Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, errors.Wrap(err, "list messages")
}
