package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message 代表兩個用戶之間的一則私訊
//
// ID 使用 UUIDv7，同一毫秒內建立的訊息仍可依 ID 排出建立順序。
type Message struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"_id" bson:"_id"`
	SenderID   string    `gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:1" json:"senderId" bson:"senderId"`
	ReceiverID string    `gorm:"type:varchar(36);not null;index:idx_messages_pair,priority:2" json:"receiverId" bson:"receiverId"`
	Content    string    `gorm:"type:text;not null" json:"content" bson:"content"`
	Seen       bool      `gorm:"not null;default:false" json:"seen" bson:"seen"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" bson:"updatedAt"`
}

// NewMessageID 產生依時間遞增的訊息 ID
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// BeforeCreate 未指定 ID 時產生 UUIDv7
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = NewMessageID()
	}
	return nil
}
