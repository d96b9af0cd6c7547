package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 表示系統中的用戶
type User struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"_id" bson:"_id"`
	Email          string    `gorm:"uniqueIndex;not null" json:"email" bson:"email"`
	FirstName      string    `gorm:"not null" json:"firstName" bson:"firstName"`
	LastName       string    `gorm:"not null" json:"lastName" bson:"lastName"`
	Password       string    `gorm:"not null" json:"-" bson:"password"` // 密碼雜湊，json 序列化時會被忽略
	ProfilePicture string    `json:"profilePicture" bson:"profilePicture"`
	Status         string    `gorm:"not null;default:''" json:"status" bson:"status"`
	CreatedAt      time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updatedAt"`
}

// BeforeCreate 未指定 ID 時產生 UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// PublicUser 是對外廣播與 API 回應用的用戶投影，不含密碼
type PublicUser struct {
	ID             string    `json:"_id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	ProfilePicture string    `json:"profilePicture"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:             u.ID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ProfilePicture: u.ProfilePicture,
		Status:         u.Status,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}
