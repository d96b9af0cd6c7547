package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"chat_web/internal/storage"
)

var (
	// ErrUserNotFound 指定的用戶不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail 電子郵件已被註冊
	ErrDuplicateEmail = errors.New("email already registered")
)

// baseRepository 提供 gorm 實作共用的 CRUD 與錯誤包裝
type baseRepository struct {
	db *storage.Database
}

func (r *baseRepository) conn(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *baseRepository) create(ctx context.Context, model interface{}) error {
	if err := r.conn(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
		return errors.Wrap(err, "create")
	}
	return nil
}

// findByID 查無資料時回傳 notFound
func (r *baseRepository) findByID(ctx context.Context, id string, model interface{}, notFound error) error {
	err := r.conn(ctx).Where("id = ?", id).First(model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return errors.Wrap(err, "find by id")
}
