package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"chat_web/internal/models"
	"chat_web/internal/storage"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindAllExcept(ctx context.Context, id string) ([]models.User, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) (*models.User, error)
	// Exists 所有指定的 ID 都存在時回傳 true
	Exists(ctx context.Context, ids ...string) (bool, error)
}

type userRepository struct {
	baseRepository
}

func NewUserRepository(db *storage.Database) UserRepository {
	return &userRepository{baseRepository{db: db}}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	err := r.create(ctx, user)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.findByID(ctx, id, &user, ErrUserNotFound); err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.conn(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find by email")
	}
	return &user, nil
}

func (r *userRepository) FindAllExcept(ctx context.Context, id string) ([]models.User, error) {
	var users []models.User
	err := r.conn(ctx).Where("id <> ?", id).Order("created_at asc").Find(&users).Error
	return users, errors.Wrap(err, "find all users")
}

func (r *userRepository) Update(ctx context.Context, id string, fields map[string]interface{}) (*models.User, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return user, nil
	}
	if err := r.conn(ctx).Model(user).Updates(fields).Error; err != nil {
		return nil, errors.Wrap(err, "update user")
	}
	return r.FindByID(ctx, id)
}

func (r *userRepository) Exists(ctx context.Context, ids ...string) (bool, error) {
	unique := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return false, nil
		}
		unique[id] = struct{}{}
	}
	keys := make([]string, 0, len(unique))
	for id := range unique {
		keys = append(keys, id)
	}

	var count int64
	if err := r.conn(ctx).Model(&models.User{}).Where("id IN ?", keys).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "count users")
	}
	return count == int64(len(keys)), nil
}
