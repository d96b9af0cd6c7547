package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chat_web/internal/models"
	"chat_web/internal/repository"
	"chat_web/internal/utils"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrPasswordMismatch   = errors.New("passwords don't match")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
)

// RegisterInput 註冊所需的欄位
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
}

// UpdateUserInput nil 欄位不更新
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Status    *string
}

// AuthResult 註冊與登入成功後的回應內容
type AuthResult struct {
	User        models.PublicUser
	AccessToken string
}

type UserService struct {
	userRepo       repository.UserRepository
	tokens         *utils.TokenManager
	presence       PresenceNotifier
	defaultPicture string
	log            *zap.Logger
}

func NewUserService(userRepo repository.UserRepository, tokens *utils.TokenManager, presence PresenceNotifier, defaultPicture string, log *zap.Logger) *UserService {
	return &UserService{
		userRepo:       userRepo,
		tokens:         tokens,
		presence:       presence,
		defaultPicture: defaultPicture,
		log:            log.Named("users"),
	}
}

// Register 建立用戶並廣播 user_created
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	if _, err := s.userRepo.FindByEmail(ctx, email); err == nil {
		s.log.Warn("user already exists", zap.String("email", email))
		return nil, ErrUserExists
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("register: %w", err)
	}

	if in.Password != in.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	// 對密碼進行加密
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Email:          email,
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Password:       string(hashedPassword),
		ProfilePicture: s.defaultPicture,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", zap.String("user", user.ID), zap.String("email", email))

	result, err := s.authResult(user)
	if err != nil {
		return nil, err
	}
	if s.presence != nil {
		s.presence.NotifyUserCreated(user)
	}
	return result, nil
}

// Login 驗證帳密，不論帳號不存在或密碼錯誤都回傳 ErrInvalidCredentials
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login: %w", err)
	}

	// 驗證密碼
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.log.Warn("login failed", zap.String("email", email))
		return nil, ErrInvalidCredentials
	}
	return s.authResult(user)
}

func (s *UserService) authResult(user *models.User) (*AuthResult, error) {
	// 生成 JWT token
	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &AuthResult{User: user.Public(), AccessToken: token}, nil
}

// ListUsers 列出除了自己以外的所有用戶
func (s *UserService) ListUsers(ctx context.Context, callerID string) ([]models.PublicUser, error) {
	users, err := s.userRepo.FindAllExcept(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	result := make([]models.PublicUser, 0, len(users))
	for i := range users {
		result = append(result, users[i].Public())
	}
	return result, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.PublicUser, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	public := user.Public()
	return &public, nil
}

// UpdateUser 更新個人資料並廣播 user_updated
func (s *UserService) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*models.PublicUser, error) {
	fields := make(map[string]interface{})
	if in.FirstName != nil {
		fields["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		fields["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Status != nil {
		fields["status"] = strings.TrimSpace(*in.Status)
	}

	user, err := s.userRepo.Update(ctx, id, fields)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if len(fields) > 0 && s.presence != nil {
		s.presence.NotifyUserUpdated(user)
	}
	public := user.Public()
	return &public, nil
}
