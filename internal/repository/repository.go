package repository

import "chat_web/internal/storage"

type Repositories struct {
	User    UserRepository
	Message MessageRepository
}

func NewRepositories(db *storage.Database) *Repositories {
	users := NewUserRepository(db)
	return &Repositories{
		User:    users,
		Message: NewMessageRepository(db, users),
	}
}
