package service

import (
	"go.uber.org/zap"

	"chat_web/internal/models"
)

// PresenceNotifier 由用戶管理在寫入成功後呼叫，只依賴這個介面
type PresenceNotifier interface {
	NotifyUserCreated(user *models.User)
	NotifyUserUpdated(user *models.User)
}

// PresenceBroadcaster 將用戶生命週期事件廣播給所有連線，失敗只記錄不回滾
type PresenceBroadcaster struct {
	registry *Registry
	log      *zap.Logger
}

func NewPresenceBroadcaster(registry *Registry, log *zap.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{registry: registry, log: log.Named("presence")}
}

func (p *PresenceBroadcaster) NotifyUserCreated(user *models.User) {
	p.broadcast(EventUserCreated, user)
}

func (p *PresenceBroadcaster) NotifyUserUpdated(user *models.User) {
	p.broadcast(EventUserUpdated, user)
}

func (p *PresenceBroadcaster) broadcast(event string, user *models.User) {
	if user == nil {
		return
	}
	if err := p.registry.BroadcastAll(event, user.Public()); err != nil {
		p.log.Error("presence broadcast failed", zap.String("event", event), zap.String("user", user.ID), zap.Error(err))
		return
	}
	p.log.Info("presence broadcast", zap.String("event", event), zap.String("user", user.ID))
}
