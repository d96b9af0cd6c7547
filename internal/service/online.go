package service

import "context"

// OnlineTracker 記錄哪些用戶目前至少有一條連線
type OnlineTracker interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string) error
	Online(ctx context.Context) ([]string, error)
}

// localTracker 直接讀取本節點的 Registry，單機部署時使用
type localTracker struct {
	registry *Registry
}

func NewLocalTracker(registry *Registry) OnlineTracker {
	return &localTracker{registry: registry}
}

func (t *localTracker) Connected(context.Context, string) error {
	return nil
}

func (t *localTracker) Disconnected(context.Context, string) error {
	return nil
}

func (t *localTracker) Online(context.Context) ([]string, error) {
	return t.registry.OnlineUsers(), nil
}
