package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chat_web/internal/models"
	"chat_web/internal/repository"
	"chat_web/internal/storage"
)

// memoryMessages 是測試用的訊息閘道
type memoryMessages struct {
	mu        sync.Mutex
	users     map[string]bool
	messages  []models.Message
	createErr error
	seenErr   error
	onCreate  func()

	seenCounts []int64 // 每次 MarkSeen 實際更新的筆數
}

func newMemoryMessages(users ...string) *memoryMessages {
	m := &memoryMessages{users: make(map[string]bool)}
	for _, u := range users {
		m.users[u] = true
	}
	return m
}

func (m *memoryMessages) Create(_ context.Context, senderID, receiverID, content string) (*models.Message, error) {
	if m.onCreate != nil {
		m.onCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return nil, m.createErr
	}
	if !m.users[senderID] || !m.users[receiverID] {
		return nil, repository.ErrUserNotFound
	}
	now := time.Now()
	msg := models.Message{
		ID:         models.NewMessageID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.messages = append(m.messages, msg)
	return &msg, nil
}

func (m *memoryMessages) MarkSeen(_ context.Context, senderID, receiverID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seenErr != nil {
		return 0, m.seenErr
	}
	var count int64
	for i := range m.messages {
		msg := &m.messages[i]
		if msg.SenderID == senderID && msg.ReceiverID == receiverID && !msg.Seen {
			msg.Seen = true
			count++
		}
	}
	m.seenCounts = append(m.seenCounts, count)
	return count, nil
}

func (m *memoryMessages) lastSeenCount() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seenCounts) == 0 {
		return 0, false
	}
	return m.seenCounts[len(m.seenCounts)-1], true
}

func (m *memoryMessages) ListConversation(_ context.Context, userA, userB string) ([]models.Message, error) {
	return m.filter(func(msg models.Message) bool {
		return (msg.SenderID == userA && msg.ReceiverID == userB) || (msg.SenderID == userB && msg.ReceiverID == userA)
	}), nil
}

func (m *memoryMessages) ListForUser(_ context.Context, userID string) ([]models.Message, error) {
	return m.filter(func(msg models.Message) bool {
		return msg.SenderID == userID || msg.ReceiverID == userID
	}), nil
}

func (m *memoryMessages) filter(keep func(models.Message) bool) []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Message
	for _, msg := range m.messages {
		if keep(msg) {
			result = append(result, msg)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func newTestRegistry() *Registry {
	return NewRegistry("test-node", zap.NewNop())
}

// connect 建立已驗證並加入房間的測試連線
func connect(t *testing.T, reg *Registry, userID string) *Client {
	t.Helper()
	c := NewClient(nil, 32, reg)
	if err := c.authenticate(userID, time.Now()); err != nil {
		t.Fatalf("authenticate() error = %v", err)
	}
	if err := reg.Join(userID, c); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	return c
}

func readFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case raw := <-c.send:
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("invalid frame %s: %v", raw, err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatalf("client %s: timed out waiting for frame", c.ID)
		return Frame{}
	}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("client %s: unexpected frame %s", c.ID, raw)
	default:
	}
}

func decodeString(t *testing.T, data json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("expected string payload, got %s: %v", data, err)
	}
	return s
}

func frame(t *testing.T, event string, payload interface{}) []byte {
	t.Helper()
	_, raw, err := encodePayload(event, payload)
	if err != nil {
		t.Fatalf("encodePayload() error = %v", err)
	}
	return raw
}

// setupRepositories 以記憶體 sqlite 建立真正的 gorm repositories
func setupRepositories(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.Message{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return repository.NewRepositories(storage.Wrap(db))
}
