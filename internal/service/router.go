package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"chat_web/internal/repository"
)

// RouterConfig 事件路由的行為設定
type RouterConfig struct {
	MaxContentLength int
	TypingTTL        time.Duration // 0 表示不在伺服器端計時
	BroadcastSeen    bool          // true 時 seen 廣播給所有連線
	StoreTimeout     time.Duration
}

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// Router 處理已驗證連線送來的事件，並透過 Registry 扇出結果
type Router struct {
	registry *Registry
	messages repository.MessageRepository
	cfg      RouterConfig
	log      *zap.Logger

	handlers map[string]eventHandler
	senders  *sequencer
	typing   *typingTimers
}

func NewRouter(registry *Registry, messages repository.MessageRepository, cfg RouterConfig, log *zap.Logger) *Router {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	r := &Router{
		registry: registry,
		messages: messages,
		cfg:      cfg,
		log:      log.Named("router"),
		senders:  newSequencer(),
	}
	r.typing = newTypingTimers(cfg.TypingTTL, r.typingExpired)
	r.handlers = map[string]eventHandler{
		EventSendMessage: r.sendMessage,
		EventTyping:      r.startTyping,
		EventStopTyping:  r.stopTyping,
		EventSeen:        r.seen,
	}
	return r
}

// Handle 處理單一事件；任何錯誤只回報給發出事件的連線
func (r *Router) Handle(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		r.log.Debug("dropping malformed frame", zap.String("client", c.ID), zap.Error(err))
		return
	}

	if state := c.State(); state != StateAuthenticated {
		r.log.Warn("dropping event from unauthenticated connection",
			zap.String("client", c.ID), zap.String("event", frame.Event), zap.Stringer("state", state))
		return
	}

	handler, ok := r.handlers[frame.Event]
	if !ok {
		r.log.Debug("dropping unknown event", zap.String("client", c.ID), zap.String("event", frame.Event))
		return
	}

	err := r.dispatch(handler, c, frame)
	if err == nil {
		return
	}
	if errors.Is(err, ErrProtocol) {
		r.log.Debug("dropping invalid event", zap.String("client", c.ID), zap.String("event", frame.Event), zap.Error(err))
		return
	}

	r.log.Warn("event failed",
		zap.String("client", c.ID), zap.String("user", c.UserID()), zap.String("event", frame.Event), zap.Error(err))
	if sendErr := r.registry.SendToClient(c, EventError, ErrorPayload{Message: publicMessage(err)}); sendErr != nil {
		r.log.Error("failed to send error event", zap.String("client", c.ID), zap.Error(sendErr))
	}
}

func (r *Router) dispatch(handler eventHandler, c *Client, frame Frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("event handler panic", zap.String("event", frame.Event), zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("panic handling %s: %v", frame.Event, rec)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()
	return handler(ctx, c, frame.Data)
}

func (r *Router) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var in SendMessageInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("%w: send_message: %v", ErrProtocol, err)
	}

	receiverID := strings.TrimSpace(in.ReceiverID)
	if receiverID == "" {
		return fmt.Errorf("%w: send_message: missing receiver id", ErrProtocol)
	}
	// 內容原樣儲存，只在檢查是否為空白時去除前後空白
	content := in.Content
	if strings.TrimSpace(content) == "" {
		return validationError("message content cannot be empty")
	}
	if limit := r.cfg.MaxContentLength; limit > 0 && utf8.RuneCountInString(content) > limit {
		return validationError("message content exceeds %d characters", limit)
	}

	senderID := c.UserID()
	unlock := r.senders.lock(senderID)
	defer unlock()

	message, err := r.messages.Create(ctx, senderID, receiverID, content)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return validationError("receiver not found")
		}
		return &StorageError{Op: "send message", Err: err}
	}

	r.fanOut(receiverID, EventReceiveMessage, message)
	if receiverID != senderID {
		r.fanOut(senderID, EventReceiveMessage, message)
	}

	// 訊息送出即結束輸入中狀態
	if r.typing.cancel(senderID, receiverID) {
		r.fanOut(receiverID, EventStopTyping, senderID)
	}
	return nil
}

const (
	// 單一字元在 JSON 中最長的編碼形式（\uXXXX\uXXXX）
	maxEncodedRuneBytes = 12
	// 事件名稱、receiverId 與 JSON 結構
	frameOverhead = 1024
)

// maxFrameSize 回傳內容長度達上限的 send_message 最多佔用的位元組數，0 表示不限制
func (r *Router) maxFrameSize() int64 {
	if r.cfg.MaxContentLength <= 0 {
		return 0
	}
	return int64(r.cfg.MaxContentLength)*maxEncodedRuneBytes + frameOverhead
}

func (r *Router) startTyping(_ context.Context, c *Client, data json.RawMessage) error {
	peerID, err := decodePeerID(EventTyping, data)
	if err != nil {
		return err
	}
	senderID := c.UserID()
	r.typing.arm(senderID, peerID)
	r.fanOut(peerID, EventTyping, senderID)
	return nil
}

func (r *Router) stopTyping(_ context.Context, c *Client, data json.RawMessage) error {
	peerID, err := decodePeerID(EventStopTyping, data)
	if err != nil {
		return err
	}
	senderID := c.UserID()
	r.typing.cancel(senderID, peerID)
	r.fanOut(peerID, EventStopTyping, senderID)
	return nil
}

func (r *Router) typingExpired(from, to string) {
	r.log.Debug("typing indicator expired", zap.String("from", from), zap.String("to", to))
	r.fanOut(to, EventStopTyping, from)
}

// seen 將 peer 寄給目前用戶的未讀訊息標為已讀，即使沒有更新任何訊息也會送出事件
func (r *Router) seen(ctx context.Context, c *Client, data json.RawMessage) error {
	peerID, err := decodePeerID(EventSeen, data)
	if err != nil {
		return err
	}
	readerID := c.UserID()

	count, err := r.messages.MarkSeen(ctx, peerID, readerID)
	if err != nil {
		return &StorageError{Op: "mark messages as seen", Err: err}
	}
	r.log.Debug("messages marked as seen",
		zap.String("sender", peerID), zap.String("reader", readerID), zap.Int64("count", count))

	if r.cfg.BroadcastSeen {
		if err := r.registry.BroadcastAll(EventSeen, readerID); err != nil {
			r.log.Error("failed to broadcast seen", zap.Error(err))
		}
		return nil
	}
	r.fanOut(peerID, EventSeen, readerID)
	if peerID != readerID {
		r.fanOut(readerID, EventSeen, readerID)
	}
	return nil
}

// ConnectionClosed 用戶最後一條連線關閉時，結束其所有輸入中狀態
func (r *Router) ConnectionClosed(c *Client) {
	userID := c.UserID()
	if userID == "" || r.registry.RoomSize(userID) > 0 {
		return
	}
	for _, peerID := range r.typing.cancelFrom(userID) {
		r.fanOut(peerID, EventStopTyping, userID)
	}
}

func (r *Router) fanOut(userID, event string, payload interface{}) {
	if err := r.registry.SendToUser(userID, event, payload); err != nil {
		r.log.Error("fan-out failed", zap.String("user", userID), zap.String("event", event), zap.Error(err))
	}
}

// decodePeerID 接受 "u1" 或 {"receiverId":"u1"} 兩種格式
func decodePeerID(event string, data json.RawMessage) (string, error) {
	var peerID string
	if err := json.Unmarshal(data, &peerID); err != nil {
		var wrapped struct {
			ReceiverID string `json:"receiverId"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrProtocol, event, err)
		}
		peerID = wrapped.ReceiverID
	}
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return "", fmt.Errorf("%w: %s: missing receiver id", ErrProtocol, event)
	}
	return peerID, nil
}
