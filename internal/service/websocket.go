package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState 連線狀態：未驗證 -> 已驗證 -> 已關閉
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client 代表一個 WebSocket 客戶端連接
type Client struct {
	ID   string
	Conn *websocket.Conn // 測試中可為 nil

	send      chan []byte // 消息發送通道，由 writePump 消費
	done      chan struct{}
	closeOnce sync.Once
	registry  *Registry

	mu              sync.Mutex
	state           ConnState
	userID          string
	authenticatedAt time.Time
	room            string // 由 Registry 維護
}

// NewClient 建立未驗證的連線
func NewClient(conn *websocket.Conn, sendBuffer int, registry *Registry) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Client{
		ID:       uuid.NewString(),
		Conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		registry: registry,
	}
}

func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) AuthenticatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticatedAt
}

// Done 在連線關閉後關閉
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// authenticate 只允許從未驗證狀態轉為已驗證
func (c *Client) authenticate(userID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateUnauthenticated {
		return ErrClientClosed
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.authenticatedAt = at
	return nil
}

// enqueue 非阻塞地放入發送佇列
func (c *Client) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSendBufferFull
	}
}

// Close 先離開房間再標記關閉，之後送往此連線的事件都會被丟棄
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		if c.registry != nil {
			c.registry.Leave(c)
		}
		close(c.done)
	})
}

// WebSocketConfig 連線層的限制與心跳設定
type WebSocketConfig struct {
	ReadLimit  int64
	PongWait   time.Duration
	PingPeriod time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (cfg WebSocketConfig) withDefaults() WebSocketConfig {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4096
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return cfg
}

// Gateway 負責單一連線的完整生命週期：驗證、加入房間、讀寫、清理
type Gateway struct {
	verifier *IdentityVerifier
	registry *Registry
	router   *Router
	tracker  OnlineTracker
	cfg      WebSocketConfig
	log      *zap.Logger

	active atomic.Int64 // 尚未完成清理的連線數
}

func NewGateway(verifier *IdentityVerifier, registry *Registry, router *Router, tracker OnlineTracker, cfg WebSocketConfig, log *zap.Logger) *Gateway {
	cfg = cfg.withDefaults()
	log = log.Named("gateway")

	// 讀取上限至少要容納一則長度達上限的訊息
	if need := router.maxFrameSize(); cfg.ReadLimit < need {
		log.Info("raising websocket read limit to fit max message length",
			zap.Int64("configured", cfg.ReadLimit), zap.Int64("read_limit", need))
		cfg.ReadLimit = need
	}

	return &Gateway{
		verifier: verifier,
		registry: registry,
		router:   router,
		tracker:  tracker,
		cfg:      cfg,
		log:      log,
	}
}

// HandleConnection 處理一條已升級的 WebSocket 連線，直到連線結束才返回
func (g *Gateway) HandleConnection(conn *websocket.Conn, creds Credentials) {
	g.active.Add(1)
	defer g.active.Add(-1)
	defer conn.Close()
	client := NewClient(conn, g.cfg.SendBuffer, g.registry)

	userID, err := g.verifier.Authenticate(creds)
	if err != nil {
		g.reject(client, err)
		return
	}
	if err := client.authenticate(userID, time.Now()); err != nil {
		client.Close()
		return
	}
	if err := g.registry.Join(userID, client); err != nil {
		client.Close()
		return
	}

	g.log.Info("client connected", zap.String("client", client.ID), zap.String("user", userID))
	g.track(func(ctx context.Context) error { return g.tracker.Connected(ctx, userID) })

	// 確保連接關閉時清理資源
	defer func() {
		client.Close()
		g.router.ConnectionClosed(client)
		g.track(func(ctx context.Context) error { return g.tracker.Disconnected(ctx, userID) })
		g.log.Info("client disconnected", zap.String("client", client.ID), zap.String("user", userID))
	}()

	go g.writePump(client)
	g.readPump(client)
}

// Drain 等待所有連線完成清理（離開房間、更新在線名單），關機時在 Registry.Close 之後呼叫
func (g *Gateway) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for g.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway drain: %d connections still open: %w", g.active.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// reject 回傳 error 事件後以 1008 關閉連線，連線不會進入任何房間
func (g *Gateway) reject(c *Client, err error) {
	g.log.Warn("websocket authentication failed", zap.String("client", c.ID), zap.Error(err))

	_, frame, _ := encodePayload(EventError, ErrorPayload{Message: "unauthorized: " + authFailureReason(err)})
	deadline := time.Now().Add(g.cfg.WriteWait)
	_ = c.Conn.SetWriteDeadline(deadline)
	_ = c.Conn.WriteMessage(websocket.TextMessage, frame)
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
	c.Close()
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return ErrMissingCredential.Error()
	case errors.Is(err, ErrMalformedCredential):
		return ErrMalformedCredential.Error()
	default:
		return ErrInvalidCredential.Error()
	}
}

func (g *Gateway) track(op func(ctx context.Context) error) {
	if g.tracker == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := op(ctx); err != nil {
		g.log.Warn("online tracker update failed", zap.Error(err))
	}
}

// readPump 持續監聽並處理從客戶端接收的消息
func (g *Gateway) readPump(client *Client) {
	conn := client.Conn
	conn.SetReadLimit(g.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn("websocket unexpected close", zap.String("client", client.ID), zap.Error(err))
			}
			return
		}
		g.router.Handle(client, message)
	}
}

// writePump 處理向客戶端發送消息的邏輯，是唯一寫入 conn 的 goroutine
func (g *Gateway) writePump(client *Client) {
	conn := client.Conn
	// 設置心跳檢查計時器
	ticker := time.NewTicker(g.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-client.send:
			select {
			case <-client.done:
				continue
			default:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				client.Close()
				return
			}

		case <-ticker.C:
			// 發送心跳包
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		}
	}
}
