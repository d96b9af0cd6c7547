package service

import (
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"
)

const shardCount = 32

// Envelope 是跨節點轉發的事件；UserID 為空代表廣播給所有連線
type Envelope struct {
	Node   string          `json:"node"`
	UserID string          `json:"userId,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Relay 在多個節點之間轉發事件
type Relay interface {
	Publish(env Envelope) error
	Subscribe(handler func(Envelope)) error
	Close() error
}

// roomShard 保護一部分房間的成員表
type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{} // userID -> clients
}

// Registry 管理用戶房間與連線，房間依 userID 分散在多個 shard，互不阻塞
type Registry struct {
	shards [shardCount]*roomShard
	nodeID string
	log    *zap.Logger

	relayMu sync.RWMutex
	relay   Relay
}

// NewRegistry 創建並初始化連線註冊表
func NewRegistry(nodeID string, log *zap.Logger) *Registry {
	r := &Registry{nodeID: nodeID, log: log.Named("registry")}
	for i := range r.shards {
		r.shards[i] = &roomShard{rooms: make(map[string]map[*Client]struct{})}
	}
	return r
}

// NodeID 跨節點轉發與在線名單用來區分各節點
func (r *Registry) NodeID() string {
	return r.nodeID
}

// AttachRelay 掛上跨節點轉發，收到其他節點的事件只投遞給本機連線
func (r *Registry) AttachRelay(relay Relay) error {
	if err := relay.Subscribe(r.deliverRemote); err != nil {
		return err
	}
	r.relayMu.Lock()
	r.relay = relay
	r.relayMu.Unlock()
	return nil
}

func (r *Registry) shard(userID string) *roomShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Join 將連線加入 userID 的房間；已在其他房間時先移出
func (r *Registry) Join(userID string, c *Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return ErrClientClosed
	}
	if c.room == userID {
		return nil
	}
	if c.room != "" {
		r.removeFromRoom(c.room, c)
	}

	s := r.shard(userID)
	s.mu.Lock()
	members := s.rooms[userID]
	if members == nil {
		members = make(map[*Client]struct{})
		s.rooms[userID] = members
	}
	members[c] = struct{}{}
	s.mu.Unlock()

	c.room = userID
	r.log.Debug("client joined room", zap.String("client", c.ID), zap.String("room", userID))
	return nil
}

// Leave 將連線移出所屬房間，重複呼叫無副作用
func (r *Registry) Leave(c *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" {
		return
	}
	r.removeFromRoom(c.room, c)
	r.log.Debug("client left room", zap.String("client", c.ID), zap.String("room", c.room))
	c.room = ""
}

func (r *Registry) removeFromRoom(userID string, c *Client) {
	s := r.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if members, ok := s.rooms[userID]; ok {
		delete(members, c)
		// 房間空了就刪除
		if len(members) == 0 {
			delete(s.rooms, userID)
		}
	}
}

// SendToUser 投遞給 userID 房間內所有連線；房間為空時不做任何事
func (r *Registry) SendToUser(userID, event string, payload interface{}) error {
	data, frame, err := encodePayload(event, payload)
	if err != nil {
		return err
	}
	r.deliverToRoom(userID, frame)
	r.publish(Envelope{Node: r.nodeID, UserID: userID, Event: event, Data: data})
	return nil
}

// BroadcastAll 投遞給所有已加入房間的連線
func (r *Registry) BroadcastAll(event string, payload interface{}) error {
	data, frame, err := encodePayload(event, payload)
	if err != nil {
		return err
	}
	r.deliverToAll(frame)
	r.publish(Envelope{Node: r.nodeID, Event: event, Data: data})
	return nil
}

// SendToClient 只投遞給單一連線，不經過跨節點轉發
func (r *Registry) SendToClient(c *Client, event string, payload interface{}) error {
	_, frame, err := encodePayload(event, payload)
	if err != nil {
		return err
	}
	r.deliver([]*Client{c}, frame)
	return nil
}

func (r *Registry) deliverToRoom(userID string, frame []byte) {
	s := r.shard(userID)
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.rooms[userID]))
	for c := range s.rooms[userID] {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	r.deliver(clients, frame)
}

func (r *Registry) deliverToAll(frame []byte) {
	r.deliver(r.snapshot(), frame)
}

// deliver 在不持有任何鎖的情況下送出，佇列已滿的連線直接關閉
func (r *Registry) deliver(clients []*Client, frame []byte) {
	for _, c := range clients {
		err := c.enqueue(frame)
		if err == ErrSendBufferFull {
			r.log.Warn("send buffer full, closing client", zap.String("client", c.ID), zap.String("user", c.UserID()))
			c.Close()
		}
	}
}

func (r *Registry) snapshot() []*Client {
	var clients []*Client
	for _, s := range r.shards {
		s.mu.RLock()
		for _, members := range s.rooms {
			for c := range members {
				clients = append(clients, c)
			}
		}
		s.mu.RUnlock()
	}
	return clients
}

func (r *Registry) publish(env Envelope) {
	r.relayMu.RLock()
	relay := r.relay
	r.relayMu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(env); err != nil {
		r.log.Warn("relay publish failed", zap.String("event", env.Event), zap.Error(err))
	}
}

func (r *Registry) deliverRemote(env Envelope) {
	if env.Node == r.nodeID {
		return
	}
	frame, err := encodeFrame(env.Event, env.Data)
	if err != nil {
		r.log.Warn("invalid relay envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if env.UserID == "" {
		r.deliverToAll(frame)
		return
	}
	r.deliverToRoom(env.UserID, frame)
}

// RoomSize 回傳 userID 在本節點的連線數
func (r *Registry) RoomSize(userID string) int {
	s := r.shard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[userID])
}

// ClientCount 回傳本節點已加入房間的連線總數
func (r *Registry) ClientCount() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		for _, members := range s.rooms {
			total += len(members)
		}
		s.mu.RUnlock()
	}
	return total
}

// OnlineUsers 回傳本節點至少有一條連線的用戶，依 ID 排序
func (r *Registry) OnlineUsers() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.rooms {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

// RoomSizes 回傳本節點每位在線用戶的連線數
func (r *Registry) RoomSizes() map[string]int {
	sizes := make(map[string]int)
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, members := range s.rooms {
			sizes[userID] = len(members)
		}
		s.mu.RUnlock()
	}
	return sizes
}

// Close 關閉所有連線，關機時使用
func (r *Registry) Close() {
	for _, c := range r.snapshot() {
		c.Close()
	}
}
