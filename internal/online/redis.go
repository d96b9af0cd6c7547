package online

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat_web/internal/service"
)

// 每個節點一個 hash：<prefix>online:<node>，field 為 userId，value 為連線數
// 節點 hash 帶 TTL，由 Run 定期以本機實際連線數覆寫並續期，節點當機後自然過期
// <prefix>online:nodes 記錄曾經寫入過的節點

// 連線數加一並續期
// KEYS[1] = node hash
// KEYS[2] = node set
// ARGV[1] = userId
// ARGV[2] = ttl (ms)
// ARGV[3] = nodeId
// 返回：本節點上的連線數
const luaConnect = `
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return n
`

// 連線數減一，歸零時移除欄位
// KEYS[1] = node hash
// ARGV[1] = userId
// 返回：本節點剩餘連線數
const luaDisconnect = `
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
  redis.call("HDEL", KEYS[1], ARGV[1])
  return 0
end
return n
`

var (
	connectScript    = redis.NewScript(luaConnect)
	disconnectScript = redis.NewScript(luaDisconnect)
)

const defaultTTL = 90 * time.Second

type Config struct {
	Prefix string
	NodeID string
	TTL    time.Duration // 節點 hash 的存活時間，Run 每 TTL/3 續期一次
}

// RedisTracker 以 Redis 記錄各節點上每位用戶的連線數，多節點共用
type RedisTracker struct {
	rdb      *redis.Client
	prefix   string
	node     string
	ttl      time.Duration
	nodeKey  string
	nodesKey string
	log      *zap.Logger
}

var _ service.OnlineTracker = (*RedisTracker)(nil)

func NewRedisTracker(rdb *redis.Client, cfg Config, log *zap.Logger) *RedisTracker {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &RedisTracker{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		node:     cfg.NodeID,
		ttl:      cfg.TTL,
		nodeKey:  cfg.Prefix + "online:" + cfg.NodeID,
		nodesKey: cfg.Prefix + "online:nodes",
		log:      log.Named("online"),
	}
}

func (t *RedisTracker) Connected(ctx context.Context, userID string) error {
	err := connectScript.Run(ctx, t.rdb, []string{t.nodeKey, t.nodesKey}, userID, t.ttl.Milliseconds(), t.node).Err()
	return errors.Wrap(err, "online connected")
}

func (t *RedisTracker) Disconnected(ctx context.Context, userID string) error {
	return errors.Wrap(disconnectScript.Run(ctx, t.rdb, []string{t.nodeKey}, userID).Err(), "online disconnected")
}

// Sync 以本機的實際連線數覆寫本節點的 hash 並續期
func (t *RedisTracker) Sync(ctx context.Context, counts map[string]int) error {
	values := make(map[string]interface{}, len(counts))
	for userID, n := range counts {
		if n > 0 {
			values[userID] = n
		}
	}
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.nodeKey)
		if len(values) > 0 {
			pipe.HSet(ctx, t.nodeKey, values)
			pipe.PExpire(ctx, t.nodeKey, t.ttl)
		}
		pipe.SAdd(ctx, t.nodesKey, t.node)
		return nil
	})
	return errors.Wrap(err, "online sync")
}

// Run 每 TTL/3 呼叫一次 Sync，直到 ctx 結束
func (t *RedisTracker) Run(ctx context.Context, snapshot func() map[string]int) {
	interval := t.ttl / 3
	if interval <= 0 {
		interval = t.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		syncCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := t.Sync(syncCtx, snapshot()); err != nil && ctx.Err() == nil {
			t.log.Warn("online sync failed", zap.String("node", t.node), zap.Error(err))
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close 移除本節點的所有在線紀錄，關機時在關閉 Redis 連線前呼叫
func (t *RedisTracker) Close(ctx context.Context) error {
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, t.nodeKey)
		pipe.SRem(ctx, t.nodesKey, t.node)
		return nil
	})
	return errors.Wrap(err, "online close")
}

// Online 合併所有節點的連線數，回傳大於零的用戶並依 ID 排序
// 已過期的節點會順帶從節點集合移除
func (t *RedisTracker) Online(ctx context.Context) ([]string, error) {
	nodes, err := t.rdb.SMembers(ctx, t.nodesKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "online nodes")
	}

	cmds := make([]*redis.MapStringStringCmd, len(nodes))
	_, err = t.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, node := range nodes {
			cmds[i] = pipe.HGetAll(ctx, t.prefix+"online:"+node)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "online list")
	}

	totals := make(map[string]int)
	var stale []interface{}
	for i, cmd := range cmds {
		counts := cmd.Val()
		if len(counts) == 0 && nodes[i] != t.node {
			stale = append(stale, nodes[i])
			continue
		}
		for userID, raw := range counts {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				totals[userID] += n
			}
		}
	}
	if len(stale) > 0 {
		if err := t.rdb.SRem(ctx, t.nodesKey, stale...).Err(); err != nil {
			t.log.Warn("failed to prune stale nodes", zap.Error(err))
		}
	}

	users := make([]string, 0, len(totals))
	for userID := range totals {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}
