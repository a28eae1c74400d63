package storage

import (
	"context"
	"fmt"
	"time"

	redis2 "WaveIM/service/storage/redis"

	"github.com/redis/go-redis/v9"
)

// PresenceStore 全 fleet 的在线会话索引。
//
// 每个用户一个 ZSET：member = "<gatewayId>:<connId>"，score = 过期时间戳。
// 网关崩溃不会留僵尸——score 到期的成员在每次操作时顺带清掉。
// “最后一条连接断开才算离线”的判定必须查这张表，而不是本进程的内存。
type PresenceConfig struct {
	GatewayID string
	TTL       time.Duration // 会话续期窗口
}

type PresenceStore struct {
	conf PresenceConfig

	luaConnect    *redis.Script
	luaDisconnect *redis.Script
	luaHeartbeat  *redis.Script
}

// 注册会话并报告用户是否由离线转为在线。
// KEYS[1] = user session zset
// ARGV[1] = member, ARGV[2] = nowUnix, ARGV[3] = expAtUnix
// 返回：{在线会话数（含本条）, 本条之前的在线会话数}
const luaConnect = `
local z     = KEYS[1]
local mem   = ARGV[1]
local now   = tonumber(ARGV[2])
local expAt = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", z, "-inf", now)
local before = redis.call("ZCOUNT", z, now + 1, "+inf")
redis.call("ZADD", z, expAt, mem)
redis.call("EXPIRE", z, math.max(expAt - now, 60) * 2)
local after = redis.call("ZCOUNT", z, now + 1, "+inf")
return {after, before}
`

// 摘除会话并报告剩余在线会话数；归零时写 lastSeen 并删索引。
// KEYS[1] = user session zset, KEYS[2] = lastSeen key
// ARGV[1] = member, ARGV[2] = nowUnix, ARGV[3] = nowMillis
// 返回：剩余在线会话数
const luaDisconnect = `
local z    = KEYS[1]
local ls   = KEYS[2]
local mem  = ARGV[1]
local now  = tonumber(ARGV[2])
local nowMS = ARGV[3]

redis.call("ZREM", z, mem)
redis.call("ZREMRANGEBYSCORE", z, "-inf", now)
local rest = redis.call("ZCOUNT", z, now + 1, "+inf")
if rest == 0 then
  redis.call("DEL", z)
  redis.call("SET", ls, nowMS)
end
return rest
`

// 心跳续期。会话不存在返回 0（被清理过，调用方可选择重注册）。
// KEYS[1] = user session zset
// ARGV[1] = member, ARGV[2] = nowUnix, ARGV[3] = expAtUnix
const luaHeartbeat = `
local z     = KEYS[1]
local mem   = ARGV[1]
local now   = tonumber(ARGV[2])
local expAt = tonumber(ARGV[3])

if redis.call("ZSCORE", z, mem) == false then
  return 0
end
redis.call("ZADD", z, expAt, mem)
redis.call("ZREMRANGEBYSCORE", z, "-inf", now)
redis.call("EXPIRE", z, math.max(expAt - now, 60) * 2)
return 1
`

func NewPresence(conf PresenceConfig) *PresenceStore {
	if conf.TTL <= 0 {
		conf.TTL = 2 * time.Hour
	}
	return &PresenceStore{
		conf:          conf,
		luaConnect:    redis.NewScript(luaConnect),
		luaDisconnect: redis.NewScript(luaDisconnect),
		luaHeartbeat:  redis.NewScript(luaHeartbeat),
	}
}

// hash-tag 对齐，Cluster 下同一用户的键落同一槽
func (s *PresenceStore) sessionIndexKey(userID string) string {
	return fmt.Sprintf("wave:sess:{%s}", userID)
}

func (s *PresenceStore) lastSeenKey(userID string) string {
	return fmt.Sprintf("wave:lastseen:{%s}", userID)
}

func (s *PresenceStore) member(connID string) string {
	return s.conf.GatewayID + ":" + connID
}

// Connect 登记一条已授权连接。first=true 表示该用户全 fleet 首条在线连接。
func (s *PresenceStore) Connect(ctx context.Context, userID, connID string) (first bool, err error) {
	now := time.Now()
	vals, err := s.luaConnect.Run(ctx, redis2.Get(),
		[]string{s.sessionIndexKey(userID)},
		s.member(connID), now.Unix(), now.Add(s.conf.TTL).Unix(),
	).Int64Slice()
	if err != nil {
		return false, err
	}
	if len(vals) < 2 {
		return false, fmt.Errorf("unexpected connect reply: %v", vals)
	}
	return vals[1] == 0, nil
}

// Disconnect 摘除连接。last=true 表示这是该用户全 fleet 最后一条连接，
// 此时 lastSeen 已写入。
func (s *PresenceStore) Disconnect(ctx context.Context, userID, connID string) (last bool, err error) {
	now := time.Now()
	rest, err := s.luaDisconnect.Run(ctx, redis2.Get(),
		[]string{s.sessionIndexKey(userID), s.lastSeenKey(userID)},
		s.member(connID), now.Unix(), now.UnixMilli(),
	).Int64()
	if err != nil {
		return false, err
	}
	return rest == 0, nil
}

// Heartbeat 续期。返回 false 表示会话已被清理。
func (s *PresenceStore) Heartbeat(ctx context.Context, userID, connID string) (bool, error) {
	now := time.Now()
	rc, err := s.luaHeartbeat.Run(ctx, redis2.Get(),
		[]string{s.sessionIndexKey(userID)},
		s.member(connID), now.Unix(), now.Add(s.conf.TTL).Unix(),
	).Int64()
	if err != nil {
		return false, err
	}
	return rc == 1, nil
}

// IsOnline 在线判断 + lastSeen（毫秒，0 表示没记录过）。
func (s *PresenceStore) IsOnline(ctx context.Context, userID string) (online bool, lastSeen int64, err error) {
	now := time.Now().Unix()
	cnt, err := redis2.Get().ZCount(ctx, s.sessionIndexKey(userID),
		fmt.Sprintf("(%d", now), "+inf").Result()
	if err != nil {
		return false, 0, err
	}
	if cnt > 0 {
		return true, 0, nil
	}
	ls, err := redis2.Get().Get(ctx, s.lastSeenKey(userID)).Int64()
	if err == redis.Nil {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return false, ls, nil
}

// LastSeen 只读 lastSeen。
func (s *PresenceStore) LastSeen(ctx context.Context, userID string) (int64, error) {
	ls, err := redis2.Get().Get(ctx, s.lastSeenKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return ls, err
}
