package global

import (
	"os"
	"strconv"
	"strings"
	"time"

	"WaveIM/logger"

	"github.com/joho/godotenv"
)

// AppConfig 网关进程的全部配置，启动时 Load() 一次。
type AppConfig struct {
	GatewayID  string // 节点ID（参与 Redis key 与雪花节点号）
	ListenAddr string

	NatsServers []string
	NatsName    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string

	// typing 自动停止的去抖窗口
	TypingDebounce time.Duration

	// 已授权会话在 Redis 里的 TTL（网关崩溃后由它兜底下线）
	SessionTTL time.Duration

	// 第一帧必须是 auth，超时直接踢
	AuthDeadline time.Duration

	MessageServiceURL string
	ChatServiceURL    string
}

var conf *AppConfig

// Load 读取 .env（如有）与环境变量。重复调用返回同一份。
func Load() *AppConfig {
	if conf != nil {
		return conf
	}
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env")
	}

	conf = &AppConfig{
		GatewayID:         getStr("WAVE_GATEWAY_ID", "gw-1"),
		ListenAddr:        getStr("WAVE_LISTEN_ADDR", ":8090"),
		NatsServers:       strings.Split(getStr("WAVE_NATS_SERVERS", "nats://127.0.0.1:4222"), ","),
		NatsName:          getStr("WAVE_NATS_NAME", "waveim-gateway"),
		RedisAddr:         getStr("WAVE_REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     getStr("WAVE_REDIS_PASSWORD", ""),
		RedisDB:           getInt("WAVE_REDIS_DB", 0),
		JWTSecret:         getStr("WAVE_JWT_SECRET", "dev-secret-change-me"),
		TypingDebounce:    getDur("WAVE_TYPING_DEBOUNCE", 3*time.Second),
		SessionTTL:        getDur("WAVE_SESSION_TTL", 2*time.Hour),
		AuthDeadline:      getDur("WAVE_AUTH_DEADLINE", 15*time.Second),
		MessageServiceURL: getStr("WAVE_MESSAGE_SERVICE_URL", "http://127.0.0.1:8081"),
		ChatServiceURL:    getStr("WAVE_CHAT_SERVICE_URL", "http://127.0.0.1:8082"),
	}
	return conf
}

func getStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logger.Warnf("bad int for %s: %q, using default %d", key, v, def)
	}
	return def
}

func getDur(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warnf("bad duration for %s: %q, using default %v", key, v, def)
	}
	return def
}
