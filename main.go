package main

import (
	"context"
	"hash/crc32"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"WaveIM/global"
	"WaveIM/logger"
	"WaveIM/service/bus"
	"WaveIM/service/gateway"
	"WaveIM/service/storage"
	"WaveIM/service/storage/redis"
	"WaveIM/service/upstream"
	"WaveIM/tools/ids"
	"WaveIM/tools/security"

	"github.com/gin-gonic/gin"
)

func main() {
	conf := global.Load()

	// 雪花节点号跟着网关ID走，多节点不撞号
	ids.SetNodeID(int64(crc32.ChecksumIEEE([]byte(conf.GatewayID)) % 1024))

	if err := redis.Init(redis.Config{
		Addr:     conf.RedisAddr,
		Password: conf.RedisPassword,
		DB:       conf.RedisDB,
	}); err != nil {
		logger.Errorf("[boot] redis init failed: %v", err)
		os.Exit(1)
	}
	presence := storage.NewPresence(storage.PresenceConfig{
		GatewayID: conf.GatewayID,
		TTL:       conf.SessionTTL,
	})

	// 总线：broker 连不上不拦启动，退化为本进程投递，但必须大声喊
	idem := bus.NewMemIdem(10 * time.Minute)
	b, err := bus.New(bus.Config{
		Servers: conf.NatsServers,
		Name:    conf.NatsName,
	}, bus.IdemMiddleware(idem, 10*time.Minute))
	if err != nil {
		logger.Errorf("[boot] event bus degraded to LOCAL-ONLY: %v", err)
	}

	reg := gateway.NewRegistry()
	fan := gateway.NewFanout(8, 4096)
	bridge := gateway.NewBridge(reg, fan, b.Conn())
	gateway.AttachTranslator(b, bridge)

	sess := gateway.NewSession(
		gateway.SessionConfig{TypingDebounce: conf.TypingDebounce},
		reg, b,
		upstream.NewClient(conf.MessageServiceURL),
		upstream.NewClient(conf.ChatServiceURL),
	)
	srv := gateway.NewServer(gateway.ServerConfig{
		GatewayID:    conf.GatewayID,
		JWT:          security.DefaultOptions([]byte(conf.JWTSecret)),
		AuthDeadline: conf.AuthDeadline,
		Heartbeat:    conf.SessionTTL / 3,
	}, reg, sess, b, presence)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	srv.Routes(r)

	httpSrv := &http.Server{Addr: conf.ListenAddr, Handler: r}
	go func() {
		logger.Infof("[boot] gateway %s listening on %s", conf.GatewayID, conf.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[boot] listen failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[boot] shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	bridge.Close()
	_ = b.Close()
	_ = redis.Close()
}
