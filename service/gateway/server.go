package gateway

import (
	"net"
	"net/http"
	"time"

	"WaveIM/logger"
	"WaveIM/service/bus"
	"WaveIM/service/storage"
	"WaveIM/tools/decode"
	"WaveIM/tools/errs"
	"WaveIM/tools/ids"
	"WaveIM/tools/safe"
	"WaveIM/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 反向代理在最外层做 Origin/Cookie 校验，网关只认第一帧的 token
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	readLimit    = 1 << 20
	pongWait     = 75 * time.Second
	maxFrameSkip = 256 // 日志采样长度
)

// ServerConfig WebSocket 服务入口的配置。
type ServerConfig struct {
	GatewayID    string
	JWT          security.Options
	AuthDeadline time.Duration // 第一帧（auth）必须在这个窗口内到
	Heartbeat    time.Duration // fleet 会话续期间隔，须远小于 SessionTTL
}

// presenceIndex 全 fleet 的会话登记面（生产实现是 storage.PresenceStore）。
type presenceIndex interface {
	Connect(ctx context.Context, userID, connID string) (first bool, err error)
	Disconnect(ctx context.Context, userID, connID string) (last bool, err error)
	Heartbeat(ctx context.Context, userID, connID string) (bool, error)
	LastSeen(ctx context.Context, userID string) (int64, error)
}

var _ presenceIndex = (*storage.PresenceStore)(nil)

// Server 连接注册表的宿主：握手→授权→绑定→读循环→收尾。
// 连接状态机：Connecting → Authenticating → Authenticated → Closed，
// 授权失败直接 → Closed。
type Server struct {
	conf     ServerConfig
	reg      *Registry
	sess     *Session
	b        *bus.Bus
	presence presenceIndex
}

func NewServer(conf ServerConfig, reg *Registry, sess *Session, b *bus.Bus, presence presenceIndex) *Server {
	if conf.AuthDeadline <= 0 {
		conf.AuthDeadline = 15 * time.Second
	}
	if conf.Heartbeat <= 0 {
		conf.Heartbeat = 5 * time.Minute
	}
	return &Server{conf: conf, reg: reg, sess: sess, b: b, presence: presence}
}

// Routes 挂路由。
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "gatewayId": s.conf.GatewayID})
	})
}

// HandleWS 一条连接的完整生命周期。
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	conn := NewConn(ids.GenerateString(), ws)
	defer conn.Close()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	// ---- Authenticating：第一帧必须是 auth，超时/缺失/无效一律关 ----
	userID, ok := s.authenticate(ws, conn)
	if !ok {
		return
	}

	// ---- Authenticated：绑定 + 隐式 user 组 + fleet 会话登记 ----
	s.reg.Add(conn)
	s.reg.Bind(conn, userID)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	first, perr := s.presence.Connect(ctx, userID, conn.ID)
	cancel()
	if perr != nil {
		// presence 挂了不至于拒绝服务，fleet 级在线判断会退化
		logger.Errorf("[ws] presence connect failed user=%s err=%v", userID, perr)
	} else if first {
		s.publishPresence(bus.EventUserOnline, bus.UserOnline{UserID: userID})
	}

	conn.SendEvent(EventAuthAck, AuthAck{
		UserID: userID, ConnID: conn.ID, ServerTs: time.Now().UnixMilli(),
	})
	logger.Infof("[ws] authenticated user=%s conn=%s", userID, conn.ID)

	safe.Go(func() { s.heartbeatLoop(conn, userID) })

	// ---- 读循环：只读；动作在本协程里按序处理 ----
	s.readLoop(ws, conn)

	// ---- Closed：摘组、清 typing 计时器、fleet 下线判定 ----
	s.teardown(conn)
}

// authenticate 读第一帧并校验凭据。任何失败都回一条刻意笼统的
// "authentication error" 然后关连接，不区分缺失/过期/签名错。
func (s *Server) authenticate(ws *websocket.Conn, conn *Conn) (string, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.AuthDeadline))

	_, raw, err := ws.ReadMessage()
	if err != nil {
		logger.Infof("[ws] no auth frame conn=%s err=%v", conn.ID, err)
		s.rejectAuth(conn)
		return "", false
	}
	f, err := ParseActionFrame(raw)
	if err != nil || f.Action != ActionAuth {
		s.rejectAuth(conn)
		return "", false
	}
	p, err := decode.Decode[AuthPayload](f.Data)
	if err != nil || p.Token == "" {
		s.rejectAuth(conn)
		return "", false
	}
	userID, err := security.VerifySubject(s.conf.JWT, p.Token)
	if err != nil {
		logger.Infof("[ws] token rejected conn=%s err=%v", conn.ID, err)
		s.rejectAuth(conn)
		return "", false
	}

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	return userID, true
}

func (s *Server) rejectAuth(conn *Conn) {
	conn.CloseWithError(errs.ErrAuthFailed.Msg, errs.CodeAuthFailed)
}

func (s *Server) readLoop(ws *websocket.Conn, conn *Conn) {
	for {
		mt, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s", conn.ID)
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s", conn.ID)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", conn.ID, err)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseActionFrame(raw)
		if perr != nil {
			sample := raw
			if len(sample) > maxFrameSkip {
				sample = sample[:maxFrameSkip]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", conn.ID, perr, sample)
			conn.SendError("malformed frame", errs.CodeValidation)
			continue
		}
		if f.Action == ActionAuth {
			// 已授权连接重复 auth 视为协议错误，忽略
			continue
		}
		s.sess.HandleAction(context.Background(), conn, f)
	}
}

// heartbeatLoop 周期续期 fleet 会话，防止长连接在 Redis 里被当过期清掉。
// 续期失败只记日志，下个周期再试。
func (s *Server) heartbeatLoop(conn *Conn, userID string) {
	ticker := time.NewTicker(s.conf.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-conn.Closed():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			alive, err := s.presence.Heartbeat(ctx, userID, conn.ID)
			cancel()
			if err != nil {
				logger.Warnf("[ws] heartbeat failed user=%s conn=%s err=%v", userID, conn.ID, err)
				continue
			}
			if !alive {
				// 索引被清过（如 Redis 重启），重新登记
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				_, _ = s.presence.Connect(ctx, userID, conn.ID)
				cancel()
			}
		}
	}
}

// teardown 收尾顺序：先摘本地组，再清 typing 计时器，
// 最后按 fleet 剩余会话数判定是否广播离线——多设备用户不许闪断。
func (s *Server) teardown(conn *Conn) {
	s.reg.Remove(conn)
	s.sess.OnDisconnect(conn)

	userID := conn.UserID()
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	last, err := s.presence.Disconnect(ctx, userID, conn.ID)
	if err != nil {
		logger.Errorf("[ws] presence disconnect failed user=%s err=%v", userID, err)
		return
	}
	if last {
		lastSeen, _ := s.presence.LastSeen(ctx, userID)
		s.publishPresence(bus.EventUserOffline, bus.UserOffline{UserID: userID, LastSeen: lastSeen})
	}
	logger.Infof("[ws] closed user=%s conn=%s last=%v", userID, conn.ID, last)
}

func (s *Server) publishPresence(t bus.EventType, payload any) {
	e, err := bus.NewEvent(t, payload)
	if err != nil {
		logger.Errorf("[ws] build presence event failed: %v", err)
		return
	}
	if err := s.b.Publish(context.Background(), e); err != nil {
		logger.Errorf("[ws] publish presence failed type=%s err=%v", t, err)
	}
}
