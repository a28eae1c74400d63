package gateway

import (
	"sync"
	"time"

	"WaveIM/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	pingInterval   = 25 * time.Second
	sendQueueDepth = 256
)

// transport 是 websocket 连接的最小写入面，单测里用假实现替换。
// *websocket.Conn 天然满足。
type transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn 一条已握手的客户端连接。
// 写全部走 send 队列 + 单写协程（gorilla 不允许并发写）；
// 队列打满说明客户端太慢，整帧丢弃。
type Conn struct {
	ID string

	mu     sync.RWMutex
	userID string

	sock      transport
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func NewConn(id string, sock transport) *Conn {
	c := &Conn{
		ID:     id,
		sock:   sock,
		send:   make(chan []byte, sendQueueDepth),
		closed: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// BindUser 授权成功后绑定用户，整个生命周期内只发生一次。
func (c *Conn) BindUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Conn) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Conn) Authed() bool { return c.UserID() != "" }

// SendEvent 编码并入队一帧下行事件。慢客户端丢帧，不阻塞调用方。
func (c *Conn) SendEvent(event string, payload any) {
	raw, err := EncodeEventFrame(event, payload)
	if err != nil {
		logger.Errorf("[conn] encode event failed conn=%s event=%s err=%v", c.ID, event, err)
		return
	}
	c.enqueue(raw)
}

// SendError 只回给这一条连接的 scoped error。
func (c *Conn) SendError(message string, code int) {
	c.SendEvent(EventError, ErrorPayload{Message: message, Code: code})
}

func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
		logger.Warnf("[conn] send queue full, drop frame conn=%s user=%s", c.ID, c.UserID())
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Infof("[conn] write failed conn=%s err=%v", c.ID, err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close 幂等。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.sock.Close()
	})
}

// CloseWithError 绕过发送队列，同步把最后一帧错误写出去再关闭。
// 握手失败用这个：此时走队列的帧可能来不及被写协程刷出就断了。
func (c *Conn) CloseWithError(message string, code int) {
	c.closeOnce.Do(func() {
		close(c.closed)
		raw, err := EncodeEventFrame(EventError, ErrorPayload{Message: message, Code: code})
		if err == nil {
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.TextMessage, raw)
		}
		_ = c.sock.Close()
	})
}

// Closed 供读循环观察。
func (c *Conn) Closed() <-chan struct{} { return c.closed }
