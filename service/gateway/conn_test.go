package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSock 替代真 websocket，按帧收集写入内容。
type fakeSock struct {
	mu     sync.Mutex
	frames []EventFrame
	closed bool
}

func (f *fakeSock) WriteMessage(mt int, data []byte) error {
	if mt != websocket.TextMessage {
		return nil // ping 帧不计
	}
	var ef EventFrame
	if err := json.Unmarshal(data, &ef); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, ef)
	f.mu.Unlock()
	return nil
}

func (f *fakeSock) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeSock) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSock) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Event
	}
	return out
}

func (f *fakeSock) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, fr := range f.frames {
		if fr.Event == event {
			n++
		}
	}
	return n
}

// waitFrame 等到指定事件写出（写协程是异步的）并解出 payload。
func waitFrame[T any](t *testing.T, fs *fakeSock, event string) T {
	t.Helper()
	var out T
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for _, fr := range fs.frames {
			if fr.Event == event {
				return json.Unmarshal(fr.Data, &out) == nil
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no %s frame arrived", event)
	return out
}

func waitEvent(t *testing.T, fs *fakeSock, event string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fs.count(event) > 0
	}, 2*time.Second, 5*time.Millisecond, "no %s frame arrived", event)
}

func newTestConn(id, userID string) (*Conn, *fakeSock) {
	fs := &fakeSock{}
	c := NewConn(id, fs)
	if userID != "" {
		c.BindUser(userID)
	}
	return c, fs
}

func TestConnSendEvent(t *testing.T) {
	c, fs := newTestConn("c1", "u1")
	defer c.Close()

	c.SendEvent(EventHelloAck, HelloAck{UserID: "u1", ConnID: "c1"})
	got := waitFrame[HelloAck](t, fs, EventHelloAck)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "c1", got.ConnID)
}

// 最后一帧错误不走发送队列：CloseWithError 返回时帧已经写到底层连接上。
func TestConnCloseWithErrorFlushesSynchronously(t *testing.T) {
	c, fs := newTestConn("c1", "")

	c.CloseWithError("authentication error", 40101)

	p := waitFrame[ErrorPayload](t, fs, EventError)
	assert.Equal(t, "authentication error", p.Message)
	assert.Equal(t, 40101, p.Code)
	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	assert.True(t, closed)

	// 幂等：再关一次、再报一次错都不会多写帧
	c.CloseWithError("authentication error", 40101)
	c.Close()
	assert.Equal(t, 1, fs.count(EventError))
}

func TestConnCloseIdempotent(t *testing.T) {
	c, fs := newTestConn("c1", "")
	c.Close()
	c.Close()

	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	assert.True(t, closed)

	// 关闭后入队不 panic，也不会写出
	c.SendEvent(EventHelloAck, HelloAck{})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, fs.events())
}
