package gateway

import (
	"encoding/json"

	"WaveIM/logger"

	"github.com/nats-io/nats.go"
)

// Bridge 跨进程投递适配器：把“发给组 G”扩到整个 fleet。
// 借用事件总线同一个 broker，单独一个 subject 走投递信封；
// 发布方不需要知道哪条连接挂在哪个进程——每个网关都消费信封，
// 只把本地属于该组的连接喂进扇出池。
//
// broker 挂载失败不是启动失败：退化为仅本进程投递，日志里大声记一笔。
// 静默丢 fleet 级数据不可接受，降级运行可以接受。

const deliverSubject = "waveim.deliver"

// Envelope 投递信封。Exclude* 用于 typing 这类“房间减去发送者”的广播。
type Envelope struct {
	Group       string          `json:"group"` // user:<id> / chat:<id> / *
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data,omitempty"`
	ExcludeConn string          `json:"excludeConn,omitempty"`
	ExcludeUser string          `json:"excludeUser,omitempty"`
}

type Bridge struct {
	reg *Registry
	fan *Fanout
	nc  *nats.Conn // nil = 本地退化模式
	sub *nats.Subscription
}

// NewBridge nc 传 nil 表示 broker 没挂上，进入本地退化模式。
func NewBridge(reg *Registry, fan *Fanout, nc *nats.Conn) *Bridge {
	b := &Bridge{reg: reg, fan: fan, nc: nc}
	if nc == nil {
		logger.Error("[bridge] broker not attached: running LOCAL-ONLY, no cross-process fan-out")
		return b
	}
	sub, err := nc.Subscribe(deliverSubject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[bridge] drop undecodable envelope err=%v", err)
			return
		}
		b.deliverLocal(&env)
	})
	if err != nil {
		logger.Errorf("[bridge] subscribe failed, running LOCAL-ONLY: %v", err)
		b.nc = nil
		return b
	}
	b.sub = sub
	return b
}

// BroadcastOpt 调整单次广播的行为。
type BroadcastOpt func(*Envelope)

func ExcludeConn(connID string) BroadcastOpt {
	return func(e *Envelope) { e.ExcludeConn = connID }
}

func ExcludeUser(userID string) BroadcastOpt {
	return func(e *Envelope) { e.ExcludeUser = userID }
}

// Broadcast 把一帧事件发给组内 fleet 全部连接。
func (b *Bridge) Broadcast(group, event string, payload any, opts ...BroadcastOpt) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := &Envelope{Group: group, Event: event, Data: raw}
	for _, o := range opts {
		o(env)
	}

	if b.nc == nil {
		// 退化：只投本进程
		b.deliverLocal(env)
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	// 自己也订阅着 deliverSubject，本进程的投递随信封一起回来
	return b.nc.Publish(deliverSubject, data)
}

func (b *Bridge) deliverLocal(env *Envelope) {
	conns := b.reg.GroupConns(env.Group)
	if len(conns) == 0 {
		return
	}
	frame, err := json.Marshal(EventFrame{Event: env.Event, Data: env.Data})
	if err != nil {
		logger.Errorf("[bridge] encode frame failed event=%s err=%v", env.Event, err)
		return
	}
	b.fan.Broadcast(conns, frame, func(c *Conn) bool {
		if env.ExcludeConn != "" && c.ID == env.ExcludeConn {
			return true
		}
		if env.ExcludeUser != "" && c.UserID() == env.ExcludeUser {
			return true
		}
		return false
	})
}

// Local 是否处于本地退化模式。
func (b *Bridge) Local() bool { return b.nc == nil }

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Drain()
		b.sub = nil
	}
}
