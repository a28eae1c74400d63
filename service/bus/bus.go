package bus

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"WaveIM/logger"
	"WaveIM/tools/safe"

	"github.com/nats-io/nats.go"
	"golang.org/x/net/context"
)

// Bus 单频道的类型化发布/订阅。显式构造、显式注入、显式 Close，
// 不做懒加载单例。broker 连不上时退化为本进程内投递（启动日志会大声说）。
type Config struct {
	Servers       []string
	Name          string
	Subject       string // 共享频道，默认 waveim.events
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *Config) norm() {
	if c.Subject == "" {
		c.Subject = "waveim.events"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.Name == "" {
		c.Name = "waveim-bus"
	}
}

type Bus struct {
	cfg Config
	nc  *nats.Conn
	sub *nats.Subscription
	mws []Middleware

	mu     sync.RWMutex
	byType map[EventType][]Handler
	all    []Handler
}

// New 连接 broker 并订阅共享频道。连接失败时仍返回可用的 Bus
// （仅本进程内投递），err 交给调用方决定怎么喊。
func New(cfg Config, mws ...Middleware) (*Bus, error) {
	cfg.norm()
	b := &Bus{
		cfg:    cfg,
		mws:    mws,
		byType: make(map[EventType][]Handler),
	}
	if len(cfg.Servers) == 0 {
		return b, nats.ErrNoServers
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return b, err
	}
	b.nc = nc

	sub, err := nc.Subscribe(cfg.Subject, func(m *nats.Msg) {
		b.dispatch(m.Data)
	})
	if err != nil {
		// 订阅挂了等于收不到别的进程的事件，同样退化为本地投递
		nc.Close()
		b.nc = nil
		return b, err
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	b.sub = sub
	return b, nil
}

// Local 本进程内投递是否为当前模式（broker 未挂载）。
func (b *Bus) Local() bool { return b.nc == nil }

// Conn 暴露底层连接给同 broker 的旁路（delivery bridge 复用它）。
// 退化模式下为 nil。
func (b *Bus) Conn() *nats.Conn { return b.nc }

// Publish 发布一条事件。失败由调用方记日志；用户请求路径上的调用方
// 绝不能把这个 error 变成请求失败——REST 写已经提交了。
func (b *Bus) Publish(ctx context.Context, e Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if b.nc == nil {
		// 退化：直接喂给本地 handler
		b.dispatch(raw)
		return nil
	}
	return b.nc.Publish(b.cfg.Subject, raw)
}

// Subscribe 按类型注册 handler，一条事件触发一次。
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[t] = append(b.byType[t], h)
}

// SubscribeAll 注册全量 handler。
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// dispatch 解码并逐个调 handler。单个 handler 出错/panic 不影响其他 handler。
// 解不开的 payload 记日志丢弃，不重试（重试只会重放同一坨坏数据）。
//
// 中间件包在整次扇出外面，按事件只过一次：幂等去重拦的是重复投递的事件，
// 不能拦同一事件的第二个 handler。
func (b *Bus) dispatch(raw []byte) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		sample := raw
		if len(sample) > 256 {
			sample = sample[:256]
		}
		logger.Warnf("[bus] drop undecodable event err=%v sample=%q", err, sample)
		return
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.byType[e.Type])+len(b.all))
	hs = append(hs, b.byType[e.Type]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()
	if len(hs) == 0 {
		return
	}

	fan := func(ctx context.Context, e Event) error {
		for _, h := range hs {
			safe.Run(func() {
				if err := h(ctx, e); err != nil {
					logger.Errorf("[bus] handler failed type=%s err=%v", e.Type, err)
				}
			})
		}
		return nil
	}
	if err := Chain(fan, b.mws...)(context.Background(), e); err != nil {
		logger.Errorf("[bus] dispatch middleware failed type=%s err=%v", e.Type, err)
	}
}

// Close 优雅关闭。
func (b *Bus) Close() error {
	if b.sub != nil {
		_ = b.sub.Drain()
		b.sub = nil
	}
	if b.nc != nil {
		err := b.nc.Drain()
		b.nc = nil
		return err
	}
	return nil
}
