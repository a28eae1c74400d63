package bus

import (
	"sync"
	"time"

	"golang.org/x/net/context"
)

// IdemStore broker 重连后同一事件可能再投一次（at-least-once），
// 订阅端用它按 DedupeID 去重。
type IdemStore interface {
	SeenOnce(key string, ttl time.Duration) (seen bool, err error)
}

// ----- 内存实现（单进程） -----
type memIdem struct {
	mu  sync.Mutex
	m   map[string]int64 // key -> expireUnix
	ttl time.Duration
}

func NewMemIdem(defaultTTL time.Duration) IdemStore {
	mi := &memIdem{m: make(map[string]int64), ttl: defaultTTL}
	// 清理协程
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now().Unix()
			mi.mu.Lock()
			for k, exp := range mi.m {
				if exp <= now {
					delete(mi.m, k)
				}
			}
			mi.mu.Unlock()
		}
	}()
	return mi
}

func (mi *memIdem) SeenOnce(key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = mi.ttl
	}
	exp := time.Now().Add(ttl).Unix()
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if old, ok := mi.m[key]; ok && old > time.Now().Unix() {
		return true, nil
	}
	mi.m[key] = exp
	return false, nil
}

// IdemMiddleware 幂等中间件。没有 DedupeID 的事件直接放行，
// 交给消费端自身的幂等合并兜底。
func IdemMiddleware(store IdemStore, ttl time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, e Event) error {
			if e.DedupeID == "" {
				return next(ctx, e)
			}
			seen, _ := store.SeenOnce(string(e.Type)+"|"+e.DedupeID, ttl)
			if seen {
				return nil
			}
			return next(ctx, e)
		}
	}
}
