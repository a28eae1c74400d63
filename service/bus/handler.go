package bus

import "golang.org/x/net/context"

// Handler 业务处理函数。返回 error 只用于记日志，不影响其他 handler。
type Handler func(ctx context.Context, e Event) error

// Middleware 中间件（日志、幂等等）
type Middleware func(Handler) Handler

// Chain 组合中间件
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
