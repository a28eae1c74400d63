package gateway

import (
	"sync"
)

// 广播组名：user:<userId> 所有设备的隐式组，chat:<chatId> 显式加入的房间。
// chat 组的成员关系挂在连接上而不是用户上——两台设备只有进了房间的那台收房间广播。

func UserGroup(userID string) string { return "user:" + userID }
func ChatGroup(chatID string) string { return "chat:" + chatID }

// GroupAll bridge 用的特殊组：本进程全部连接。
const GroupAll = "*"

// Registry 本进程的连接与组成员表。
// 多协程并发进出（每连接一个读循环），全部操作持锁。
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Conn
	groups map[string]map[string]*Conn    // group -> connID -> conn
	joined map[string]map[string]struct{} // connID -> group set，断开时反查清理
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Conn),
		groups: make(map[string]map[string]*Conn),
		joined: make(map[string]map[string]struct{}),
	}
}

// Add 登记连接（此时可能尚未授权，不进任何组）。
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.ID] = c
}

// Bind 授权完成：把连接挂进 user:<id> 隐式组。
// 必须在接受任何客户端动作之前调用。
func (r *Registry) Bind(c *Conn, userID string) {
	c.BindUser(userID)
	r.join(c, UserGroup(userID))
}

// JoinChat 幂等：重复加入同一房间是 no-op，不会出现重复投递。
func (r *Registry) JoinChat(c *Conn, chatID string) {
	r.join(c, ChatGroup(chatID))
}

// LeaveChat 幂等：离开没加入的房间也是 no-op，不报错。
func (r *Registry) LeaveChat(c *Conn, chatID string) {
	r.leave(c.ID, ChatGroup(chatID))
}

func (r *Registry) join(c *Conn, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.groups[group]
	if g == nil {
		g = make(map[string]*Conn)
		r.groups[group] = g
	}
	g[c.ID] = c

	j := r.joined[c.ID]
	if j == nil {
		j = make(map[string]struct{})
		r.joined[c.ID] = j
	}
	j[group] = struct{}{}
}

func (r *Registry) leave(connID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g := r.groups[group]; g != nil {
		delete(g, connID)
		if len(g) == 0 {
			delete(r.groups, group)
		}
	}
	if j := r.joined[connID]; j != nil {
		delete(j, group)
	}
}

// Remove 连接关闭：从所有组摘除。返回之前加入过的组，便于上层做收尾。
func (r *Registry) Remove(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byID, c.ID)
	j := r.joined[c.ID]
	delete(r.joined, c.ID)

	out := make([]string, 0, len(j))
	for group := range j {
		out = append(out, group)
		if g := r.groups[group]; g != nil {
			delete(g, c.ID)
			if len(g) == 0 {
				delete(r.groups, group)
			}
		}
	}
	return out
}

// GroupConns 组的本地成员快照。group=="*" 返回全部连接。
func (r *Registry) GroupConns(group string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if group == GroupAll {
		out := make([]*Conn, 0, len(r.byID))
		for _, c := range r.byID {
			out = append(out, c)
		}
		return out
	}
	g := r.groups[group]
	if len(g) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(g))
	for _, c := range g {
		out = append(out, c)
	}
	return out
}

// InGroup 连接是否在组里（测试与调试用）。
func (r *Registry) InGroup(connID, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[group]
	if g == nil {
		return false
	}
	_, ok := g[connID]
	return ok
}

// LocalUserConns 该用户在本进程的连接数（fleet 级判断走 PresenceStore）。
func (r *Registry) LocalUserConns(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups[UserGroup(userID)])
}
