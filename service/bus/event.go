package bus

import (
	"encoding/json"
	"time"

	"WaveIM/tools/ids"
)

// EventType 领域事件类型，封闭枚举。翻译表必须穷举（见 gateway/translator.go），
// 新增类型时同步改 AllEventTypes，测试会兜底。
type EventType string

const (
	EventMessageSent      EventType = "message.sent"
	EventMessageEdited    EventType = "message.edited"
	EventMessageDeleted   EventType = "message.deleted"
	EventMessageReacted   EventType = "message.reacted"
	EventMessageRead      EventType = "message.read"
	EventMessageDelivered EventType = "message.delivered"
	EventChatCreated      EventType = "chat.created"
	EventChatUpdated      EventType = "chat.updated"
	EventChatMemberAdded  EventType = "chat.member_added"
	EventChatMemberGone   EventType = "chat.member_removed"
	EventUserOnline       EventType = "user.online"
	EventUserOffline      EventType = "user.offline"
	EventUserTyping       EventType = "user.typing"
	EventUserStopTyping   EventType = "user.stop_typing"
)

// AllEventTypes 按发布方分组列出全部类型。
var AllEventTypes = []EventType{
	EventMessageSent, EventMessageEdited, EventMessageDeleted,
	EventMessageReacted, EventMessageRead, EventMessageDelivered,
	EventChatCreated, EventChatUpdated, EventChatMemberAdded, EventChatMemberGone,
	EventUserOnline, EventUserOffline, EventUserTyping, EventUserStopTyping,
}

// Event 一条不可变的领域事实。Data 是对应 payload 结构的 JSON。
// DedupeID 供 at-least-once 场景下的消费端去重。
type Event struct {
	Type     EventType       `json:"type"`
	Ts       int64           `json:"ts"`
	DedupeID string          `json:"dedupeId,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// NewEvent 打包 payload。payload 编码失败属于编程错误，直接返回 error 让调用方记日志。
func NewEvent(t EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:     t,
		Ts:       time.Now().UnixMilli(),
		DedupeID: ids.GenerateString(),
		Data:     raw,
	}, nil
}

// DecodePayload 把事件数据解到具体 payload 结构。
func DecodePayload[T any](e Event) (*T, error) {
	var out T
	if err := json.Unmarshal(e.Data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ===== 消息/会话的线上形态（上游 REST 服务返回的就是这些形状） =====

// 消息状态的单调序：sent < delivered < read
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	ID         string     `json:"_id"`
	ChatID     string     `json:"chatId"`
	SenderID   string     `json:"senderId"`
	Body       string     `json:"body"`
	MediaID    string     `json:"mediaId,omitempty"`
	ReplyToID  string     `json:"replyToId,omitempty"`
	Status     string     `json:"status"`
	Reactions  []Reaction `json:"reactions,omitempty"`
	DeletedFor []string   `json:"deletedFor,omitempty"`
	CreatedAt  int64      `json:"createdAt"`
}

type Chat struct {
	ID             string   `json:"_id"`
	Type           string   `json:"type"` // private | group
	Title          string   `json:"title,omitempty"`
	ParticipantIDs []string `json:"participantIds"`
	CreatedAt      int64    `json:"createdAt"`
}

// ===== 每个事件类型的 payload =====

type MessageSent struct {
	Message Message `json:"message"`
	TempID  string  `json:"tempId,omitempty"` // 回传给发送方做乐观替换
}

type MessageEdited struct {
	Message Message `json:"message"`
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"` // 删除者（软删，见客户端合并规则）
}

type MessageReacted struct {
	Message Message `json:"message"`
}

type MessageRead struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

type MessageDelivered struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type ChatCreated struct {
	Chat Chat `json:"chat"`
}

type ChatUpdated struct {
	Chat Chat `json:"chat"`
}

type ChatMemberAdded struct {
	Chat   Chat   `json:"chat"`
	UserID string `json:"userId"`
}

type ChatMemberRemoved struct {
	Chat   Chat   `json:"chat"`
	UserID string `json:"userId"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID   string `json:"userId"`
	LastSeen int64  `json:"lastSeen"`
}

type UserTyping struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type UserStopTyping struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}
