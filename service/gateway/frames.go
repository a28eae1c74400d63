package gateway

import (
	"encoding/json"
	"fmt"

	"WaveIM/service/bus"
)

// 客户端线协议：上行 {action, data}，下行 {event, data}，UTF-8 JSON 文本帧。

// ===== 上行动作 =====

const (
	ActionAuth        = "auth"
	ActionHello       = "hello"
	ActionMessageSend = "message:send"
	ActionMessageRead = "message:read"
	ActionTypingStart = "typing:start"
	ActionTypingStop  = "typing:stop"
	ActionReactionSet = "reaction:set"
	ActionChatCreate  = "chat:create"
	ActionChatJoin    = "chat:join"
	ActionChatLeave   = "chat:leave"
)

type ActionFrame struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

func ParseActionFrame(raw []byte) (*ActionFrame, error) {
	f := &ActionFrame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Action == "" {
		return nil, fmt.Errorf("frame has no action")
	}
	return f, nil
}

// 每个动作的 payload（从 ActionFrame.Data 经 mapstructure 解出）

type AuthPayload struct {
	Token string `json:"token"`
}

type SendMessagePayload struct {
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	MediaID   string `json:"mediaId,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
	TempID    string `json:"tempId,omitempty"`
}

type ReadPayload struct {
	ChatID     string   `json:"chatId,omitempty"`
	MessageIDs []string `json:"messageIds"`
}

type TypingPayload struct {
	ChatID string `json:"chatId"`
}

type ReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type ChatCreatePayload struct {
	Type           string   `json:"type"`
	ParticipantIDs []string `json:"participantIds"`
	Title          string   `json:"title,omitempty"`
}

type RoomPayload struct {
	ChatID string `json:"chatId"`
}

// ===== 下行事件 =====

const (
	EventAuthAck       = "auth:ack"
	EventHelloAck      = "hello:ack"
	EventMessageAck    = "message:ack"
	EventReadAck       = "read:ack"
	EventReactionAck   = "reaction:ack"
	EventChatCreateAck = "chat:create:ack"
	EventChatJoinAck   = "chat:join:ack"
	EventChatLeaveAck  = "chat:leave:ack"

	EventMessageNew        = "message:new"
	EventMessageEdit       = "message:edit"
	EventMessageDelete     = "message:delete"
	EventReceiptDelivered  = "receipt:delivered"
	EventReceiptRead       = "receipt:read"
	EventTypingUpdate      = "typing:update"
	EventChatUpdated       = "chat:updated"
	EventChatJoined        = "chat:joined"
	EventChatLeft          = "chat:left"
	EventPresenceUpdate    = "presence:update"
	EventError             = "error"
)

type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEventFrame 下行帧编码；payload 为 nil 时省略 data。
func EncodeEventFrame(event string, payload any) ([]byte, error) {
	f := EventFrame{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// 下行 ack / 广播 payload

type AuthAck struct {
	UserID   string `json:"userId"`
	ConnID   string `json:"connId"`
	ServerTs int64  `json:"serverTs"`
}

type HelloAck struct {
	UserID   string `json:"userId"`
	ConnID   string `json:"connId"`
	ServerTs int64  `json:"serverTs"`
}

type MessageAck struct {
	TempID    string      `json:"tempId,omitempty"`
	MessageID string      `json:"messageId"`
	Message   bus.Message `json:"message"`
}

type ReadAck struct {
	MessageIDs []string `json:"messageIds"`
}

type ReactionAck struct {
	Message bus.Message `json:"message"`
}

type ChatAck struct {
	ChatID string `json:"chatId"`
}

type ChatCreateAck struct {
	Chat bus.Chat `json:"chat"`
}

type TypingUpdate struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceUpdate struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type MessageDelete struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type ReceiptDelivered struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type ReceiptRead struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

type ChatPayloadOut struct {
	Chat bus.Chat `json:"chat"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
