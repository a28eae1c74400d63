// Package client is the Go SDK for the WaveIM gateway: a reconnecting
// websocket transport plus a reconciliation store that merges confirmed
// server state with optimistic local state (pending sends, typing,
// presence) under at-least-once delivery.
package client

import (
	"encoding/json"

	"WaveIM/service/bus"
)

// Wire contract, mirroring the gateway's frames.

type ActionFrame struct {
	Action string `json:"action"`
	Data   any    `json:"data,omitempty"`
}

type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	evAuthAck       = "auth:ack"
	evHelloAck      = "hello:ack"
	evMessageAck    = "message:ack"
	evMessageNew    = "message:new"
	evMessageEdit   = "message:edit"
	evMessageDelete = "message:delete"
	evReceiptDlv    = "receipt:delivered"
	evReceiptRead   = "receipt:read"
	evTypingUpdate  = "typing:update"
	evChatUpdated   = "chat:updated"
	evChatJoined    = "chat:joined"
	evChatLeft      = "chat:left"
	evPresence      = "presence:update"
	evError         = "error"
)

type messageNew struct {
	Message bus.Message `json:"message"`
	TempID  string      `json:"tempId,omitempty"`
}

type messageEdit struct {
	Message bus.Message `json:"message"`
}

type messageDelete struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type messageAck struct {
	TempID    string      `json:"tempId,omitempty"`
	MessageID string      `json:"messageId"`
	Message   bus.Message `json:"message"`
}

type receiptDelivered struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
	UserID    string `json:"userId"`
}

type receiptRead struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
	UserID     string   `json:"userId"`
}

type typingUpdate struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type chatPayload struct {
	Chat bus.Chat `json:"chat"`
}

type chatLeft struct {
	ChatID string `json:"chatId"`
}

type presenceUpdate struct {
	UserID   string `json:"userId"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen,omitempty"`
}

type authAck struct {
	UserID   string `json:"userId"`
	ConnID   string `json:"connId"`
	ServerTs int64  `json:"serverTs"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}
