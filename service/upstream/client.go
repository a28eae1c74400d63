package upstream

import (
	"context"
	"fmt"
	"time"

	"WaveIM/service/bus"
	"WaveIM/tools/errs"

	"github.com/go-resty/resty/v2"
)

// 网关消费的上游 REST 协作方（messages / chats 服务）。
// 网关只认它们的请求/响应形状；落库、鉴权细节都在对端。
// 调用方身份通过 X-User-ID 头传递。

const identityHeader = "X-User-ID"

type CreateMessageReq struct {
	ChatID    string `json:"chatId"`
	Body      string `json:"body"`
	MediaID   string `json:"mediaId,omitempty"`
	ReplyToID string `json:"replyToId,omitempty"`
	TempID    string `json:"tempId,omitempty"`
}

type CreateChatReq struct {
	Type           string   `json:"type"`
	ParticipantIDs []string `json:"participantIds"`
	Title          string   `json:"title,omitempty"`
}

// MessageService 会话层依赖的接口，单测用假实现。
type MessageService interface {
	CreateMessage(ctx context.Context, callerID string, req CreateMessageReq) (*bus.Message, error)
	MarkRead(ctx context.Context, callerID string, messageIDs []string) error
	SetReaction(ctx context.Context, callerID, messageID, emoji string) (*bus.Message, error)
}

type ChatService interface {
	CreateChat(ctx context.Context, callerID string, req CreateChatReq) (*bus.Chat, error)
}

// ===== resty 实现 =====

type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(0) // 重试交给客户端的重发，不在网关里放大写请求
	return &Client{http: c}
}

func (c *Client) CreateMessage(ctx context.Context, callerID string, req CreateMessageReq) (*bus.Message, error) {
	var out bus.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(identityHeader, callerID).
		SetBody(req).
		SetResult(&out).
		Post("/messages")
	if err := upstreamErr(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkRead(ctx context.Context, callerID string, messageIDs []string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(identityHeader, callerID).
		SetBody(map[string]any{"messageIds": messageIDs}).
		Post("/messages/read")
	return upstreamErr(resp, err)
}

func (c *Client) SetReaction(ctx context.Context, callerID, messageID, emoji string) (*bus.Message, error) {
	var out bus.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(identityHeader, callerID).
		SetBody(map[string]any{"emoji": emoji}).
		SetResult(&out).
		Post(fmt.Sprintf("/messages/%s/reactions", messageID))
	if err := upstreamErr(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChat(ctx context.Context, callerID string, req CreateChatReq) (*bus.Chat, error) {
	var out bus.Chat
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(identityHeader, callerID).
		SetBody(req).
		SetResult(&out).
		Post("/chats")
	if err := upstreamErr(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// upstreamErr 统一错误归一：网络错/非2xx 都归到 50201，
// detail 里带状态码，给请求方的 scoped error 只透这一层。
func upstreamErr(resp *resty.Response, err error) error {
	if err != nil {
		return errs.ErrUpstreamFailed.WrapMsg("request failed", "err", err)
	}
	if resp.IsError() {
		return errs.ErrUpstreamFailed.WrapMsg("bad status", "status", resp.StatusCode())
	}
	return nil
}
