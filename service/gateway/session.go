package gateway

import (
	"sync"
	"time"

	"WaveIM/logger"
	"WaveIM/service/bus"
	"WaveIM/service/upstream"
	"WaveIM/tools/decode"
	"WaveIM/tools/errs"

	"golang.org/x/net/context"
)

// Session 处理已授权连接的上行动作：先校验、再调上游、只回发起方。
// 消息内容的广播不在这里发——REST 服务发事件，翻译器统一扇出，
// 发送方靠直达 ack 拿 tempId→messageId 映射，靠广播拿权威对象，按 id 去重。

type SessionConfig struct {
	TypingDebounce time.Duration // typing 自动停止窗口，默认 3s
}

type Session struct {
	conf     SessionConfig
	reg      *Registry
	b        *bus.Bus
	messages upstream.MessageService
	chats    upstream.ChatService

	// typing 去抖计时器表，结构化键，断开时按用户清空
	tmu    sync.Mutex
	timers map[typingKey]*time.Timer
}

type typingKey struct {
	userID string
	chatID string
}

func NewSession(conf SessionConfig, reg *Registry, b *bus.Bus,
	messages upstream.MessageService, chats upstream.ChatService) *Session {
	if conf.TypingDebounce <= 0 {
		conf.TypingDebounce = 3 * time.Second
	}
	return &Session{
		conf:     conf,
		reg:      reg,
		b:        b,
		messages: messages,
		chats:    chats,
		timers:   make(map[typingKey]*time.Timer),
	}
}

// HandleAction 在连接自己的读循环里被调——同一连接的动作天然串行。
func (s *Session) HandleAction(ctx context.Context, c *Conn, f *ActionFrame) {
	switch f.Action {
	case ActionHello:
		c.SendEvent(EventHelloAck, HelloAck{
			UserID: c.UserID(), ConnID: c.ID, ServerTs: time.Now().UnixMilli(),
		})

	case ActionMessageSend:
		s.handleSend(ctx, c, f)

	case ActionMessageRead:
		s.handleRead(ctx, c, f)

	case ActionTypingStart:
		s.handleTyping(c, f, true)

	case ActionTypingStop:
		s.handleTyping(c, f, false)

	case ActionReactionSet:
		s.handleReaction(ctx, c, f)

	case ActionChatCreate:
		s.handleChatCreate(ctx, c, f)

	case ActionChatJoin:
		p, ok := decodeOrReject[RoomPayload](c, f)
		if !ok {
			return
		}
		if p.ChatID == "" {
			c.SendError("chatId is required", errs.CodeValidation)
			return
		}
		s.reg.JoinChat(c, p.ChatID)
		c.SendEvent(EventChatJoinAck, ChatAck{ChatID: p.ChatID})

	case ActionChatLeave:
		p, ok := decodeOrReject[RoomPayload](c, f)
		if !ok {
			return
		}
		if p.ChatID == "" {
			c.SendError("chatId is required", errs.CodeValidation)
			return
		}
		s.reg.LeaveChat(c, p.ChatID)
		c.SendEvent(EventChatLeaveAck, ChatAck{ChatID: p.ChatID})

	default:
		c.SendError("unknown action: "+f.Action, errs.CodeValidation)
	}
}

func (s *Session) handleSend(ctx context.Context, c *Conn, f *ActionFrame) {
	p, ok := decodeOrReject[SendMessagePayload](c, f)
	if !ok {
		return
	}
	if p.ChatID == "" {
		c.SendError("chatId is required", errs.CodeValidation)
		return
	}
	if p.Body == "" && p.MediaID == "" {
		c.SendError("body is required", errs.CodeValidation)
		return
	}

	msg, err := s.messages.CreateMessage(ctx, c.UserID(), upstream.CreateMessageReq{
		ChatID: p.ChatID, Body: p.Body, MediaID: p.MediaID,
		ReplyToID: p.ReplyToID, TempID: p.TempID,
	})
	if err != nil {
		sendUpstreamError(c, err)
		return
	}
	// 直达 ack：够客户端把乐观占位换成权威 id
	c.SendEvent(EventMessageAck, MessageAck{TempID: p.TempID, MessageID: msg.ID, Message: *msg})
}

func (s *Session) handleRead(ctx context.Context, c *Conn, f *ActionFrame) {
	p, ok := decodeOrReject[ReadPayload](c, f)
	if !ok {
		return
	}
	if len(p.MessageIDs) == 0 {
		c.SendError("messageIds is required", errs.CodeValidation)
		return
	}
	if err := s.messages.MarkRead(ctx, c.UserID(), p.MessageIDs); err != nil {
		sendUpstreamError(c, err)
		return
	}
	c.SendEvent(EventReadAck, ReadAck{MessageIDs: p.MessageIDs})
}

func (s *Session) handleReaction(ctx context.Context, c *Conn, f *ActionFrame) {
	p, ok := decodeOrReject[ReactionPayload](c, f)
	if !ok {
		return
	}
	if p.MessageID == "" {
		c.SendError("messageId is required", errs.CodeValidation)
		return
	}
	if p.Emoji == "" {
		c.SendError("emoji is required", errs.CodeValidation)
		return
	}
	msg, err := s.messages.SetReaction(ctx, c.UserID(), p.MessageID, p.Emoji)
	if err != nil {
		sendUpstreamError(c, err)
		return
	}
	c.SendEvent(EventReactionAck, ReactionAck{Message: *msg})
}

func (s *Session) handleChatCreate(ctx context.Context, c *Conn, f *ActionFrame) {
	p, ok := decodeOrReject[ChatCreatePayload](c, f)
	if !ok {
		return
	}
	if p.Type == "" {
		c.SendError("type is required", errs.CodeValidation)
		return
	}
	if len(p.ParticipantIDs) == 0 {
		c.SendError("participantIds is required", errs.CodeValidation)
		return
	}
	chat, err := s.chats.CreateChat(ctx, c.UserID(), upstream.CreateChatReq{
		Type: p.Type, ParticipantIDs: p.ParticipantIDs, Title: p.Title,
	})
	if err != nil {
		sendUpstreamError(c, err)
		return
	}
	c.SendEvent(EventChatCreateAck, ChatCreateAck{Chat: *chat})
}

// ===== typing 去抖 =====

func (s *Session) handleTyping(c *Conn, f *ActionFrame, start bool) {
	p, ok := decodeOrReject[TypingPayload](c, f)
	if !ok {
		return
	}
	if p.ChatID == "" {
		c.SendError("chatId is required", errs.CodeValidation)
		return
	}
	userID := c.UserID()
	key := typingKey{userID: userID, chatID: p.ChatID}

	if start {
		s.armAutoStop(key)
		s.publishTyping(userID, p.ChatID, true)
		return
	}
	s.cancelTimer(key)
	s.publishTyping(userID, p.ChatID, false)
}

// armAutoStop 重置 (user, chat) 的自动停止计时器：没有后续 start/stop
// 时到点自动广播一次 typing:false。
func (s *Session) armAutoStop(key typingKey) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(s.conf.TypingDebounce, func() {
		s.tmu.Lock()
		delete(s.timers, key)
		s.tmu.Unlock()
		s.publishTyping(key.userID, key.chatID, false)
	})
}

func (s *Session) cancelTimer(key typingKey) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// OnDisconnect 连接关闭：清掉该用户的全部 typing 计时器，
// 防止人走了之后“还在输入”的广播还会响。
func (s *Session) OnDisconnect(c *Conn) {
	userID := c.UserID()
	if userID == "" {
		return
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for key, t := range s.timers {
		if key.userID == userID {
			t.Stop()
			delete(s.timers, key)
		}
	}
}

// publishTyping typing 也走总线→翻译器这一条路，fleet 所有网关统一扇出。
// 发布失败只记日志：尽力而为的提示，不是写路径。
func (s *Session) publishTyping(userID, chatID string, typing bool) {
	var (
		e   bus.Event
		err error
	)
	if typing {
		e, err = bus.NewEvent(bus.EventUserTyping, bus.UserTyping{ChatID: chatID, UserID: userID})
	} else {
		e, err = bus.NewEvent(bus.EventUserStopTyping, bus.UserStopTyping{ChatID: chatID, UserID: userID})
	}
	if err != nil {
		logger.Errorf("[session] build typing event failed: %v", err)
		return
	}
	if err := s.b.Publish(context.Background(), e); err != nil {
		logger.Errorf("[session] publish typing failed user=%s chat=%s err=%v", userID, chatID, err)
	}
}

// ===== 工具 =====

func decodeOrReject[T any](c *Conn, f *ActionFrame) (*T, bool) {
	p, err := decode.Decode[T](f.Data)
	if err != nil {
		c.SendError("malformed payload for "+f.Action, errs.CodeValidation)
		return nil, false
	}
	return p, true
}

func sendUpstreamError(c *Conn, err error) {
	if ce := errs.AsCodeError(err); ce != nil {
		msg := ce.Msg
		if ce.Detail != "" {
			msg += ": " + ce.Detail
		}
		c.SendError(msg, ce.Code)
		return
	}
	c.SendError("upstream request failed", errs.CodeUpstreamFailed)
}
