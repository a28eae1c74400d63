package gateway

import (
	"fmt"

	"WaveIM/logger"
	"WaveIM/service/bus"

	"golang.org/x/net/context"
)

// Translator 订阅事件总线，把每条领域事件翻成目标组 + 客户端 payload。
// 扇出策略只活在这一张表里。按总线到达顺序翻译和广播，不重排不攒批。

// BroadcastSpec 一条翻译结果：发给哪个组、什么事件名、什么形状。
type BroadcastSpec struct {
	Group       string
	Event       string
	Payload     any
	ExcludeUser string
}

// Translate 策略表本体。必须穷举全部事件类型：漏一个类型是潜在 bug，
// 返回 error 而不是静默忽略，测试会按 bus.AllEventTypes 兜底校验。
func Translate(e bus.Event) ([]BroadcastSpec, error) {
	switch e.Type {
	case bus.EventMessageSent:
		p, err := bus.DecodePayload[bus.MessageSent](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.Message.ChatID), Event: EventMessageNew, Payload: p,
		}}, nil

	case bus.EventMessageEdited:
		p, err := bus.DecodePayload[bus.MessageEdited](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.Message.ChatID), Event: EventMessageEdit, Payload: p,
		}}, nil

	case bus.EventMessageReacted:
		// 反应后的消息整条重发，客户端按 edit 合并
		p, err := bus.DecodePayload[bus.MessageReacted](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.Message.ChatID), Event: EventMessageEdit,
			Payload: bus.MessageEdited{Message: p.Message},
		}}, nil

	case bus.EventMessageDeleted:
		p, err := bus.DecodePayload[bus.MessageDeleted](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.ChatID), Event: EventMessageDelete,
			Payload: MessageDelete{MessageID: p.MessageID, ChatID: p.ChatID, UserID: p.UserID},
		}}, nil

	case bus.EventMessageDelivered:
		p, err := bus.DecodePayload[bus.MessageDelivered](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.ChatID), Event: EventReceiptDelivered,
			Payload: ReceiptDelivered{MessageID: p.MessageID, ChatID: p.ChatID, UserID: p.UserID},
		}}, nil

	case bus.EventMessageRead:
		p, err := bus.DecodePayload[bus.MessageRead](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.ChatID), Event: EventReceiptRead,
			Payload: ReceiptRead{ChatID: p.ChatID, MessageIDs: p.MessageIDs, UserID: p.UserID},
		}}, nil

	case bus.EventChatCreated:
		// 新会话通知每个参与者的个人组（他们还没进房间）
		p, err := bus.DecodePayload[bus.ChatCreated](e)
		if err != nil {
			return nil, err
		}
		out := make([]BroadcastSpec, 0, len(p.Chat.ParticipantIDs))
		for _, uid := range p.Chat.ParticipantIDs {
			out = append(out, BroadcastSpec{
				Group: UserGroup(uid), Event: EventChatJoined,
				Payload: ChatPayloadOut{Chat: p.Chat},
			})
		}
		return out, nil

	case bus.EventChatUpdated:
		p, err := bus.DecodePayload[bus.ChatUpdated](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.Chat.ID), Event: EventChatUpdated,
			Payload: ChatPayloadOut{Chat: p.Chat},
		}}, nil

	case bus.EventChatMemberAdded:
		// 双路：房间收 chat:updated，被拉的人个人组收 chat:joined
		p, err := bus.DecodePayload[bus.ChatMemberAdded](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{
			{Group: ChatGroup(p.Chat.ID), Event: EventChatUpdated, Payload: ChatPayloadOut{Chat: p.Chat}},
			{Group: UserGroup(p.UserID), Event: EventChatJoined, Payload: ChatPayloadOut{Chat: p.Chat}},
		}, nil

	case bus.EventChatMemberGone:
		p, err := bus.DecodePayload[bus.ChatMemberRemoved](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{
			{Group: ChatGroup(p.Chat.ID), Event: EventChatUpdated, Payload: ChatPayloadOut{Chat: p.Chat}},
			{Group: UserGroup(p.UserID), Event: EventChatLeft, Payload: ChatAck{ChatID: p.Chat.ID}},
		}, nil

	case bus.EventUserOnline:
		// 上线广播到全部连接。范围问题（联系人级 presence）是策略决定，
		// 改这里一处即可，见 DESIGN.md。
		p, err := bus.DecodePayload[bus.UserOnline](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: GroupAll, Event: EventPresenceUpdate,
			Payload: PresenceUpdate{UserID: p.UserID, Online: true},
		}}, nil

	case bus.EventUserOffline:
		p, err := bus.DecodePayload[bus.UserOffline](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: GroupAll, Event: EventPresenceUpdate,
			Payload: PresenceUpdate{UserID: p.UserID, Online: false, LastSeen: p.LastSeen},
		}}, nil

	case bus.EventUserTyping:
		p, err := bus.DecodePayload[bus.UserTyping](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.ChatID), Event: EventTypingUpdate,
			Payload:     TypingUpdate{ChatID: p.ChatID, UserID: p.UserID, IsTyping: true},
			ExcludeUser: p.UserID,
		}}, nil

	case bus.EventUserStopTyping:
		p, err := bus.DecodePayload[bus.UserStopTyping](e)
		if err != nil {
			return nil, err
		}
		return []BroadcastSpec{{
			Group: ChatGroup(p.ChatID), Event: EventTypingUpdate,
			Payload:     TypingUpdate{ChatID: p.ChatID, UserID: p.UserID, IsTyping: false},
			ExcludeUser: p.UserID,
		}}, nil
	}
	return nil, fmt.Errorf("unhandled event type: %s", e.Type)
}

// AttachTranslator 把策略表挂到总线上，翻译结果交给 bridge 投递。
func AttachTranslator(b *bus.Bus, br *Bridge) {
	b.SubscribeAll(func(ctx context.Context, e bus.Event) error {
		specs, err := Translate(e)
		if err != nil {
			logger.Errorf("[translator] %v", err)
			return err
		}
		for _, sp := range specs {
			opts := []BroadcastOpt{}
			if sp.ExcludeUser != "" {
				opts = append(opts, ExcludeUser(sp.ExcludeUser))
			}
			if err := br.Broadcast(sp.Group, sp.Event, sp.Payload, opts...); err != nil {
				logger.Errorf("[translator] broadcast failed group=%s event=%s err=%v", sp.Group, sp.Event, err)
			}
		}
		return nil
	})
}
