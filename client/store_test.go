package client

import (
	"encoding/json"
	"testing"

	"WaveIM/service/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(t *testing.T, event string, payload any) EventFrame {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return EventFrame{Event: event, Data: raw}
}

func msg(id, chatID, senderID, body string, createdAt int64) bus.Message {
	return bus.Message{
		ID: id, ChatID: chatID, SenderID: senderID,
		Body: body, Status: bus.StatusSent, CreatedAt: createdAt,
	}
}

// ack 与房间广播谁先到都一样：占位被解掉，消息只出现一次。
func TestStorePendingResolvedByAck(t *testing.T) {
	s := NewStore("me")
	s.AddPending(PendingMessage{TempID: "t1", Message: msg("", "c1", "me", "hi", 100)})
	require.Equal(t, 1, s.PendingCount())

	m := msg("m1", "c1", "me", "hi", 100)
	s.Apply(ev(t, evMessageAck, messageAck{TempID: "t1", MessageID: "m1", Message: m}))

	assert.Zero(t, s.PendingCount())
	got := s.Messages("c1")
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	// 随后到达的房间广播按 id 去重
	s.Apply(ev(t, evMessageNew, messageNew{Message: m, TempID: "t1"}))
	assert.Len(t, s.Messages("c1"), 1)
}

func TestStoreBroadcastBeforeAck(t *testing.T) {
	s := NewStore("me")
	s.AddPending(PendingMessage{TempID: "t1", Message: msg("", "c1", "me", "hi", 100)})

	m := msg("m1", "c1", "me", "hi", 100)
	s.Apply(ev(t, evMessageNew, messageNew{Message: m, TempID: "t1"}))
	assert.Zero(t, s.PendingCount())
	assert.Len(t, s.Messages("c1"), 1)

	s.Apply(ev(t, evMessageAck, messageAck{TempID: "t1", MessageID: "m1", Message: m}))
	assert.Len(t, s.Messages("c1"), 1)
}

func TestStoreDuplicateDeliveryIdempotent(t *testing.T) {
	s := NewStore("me")
	m := msg("m1", "c1", "u2", "hey", 100)
	f := ev(t, evMessageNew, messageNew{Message: m})
	s.Apply(f)
	s.Apply(f)
	s.Apply(f)
	assert.Len(t, s.Messages("c1"), 1)
}

func TestStoreMessagesOrderedByCreatedAt(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m2", "c1", "u2", "b", 200)}))
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "u2", "a", 100)}))
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m3", "c1", "u2", "c", 300)}))

	got := s.Messages("c1")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

// sent -> delivered -> read 单调，不回退。
func TestStoreStatusMonotonic(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "me", "hi", 100)}))

	s.Apply(ev(t, evReceiptRead, receiptRead{ChatID: "c1", MessageIDs: []string{"m1"}, UserID: "u2"}))
	require.Equal(t, bus.StatusRead, s.Messages("c1")[0].Status)

	// 晚到的 delivered 回执不得把 read 打回去
	s.Apply(ev(t, evReceiptDlv, receiptDelivered{MessageID: "m1", ChatID: "c1", UserID: "u2"}))
	assert.Equal(t, bus.StatusRead, s.Messages("c1")[0].Status)
}

func TestStoreDeliveredUpgradesSent(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "me", "hi", 100)}))
	s.Apply(ev(t, evReceiptDlv, receiptDelivered{MessageID: "m1", ChatID: "c1", UserID: "u2"}))
	assert.Equal(t, bus.StatusDelivered, s.Messages("c1")[0].Status)
}

func TestStoreEditKeepsHigherStatus(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "me", "hi", 100)}))
	s.Apply(ev(t, evReceiptRead, receiptRead{ChatID: "c1", MessageIDs: []string{"m1"}, UserID: "u2"}))

	edited := msg("m1", "c1", "me", "hi (edited)", 100)
	s.Apply(ev(t, evMessageEdit, messageEdit{Message: edited}))

	got := s.Messages("c1")[0]
	assert.Equal(t, "hi (edited)", got.Body)
	assert.Equal(t, bus.StatusRead, got.Status, "edit must not regress receipt status")
}

// 软删是按人的：只有删除者自己的客户端移除消息。
func TestStoreDeleteOnlyForDeleter(t *testing.T) {
	mine := NewStore("me")
	theirs := NewStore("other")
	m := msg("m1", "c1", "me", "oops", 100)
	mine.Apply(ev(t, evMessageNew, messageNew{Message: m}))
	theirs.Apply(ev(t, evMessageNew, messageNew{Message: m}))

	del := ev(t, evMessageDelete, messageDelete{MessageID: "m1", ChatID: "c1", UserID: "me"})
	mine.Apply(del)
	theirs.Apply(del)

	assert.Empty(t, mine.Messages("c1"))
	assert.Len(t, theirs.Messages("c1"), 1)
}

func TestStoreTypingSetLifecycle(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evTypingUpdate, typingUpdate{ChatID: "c1", UserID: "u1", IsTyping: true}))
	s.Apply(ev(t, evTypingUpdate, typingUpdate{ChatID: "c1", UserID: "u2", IsTyping: true}))
	assert.Equal(t, []string{"u1", "u2"}, s.TypingUsers("c1"))
	assert.True(t, s.AnyoneTyping("c1"))

	s.Apply(ev(t, evTypingUpdate, typingUpdate{ChatID: "c1", UserID: "u1", IsTyping: false}))
	assert.Equal(t, []string{"u2"}, s.TypingUsers("c1"))

	// 最后一人停止：集合整个删掉，存在性检查归零
	s.Apply(ev(t, evTypingUpdate, typingUpdate{ChatID: "c1", UserID: "u2", IsTyping: false}))
	assert.False(t, s.AnyoneTyping("c1"))
	assert.Empty(t, s.TypingUsers("c1"))

	// 没在打字的人发 stop 是 no-op
	s.Apply(ev(t, evTypingUpdate, typingUpdate{ChatID: "c1", UserID: "u9", IsTyping: false}))
	assert.False(t, s.AnyoneTyping("c1"))
}

func TestStorePresenceLastWriteWins(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evPresence, presenceUpdate{UserID: "u1", Online: true}))
	p, ok := s.PresenceOf("u1")
	require.True(t, ok)
	assert.True(t, p.Online)

	s.Apply(ev(t, evPresence, presenceUpdate{UserID: "u1", Online: false, LastSeen: 555}))
	p, _ = s.PresenceOf("u1")
	assert.False(t, p.Online)
	assert.EqualValues(t, 555, p.LastSeen)
}

func TestStoreChatJoinedAndLeft(t *testing.T) {
	s := NewStore("me")
	c := bus.Chat{ID: "c1", Type: "group", ParticipantIDs: []string{"me", "u2"}}
	s.Apply(ev(t, evChatJoined, chatPayload{Chat: c}))
	got, ok := s.Chat("c1")
	require.True(t, ok)
	assert.Equal(t, "group", got.Type)

	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "u2", "hi", 100)}))
	s.Apply(ev(t, evChatLeft, chatLeft{ChatID: "c1"}))
	_, ok = s.Chat("c1")
	assert.False(t, ok)
	assert.Empty(t, s.Messages("c1"))
}

func TestStoreMalformedPayloadIgnored(t *testing.T) {
	s := NewStore("me")
	s.Apply(ev(t, evMessageNew, messageNew{Message: msg("m1", "c1", "u2", "hi", 100)}))

	s.Apply(EventFrame{Event: evMessageNew, Data: []byte(`{"message": 42`)})
	s.Apply(EventFrame{Event: "totally:unknown", Data: []byte(`{}`)})

	assert.Len(t, s.Messages("c1"), 1)
}

func TestStoreFailPending(t *testing.T) {
	s := NewStore("me")
	s.AddPending(PendingMessage{TempID: "t1", Message: msg("", "c1", "me", "hi", 100)})
	s.FailPending("t1")
	assert.Zero(t, s.PendingCount())
	assert.Empty(t, s.PendingFor("c1"))
}

func TestStoreConnectionFlags(t *testing.T) {
	s := NewStore("me")
	assert.False(t, s.Connected())

	s.Apply(ev(t, evAuthAck, authAck{UserID: "me", ConnID: "c1"}))
	assert.True(t, s.Connected())
	assert.False(t, s.Disconnected())
	assert.Equal(t, "c1", s.ConnID())

	s.setPermanentlyDisconnected()
	assert.False(t, s.Connected())
	assert.True(t, s.Disconnected())

	// 重连成功会清掉终态标记，换上新的连接ID
	s.Apply(ev(t, evAuthAck, authAck{UserID: "me", ConnID: "c2"}))
	assert.True(t, s.Connected())
	assert.False(t, s.Disconnected())
	assert.Equal(t, "c2", s.ConnID())
}
