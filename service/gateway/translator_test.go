package gateway

import (
	"testing"

	"WaveIM/service/bus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 翻译表必须穷举全部事件类型：任何新类型落地前先进这张表。
func TestTranslateCoversAllEventTypes(t *testing.T) {
	payloads := map[bus.EventType]any{
		bus.EventMessageSent:      bus.MessageSent{Message: bus.Message{ID: "m1", ChatID: "c1"}},
		bus.EventMessageEdited:    bus.MessageEdited{Message: bus.Message{ID: "m1", ChatID: "c1"}},
		bus.EventMessageDeleted:   bus.MessageDeleted{MessageID: "m1", ChatID: "c1", UserID: "u1"},
		bus.EventMessageReacted:   bus.MessageReacted{Message: bus.Message{ID: "m1", ChatID: "c1"}},
		bus.EventMessageRead:      bus.MessageRead{ChatID: "c1", MessageIDs: []string{"m1"}, UserID: "u1"},
		bus.EventMessageDelivered: bus.MessageDelivered{MessageID: "m1", ChatID: "c1", UserID: "u1"},
		bus.EventChatCreated:      bus.ChatCreated{Chat: bus.Chat{ID: "c1", ParticipantIDs: []string{"u1", "u2"}}},
		bus.EventChatUpdated:      bus.ChatUpdated{Chat: bus.Chat{ID: "c1"}},
		bus.EventChatMemberAdded:  bus.ChatMemberAdded{Chat: bus.Chat{ID: "c1"}, UserID: "u3"},
		bus.EventChatMemberGone:   bus.ChatMemberRemoved{Chat: bus.Chat{ID: "c1"}, UserID: "u3"},
		bus.EventUserOnline:       bus.UserOnline{UserID: "u1"},
		bus.EventUserOffline:      bus.UserOffline{UserID: "u1", LastSeen: 123},
		bus.EventUserTyping:       bus.UserTyping{ChatID: "c1", UserID: "u1"},
		bus.EventUserStopTyping:   bus.UserStopTyping{ChatID: "c1", UserID: "u1"},
	}

	for _, et := range bus.AllEventTypes {
		payload, ok := payloads[et]
		require.True(t, ok, "test payload missing for %s", et)
		e, err := bus.NewEvent(et, payload)
		require.NoError(t, err)
		specs, err := Translate(e)
		require.NoError(t, err, "Translate must handle %s", et)
		require.NotEmpty(t, specs, "%s must produce at least one broadcast", et)
	}
}

func TestTranslateUnknownTypeIsError(t *testing.T) {
	e, err := bus.NewEvent(bus.EventType("bogus.event"), struct{}{})
	require.NoError(t, err)
	_, err = Translate(e)
	assert.Error(t, err)
}

func TestTranslateMessageSentTargetsRoom(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventMessageSent, bus.MessageSent{
		Message: bus.Message{ID: "m1", ChatID: "c1", SenderID: "u1"},
		TempID:  "t-1",
	})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, ChatGroup("c1"), specs[0].Group)
	assert.Equal(t, EventMessageNew, specs[0].Event)
	assert.Empty(t, specs[0].ExcludeUser, "room broadcast includes the sender's other devices")
}

func TestTranslateTypingExcludesSender(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventUserTyping, bus.UserTyping{ChatID: "c1", UserID: "u1"})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, ChatGroup("c1"), specs[0].Group)
	assert.Equal(t, "u1", specs[0].ExcludeUser)
	tu, ok := specs[0].Payload.(TypingUpdate)
	require.True(t, ok)
	assert.True(t, tu.IsTyping)

	e2, _ := bus.NewEvent(bus.EventUserStopTyping, bus.UserStopTyping{ChatID: "c1", UserID: "u1"})
	specs2, err := Translate(e2)
	require.NoError(t, err)
	tu2 := specs2[0].Payload.(TypingUpdate)
	assert.False(t, tu2.IsTyping)
}

func TestTranslateChatCreatedFansToParticipants(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventChatCreated, bus.ChatCreated{
		Chat: bus.Chat{ID: "c1", ParticipantIDs: []string{"u1", "u2", "u3"}},
	})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	groups := make([]string, 0, 3)
	for _, sp := range specs {
		groups = append(groups, sp.Group)
		assert.Equal(t, EventChatJoined, sp.Event)
	}
	assert.ElementsMatch(t, []string{UserGroup("u1"), UserGroup("u2"), UserGroup("u3")}, groups)
}

func TestTranslateMemberAddedDualRoute(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventChatMemberAdded, bus.ChatMemberAdded{
		Chat: bus.Chat{ID: "c1"}, UserID: "u9",
	})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, ChatGroup("c1"), specs[0].Group)
	assert.Equal(t, EventChatUpdated, specs[0].Event)
	assert.Equal(t, UserGroup("u9"), specs[1].Group)
	assert.Equal(t, EventChatJoined, specs[1].Event)
}

func TestTranslatePresenceGoesToAll(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventUserOffline, bus.UserOffline{UserID: "u1", LastSeen: 42})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, GroupAll, specs[0].Group)
	pu := specs[0].Payload.(PresenceUpdate)
	assert.False(t, pu.Online)
	assert.EqualValues(t, 42, pu.LastSeen)
}

func TestTranslateReactionReusesEditFrame(t *testing.T) {
	e, _ := bus.NewEvent(bus.EventMessageReacted, bus.MessageReacted{
		Message: bus.Message{ID: "m1", ChatID: "c1"},
	})
	specs, err := Translate(e)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, EventMessageEdit, specs[0].Event)
}

func TestTranslateBadPayloadIsError(t *testing.T) {
	e := bus.Event{Type: bus.EventMessageSent, Data: []byte(`{"message": "not-an-object"`)}
	_, err := Translate(e)
	assert.Error(t, err)
}
