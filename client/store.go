package client

import (
	"encoding/json"
	"sort"
	"sync"

	"WaveIM/logger"
	"WaveIM/service/bus"
)

// Store is the single source of truth on the client side. All merges go
// through Apply under one mutex, so renderers never observe a partial
// update. Every merge is idempotent: the gateway promises at-least-once,
// not exactly-once.
type Store struct {
	mu sync.Mutex

	selfID string

	chats    map[string]bus.Chat
	messages map[string][]bus.Message       // chatId -> confirmed, ordered by CreatedAt then ID
	pending  map[string]PendingMessage      // tempId -> placeholder
	typing   map[string]map[string]struct{} // chatId -> userIds currently typing
	presence map[string]Presence            // userId -> last known presence

	connected    bool
	disconnected bool   // permanent: retry budget exhausted
	connID       string // server-assigned id of the current connection
}

// PendingMessage is the optimistic placeholder for a just-sent message.
// It lives only for the ack/broadcast round trip.
type PendingMessage struct {
	TempID  string
	Message bus.Message // same shape as confirmed, provisional status
}

type Presence struct {
	Online   bool
	LastSeen int64
}

func NewStore(selfID string) *Store {
	return &Store{
		selfID:   selfID,
		chats:    make(map[string]bus.Chat),
		messages: make(map[string][]bus.Message),
		pending:  make(map[string]PendingMessage),
		typing:   make(map[string]map[string]struct{}),
		presence: make(map[string]Presence),
	}
}

// ===== inbound merge =====

// Apply merges one inbound event frame. Unknown events are logged and
// dropped; a malformed payload never corrupts existing state.
func (s *Store) Apply(f EventFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.Event {
	case evAuthAck:
		var p authAck
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.connected = true
		s.disconnected = false
		s.connID = p.ConnID

	case evMessageAck:
		var p messageAck
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.resolveMessage(p.Message, p.TempID)

	case evMessageNew:
		var p messageNew
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.resolveMessage(p.Message, p.TempID)

	case evMessageEdit:
		var p messageEdit
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.patchMessage(p.Message)

	case evMessageDelete:
		var p messageDelete
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		// Per-viewer soft delete: the persisted record only hides the
		// message for the deleter, so only the deleter's own clients
		// drop it. Everyone else ignores the event and stays consistent
		// with what a reload would show.
		if p.UserID != s.selfID {
			return
		}
		s.removeMessage(p.ChatID, p.MessageID)

	case evReceiptDlv:
		var p receiptDelivered
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.upgradeStatus(p.ChatID, []string{p.MessageID}, bus.StatusDelivered)

	case evReceiptRead:
		var p receiptRead
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.upgradeStatus(p.ChatID, p.MessageIDs, bus.StatusRead)

	case evTypingUpdate:
		var p typingUpdate
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.mergeTyping(p)

	case evChatJoined, evChatUpdated:
		var p chatPayload
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		s.chats[p.Chat.ID] = p.Chat

	case evChatLeft:
		var p chatLeft
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		delete(s.chats, p.ChatID)
		delete(s.messages, p.ChatID)
		delete(s.typing, p.ChatID)

	case evPresence:
		var p presenceUpdate
		if !decodeInto(f.Data, &p, f.Event) {
			return
		}
		// Last write wins; presence is advisory.
		s.presence[p.UserID] = Presence{Online: p.Online, LastSeen: p.LastSeen}

	case evHelloAck, evError:
		// hello:ack carries nothing to merge; errors are surfaced by the
		// transport's OnError hook.

	default:
		logger.Debug("client store: unknown event " + f.Event)
	}
}

// resolveMessage handles both the direct ack and the room broadcast: the
// first one to arrive resolves the pending placeholder, the second is a
// no-op thanks to the check-by-id.
func (s *Store) resolveMessage(msg bus.Message, tempID string) {
	if tempID != "" {
		delete(s.pending, tempID)
	} else {
		// Fallback: an ack was lost and the broadcast carries no temp id.
		// Match a pending entry by chat + body from ourselves.
		for tid, pm := range s.pending {
			if pm.Message.ChatID == msg.ChatID &&
				pm.Message.SenderID == msg.SenderID &&
				pm.Message.Body == msg.Body {
				delete(s.pending, tid)
				break
			}
		}
	}
	s.insertIfAbsent(msg)
}

func (s *Store) insertIfAbsent(msg bus.Message) {
	list := s.messages[msg.ChatID]
	for _, m := range list {
		if m.ID == msg.ID {
			return // duplicate delivery
		}
	}
	list = append(list, msg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	s.messages[msg.ChatID] = list
}

// patchMessage updates in place; a message outside the loaded window is
// a no-op, not an error.
func (s *Store) patchMessage(msg bus.Message) {
	list := s.messages[msg.ChatID]
	for i := range list {
		if list[i].ID == msg.ID {
			// keep the higher of the two statuses, the rest is authoritative
			if statusRank(list[i].Status) > statusRank(msg.Status) {
				msg.Status = list[i].Status
			}
			list[i] = msg
			return
		}
	}
}

func (s *Store) removeMessage(chatID, messageID string) {
	list := s.messages[chatID]
	for i := range list {
		if list[i].ID == messageID {
			s.messages[chatID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func statusRank(st string) int {
	switch st {
	case bus.StatusRead:
		return 3
	case bus.StatusDelivered:
		return 2
	case bus.StatusSent:
		return 1
	}
	return 0
}

// upgradeStatus applies a monotonic transition: sent -> delivered -> read.
// A delivered receipt for an already-read message must not regress it.
func (s *Store) upgradeStatus(chatID string, messageIDs []string, newStatus string) {
	list := s.messages[chatID]
	want := statusRank(newStatus)
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	for i := range list {
		if _, ok := ids[list[i].ID]; !ok {
			continue
		}
		if statusRank(list[i].Status) < want {
			list[i].Status = newStatus
		}
	}
}

func (s *Store) mergeTyping(p typingUpdate) {
	set := s.typing[p.ChatID]
	if p.IsTyping {
		if set == nil {
			set = make(map[string]struct{})
			s.typing[p.ChatID] = set
		}
		set[p.UserID] = struct{}{}
		return
	}
	if set == nil {
		return
	}
	delete(set, p.UserID)
	if len(set) == 0 {
		// drop the empty set so "anyone typing?" stays an existence check
		delete(s.typing, p.ChatID)
	}
}

// ===== optimistic local state =====

// AddPending registers the optimistic placeholder before the send action
// goes out.
func (s *Store) AddPending(pm PendingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[pm.TempID] = pm
}

// FailPending drops a placeholder after an explicit send failure.
func (s *Store) FailPending(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, tempID)
}

// ===== connection flags =====

func (s *Store) setConnected(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = ok
}

func (s *Store) setPermanentlyDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnected = true
}

func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnected reports the terminal state after the retry budget ran out.
func (s *Store) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// ConnID is the server-assigned id from the latest auth ack. A reconnect
// gets a fresh one.
func (s *Store) ConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// ===== snapshots (copies, safe for rendering) =====

func (s *Store) Messages(chatID string) []bus.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bus.Message(nil), s.messages[chatID]...)
}

func (s *Store) PendingFor(chatID string) []PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingMessage, 0, 2)
	for _, pm := range s.pending {
		if pm.Message.ChatID == chatID {
			out = append(out, pm)
		}
	}
	return out
}

func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) TypingUsers(chatID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[chatID]
	out := make([]string, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func (s *Store) AnyoneTyping(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.typing[chatID]
	return ok
}

func (s *Store) PresenceOf(userID string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presence[userID]
	return p, ok
}

func (s *Store) Chat(chatID string) (bus.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return c, ok
}

func decodeInto(raw json.RawMessage, out any, event string) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warnf("client store: drop malformed %s payload: %v", event, err)
		return false
	}
	return true
}
