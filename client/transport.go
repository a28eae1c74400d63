package client

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"WaveIM/logger"
	"WaveIM/service/bus"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client owns one logical gateway connection. On drop it retries with
// exponential backoff up to MaxRetries, then goes permanently
// disconnected; state keeps rendering from the store either way.

type Config struct {
	URL        string // ws://host/ws
	Token      string
	UserID     string // subject baked into Token, used for self-delete checks
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// OnError receives scoped error frames from the gateway. Optional.
	OnError func(msg string, code int)
}

func (c *Config) norm() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 6
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
}

type Client struct {
	conf  Config
	store *Store

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
	gen    int // connection generation, stale loops bail out

	done chan struct{}
}

var ErrNotConnected = errors.New("client: not connected")

func New(conf Config) *Client {
	conf.norm()
	return &Client{
		conf:  conf,
		store: NewStore(conf.UserID),
		done:  make(chan struct{}),
	}
}

// Store exposes the reconciliation store for rendering.
func (c *Client) Store() *Store { return c.store }

// Connect dials, authenticates and starts the read loop. Blocks until
// the first auth round trip completes or fails.
func (c *Client) Connect() error {
	ws, err := c.dial()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ws = ws
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.store.setConnected(true)
	go c.readLoop(ws, gen)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(c.conf.URL, nil)
	if err != nil {
		return nil, err
	}

	// First frame must be auth; anything else gets the connection closed.
	if err := ws.WriteJSON(ActionFrame{
		Action: "auth",
		Data:   map[string]any{"token": c.conf.Token},
	}); err != nil {
		_ = ws.Close()
		return nil, err
	}

	var f EventFrame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if f.Event == evError {
		_ = ws.Close()
		var p errorPayload
		_ = json.Unmarshal(f.Data, &p)
		return nil, errors.New("client: auth rejected: " + p.Message)
	}
	if f.Event != evAuthAck {
		_ = ws.Close()
		return nil, errors.New("client: unexpected first frame " + f.Event)
	}
	c.store.Apply(f)
	return ws, nil
}

func (c *Client) readLoop(ws *websocket.Conn, gen int) {
	for {
		var f EventFrame
		if err := ws.ReadJSON(&f); err != nil {
			c.onDrop(ws, gen, err)
			return
		}
		if f.Event == evError {
			var p errorPayload
			if json.Unmarshal(f.Data, &p) == nil && c.conf.OnError != nil {
				c.conf.OnError(p.Message, p.Code)
			}
			continue
		}
		c.store.Apply(f)
	}
}

// onDrop runs the reconnect ladder. Only the loop of the live
// generation gets to reconnect, so a Close racing a network error never
// spawns a second transport.
func (c *Client) onDrop(ws *websocket.Conn, gen int, cause error) {
	_ = ws.Close()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.mu.Unlock()

	c.store.setConnected(false)
	logger.Warnf("[client] connection dropped: %v", cause)

	delay := c.conf.BaseDelay
	for attempt := 1; attempt <= c.conf.MaxRetries; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		nws, err := c.dial()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = nws.Close()
				return
			}
			c.ws = nws
			c.gen++
			ngen := c.gen
			c.mu.Unlock()

			c.store.setConnected(true)
			logger.Infof("[client] reconnected after %d attempt(s)", attempt)
			go c.readLoop(nws, ngen)
			return
		}

		logger.Warnf("[client] reconnect attempt %d failed: %v", attempt, err)
		delay *= 2
		if delay > c.conf.MaxDelay {
			delay = c.conf.MaxDelay
		}
	}

	logger.Error("[client] retry budget exhausted, giving up")
	c.store.setPermanentlyDisconnected()
}

// Close shuts the transport down for good. No reconnect follows.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	close(c.done)
	if ws != nil {
		_ = ws.Close()
	}
	c.store.setConnected(false)
}

// ===== outbound actions =====

func (c *Client) send(action string, data any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	return ws.WriteJSON(ActionFrame{Action: action, Data: data})
}

// SendMessage registers an optimistic placeholder keyed by a fresh
// tempId, then fires message:send. The ack (or the room broadcast)
// later swaps the placeholder for the authoritative record.
func (c *Client) SendMessage(chatID, body, mediaID, replyToID string) (string, error) {
	tempID := "t-" + uuid.NewString()
	c.store.AddPending(PendingMessage{
		TempID:  tempID,
		Message: messageDraft(chatID, c.conf.UserID, body, mediaID, replyToID),
	})
	err := c.send("message:send", map[string]any{
		"chatId":    chatID,
		"body":      body,
		"mediaId":   mediaID,
		"replyToId": replyToID,
		"tempId":    tempID,
	})
	if err != nil {
		c.store.FailPending(tempID)
		return "", err
	}
	return tempID, nil
}

func (c *Client) MarkRead(messageIDs []string) error {
	return c.send("message:read", map[string]any{"messageIds": messageIDs})
}

func (c *Client) SetReaction(messageID, emoji string) error {
	return c.send("reaction:set", map[string]any{"messageId": messageID, "emoji": emoji})
}

func (c *Client) TypingStart(chatID string) error {
	return c.send("typing:start", map[string]any{"chatId": chatID})
}

func (c *Client) TypingStop(chatID string) error {
	return c.send("typing:stop", map[string]any{"chatId": chatID})
}

func (c *Client) JoinChat(chatID string) error {
	return c.send("chat:join", map[string]any{"chatId": chatID})
}

func (c *Client) LeaveChat(chatID string) error {
	return c.send("chat:leave", map[string]any{"chatId": chatID})
}

func (c *Client) CreateChat(chatType string, participantIDs []string, title string) error {
	return c.send("chat:create", map[string]any{
		"type": chatType, "participantIds": participantIDs, "title": title,
	})
}

func (c *Client) Hello() error {
	return c.send("hello", nil)
}

// messageDraft builds the provisional record shown while the send is in
// flight. No ID yet; the server assigns one.
func messageDraft(chatID, senderID, body, mediaID, replyToID string) bus.Message {
	return bus.Message{
		ChatID:    chatID,
		SenderID:  senderID,
		Body:      body,
		MediaID:   mediaID,
		ReplyToID: replyToID,
		Status:    bus.StatusSent,
		CreatedAt: time.Now().UnixMilli(),
	}
}
