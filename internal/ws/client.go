package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"studylib/internal/constants"
	"studylib/internal/db"
	"studylib/internal/models"
	"studylib/internal/presence"
)

// ClientState represents the lifecycle state of a WebSocket client
type ClientState int32

const (
	ClientStateConnected  ClientState = iota // WS connected, awaiting IDENTIFY
	ClientStateIdentified                    // Authenticated, processing commands
	ClientStateClosing                       // Shutdown initiated
	ClientStateClosed                        // Terminal
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 10 * time.Second

	// Maximum frame size allowed from peer
	maxFrameSize = 16384

	// Timeout for hub registration
	registerTimeout = 5 * time.Second

	// Timeout for store calls made while handling a command
	storeTimeout = 5 * time.Second

	// 5 messages per second
	messageRateLimit = 200 * time.Millisecond
)

// Client represents a single WebSocket connection
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan *WSMessage
	sendMu        sync.Mutex
	sendClosed    bool
	connCloseOnce sync.Once

	state atomic.Int32

	// Account info (populated after IDENTIFY)
	account   *models.Account
	mu        sync.RWMutex // Protects status
	status    string       // online, idle, dnd, offline
	sessionID string

	// DroppedMessages tracks how many messages have been dropped due to full buffer
	DroppedMessages int64

	// Only accessed from the ReadPump goroutine.
	lastMessage time.Time
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan *WSMessage, constants.WSClientSendBufferSize),
		status: presence.StatusOnline,
	}
	c.state.Store(int32(ClientStateConnected))
	return c
}

// Close performs cleanup for the client, ensuring it only happens once
func (c *Client) Close() {
	if !c.transitionTo(ClientStateClosing) {
		c.connCloseOnce.Do(func() { c.conn.Close() })
		return
	}
	c.connCloseOnce.Do(func() { c.conn.Close() })
	c.transitionTo(ClientStateClosed)
}

// enqueue queues msg without blocking. It reports false when the buffer is
// full or the client has been torn down.
func (c *Client) enqueue(msg *WSMessage) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) ReadPump() {
	defer func() {
		if c.account != nil {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.shutdown:
			}
		}
		c.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "component", "ws", "account_id", c.getAccountID(), "error", err)
			}
			break
		}

		var msg inboundMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			slog.Debug("malformed frame", "component", "ws", "account_id", c.getAccountID(), "error", err)
			continue
		}

		c.handleMessage(&msg)
		if c.IsClosed() {
			break
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				slog.Debug("websocket write error", "component", "ws", "account_id", c.getAccountID(), "error", err)
				return
			}

		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.IsIdentified() {
				// Keeps the presence entry alive while connected.
				c.hub.setPresence(c.account.ID, c.GetStatus())
			}
		}
	}
}

func (c *Client) getAccountID() string {
	if c.account != nil {
		return c.account.ID
	}
	return "unknown"
}

// SendHello sends the HELLO message to initiate the connection
func (c *Client) SendHello() {
	c.enqueue(&WSMessage{Op: OpHello, Data: HelloPayload{ProtocolVersion: ProtocolVersion}})
}

func (c *Client) sendError(code, message, nonce string) {
	c.enqueue(&WSMessage{
		Op:   OpDispatch,
		Type: EventError,
		Data: ErrorPayload{Code: code, Message: message, Nonce: nonce},
	})
}

func (c *Client) handleMessage(msg *inboundMessage) {
	switch msg.Op {
	case OpDispatch:
		c.handleDispatch(msg)
	default:
		slog.Debug("unknown op code", "component", "ws", "op", msg.Op)
	}
}

// handleDispatch routes DISPATCH messages by their type
func (c *Client) handleDispatch(msg *inboundMessage) {
	switch msg.Type {
	case CmdIdentify:
		c.handleIdentify(msg)
	case CmdMessageSend:
		c.handleMessageSend(msg)
	case CmdDMSend:
		c.handleDMSend(msg)
	case CmdPresenceSet:
		c.handlePresenceSet(msg)
	case CmdTyping:
		c.handleTyping(msg)
	default:
		slog.Debug("unknown dispatch type", "component", "ws", "type", msg.Type)
	}
}

func (c *Client) handleIdentify(msg *inboundMessage) {
	if c.State() != ClientStateConnected {
		return
	}

	var payload IdentifyPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Token == "" {
		c.sendError(ErrCodeAuthFailed, "Missing token", "")
		c.Close()
		return
	}

	claims, err := c.hub.jwtService.ValidateAccessToken(payload.Token)
	if err != nil {
		slog.Debug("identify with invalid token", "component", "ws", "error", err)
		c.sendError(ErrCodeAuthFailed, "Invalid token", "")
		c.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	account, err := c.hub.accounts.FindByID(ctx, claims.AccountID)
	cancel()
	if err != nil || !account.IsVerified {
		slog.Debug("identify for unknown or unverified account", "component", "ws", "account_id", claims.AccountID, "error", err)
		c.sendError(ErrCodeAuthFailed, "Account not available", "")
		c.Close()
		return
	}

	c.account = account

	if !c.transitionTo(ClientStateIdentified) {
		return // Race: already transitioned
	}
	c.sessionID = uuid.New().String()

	if payload.Presence != nil {
		switch payload.Presence.Status {
		case presence.StatusOnline, presence.StatusIdle, presence.StatusDND:
			c.SetStatus(payload.Presence.Status)
		}
	}

	// Register synchronously to ensure client is in members list before READY
	done := make(chan struct{})
	select {
	case c.hub.registerSync <- registerRequest{client: c, done: done}:
		select {
		case <-done:
		case <-time.After(registerTimeout):
			slog.Warn("registration timeout", "component", "ws", "account_id", account.ID)
			return
		}
	case <-time.After(registerTimeout):
		slog.Warn("registration send timeout", "component", "ws", "account_id", account.ID)
		return
	}

	summary := account.Summary()
	summary.OnlineStatus = c.GetStatus()
	c.enqueue(&WSMessage{
		Op: OpReady,
		Data: ReadyPayload{
			ProtocolVersion: ProtocolVersion,
			SessionID:       c.sessionID,
			User:            summary,
			Rooms:           c.hub.Rooms(),
			Members:         c.hub.GetOnlineMembers(),
		},
	})

	slog.Info("client identified", "component", "ws", "account_id", account.ID, "session_id", c.sessionID)
}

// prepareContent sanitizes content and enforces length and rate limits.
// It returns false after reporting the problem to the client.
func (c *Client) prepareContent(raw, nonce string) (string, bool) {
	content := strings.TrimSpace(c.hub.sanitizer.Sanitize(raw))
	if content == "" {
		c.sendError(ErrCodeInvalidRequest, "Message is empty", nonce)
		return "", false
	}
	if utf8.RuneCountInString(content) > c.hub.maxLength {
		c.sendError(ErrCodeMessageTooLong, "Message exceeds maximum length", nonce)
		return "", false
	}

	now := time.Now()
	if now.Sub(c.lastMessage) < messageRateLimit {
		c.sendError(ErrCodeRateLimited, "Sending too fast", nonce)
		return "", false
	}
	c.lastMessage = now
	return content, true
}

func (c *Client) handleMessageSend(msg *inboundMessage) {
	if !c.IsIdentified() {
		return
	}

	var payload MessageSendPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.sendError(ErrCodeInvalidRequest, "Malformed message", "")
		return
	}
	room := payload.Room
	if room == "" {
		room = models.GlobalRoom
	}
	if !c.hub.HasRoom(room) {
		c.sendError(ErrCodeRoomUnknown, "Unknown room", payload.Nonce)
		return
	}

	content, ok := c.prepareContent(payload.Content, payload.Nonce)
	if !ok {
		return
	}

	c.hub.BroadcastDispatchExcept(EventTypingStop, TypingStopPayload{UserID: c.account.ID, Room: room}, c)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	message, err := c.hub.messages.CreateRoomMessage(ctx, c.account.ID, room, content)
	if err != nil {
		slog.Error("storing room message", "component", "ws", "account_id", c.account.ID, "error", err)
		c.sendError(ErrCodeInternal, "Message could not be saved", payload.Nonce)
		return
	}
	c.hub.metrics.ChatMessage("room")

	c.hub.BroadcastDispatch(EventMessageCreate, c.messagePayload(message, payload.Nonce))
}

func (c *Client) handleDMSend(msg *inboundMessage) {
	if !c.IsIdentified() {
		return
	}

	var payload DMSendPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.To == "" {
		c.sendError(ErrCodeInvalidRequest, "Recipient is required", "")
		return
	}
	if payload.To == c.account.ID {
		c.sendError(ErrCodeRecipientUnknown, "Cannot message yourself", payload.Nonce)
		return
	}

	content, ok := c.prepareContent(payload.Content, payload.Nonce)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	recipient, err := c.hub.accounts.FindByID(ctx, payload.To)
	if errors.Is(err, db.ErrNotFound) || (err == nil && !recipient.IsVerified) {
		c.sendError(ErrCodeRecipientUnknown, "Unknown recipient", payload.Nonce)
		return
	}
	if err != nil {
		slog.Error("looking up dm recipient", "component", "ws", "account_id", c.account.ID, "error", err)
		c.sendError(ErrCodeInternal, "Message could not be sent", payload.Nonce)
		return
	}

	message, err := c.hub.messages.CreateDirectMessage(ctx, c.account.ID, recipient.ID, content)
	if err != nil {
		slog.Error("storing direct message", "component", "ws", "account_id", c.account.ID, "error", err)
		c.sendError(ErrCodeInternal, "Message could not be saved", payload.Nonce)
		return
	}
	c.hub.metrics.ChatMessage("direct")

	out := c.messagePayload(message, payload.Nonce)
	c.hub.SendDispatchToUser(recipient.ID, EventDMCreate, out)
	c.hub.SendDispatchToUser(c.account.ID, EventDMCreate, out)
}

func (c *Client) messagePayload(m *models.Message, nonce string) MessageCreatePayload {
	return MessageCreatePayload{
		ID:          m.ID,
		Room:        m.Room,
		RecipientID: m.RecipientID,
		Author: &MessageAuthor{
			ID:   c.account.ID,
			Name: c.account.Name,
		},
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Nonce:     nonce,
	}
}

func (c *Client) handlePresenceSet(msg *inboundMessage) {
	if !c.IsIdentified() {
		return
	}

	var payload PresenceSetPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil || !presence.ValidStatus(payload.Status) {
		return
	}

	c.SetStatus(payload.Status)
	c.hub.setPresence(c.account.ID, payload.Status)
	c.hub.BroadcastDispatch(EventPresenceUpdate, PresenceUpdatePayload{
		UserID: c.account.ID,
		Status: payload.Status,
	})
}

func (c *Client) handleTyping(msg *inboundMessage) {
	if !c.IsIdentified() {
		return
	}

	var payload TypingPayload
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &payload)
	}
	if payload.Room == "" {
		payload.Room = models.GlobalRoom
	}

	c.hub.BroadcastDispatchExcept(EventTypingStart, TypingStartPayload{
		UserID:    c.account.ID,
		Name:      c.account.Name,
		Room:      payload.Room,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, c)
}

// GetStatus returns the client's current presence status
func (c *Client) GetStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus sets the client's presence status
func (c *Client) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// State returns the current client state
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// IsIdentified returns true if the client is in the identified state
func (c *Client) IsIdentified() bool {
	return c.State() == ClientStateIdentified
}

// IsClosed returns true if the client is closing or closed
func (c *Client) IsClosed() bool {
	state := c.State()
	return state == ClientStateClosing || state == ClientStateClosed
}

// isValidClientTransition checks if a state transition is valid
func isValidClientTransition(from, to ClientState) bool {
	switch from {
	case ClientStateConnected:
		return to == ClientStateIdentified || to == ClientStateClosing
	case ClientStateIdentified:
		return to == ClientStateClosing
	case ClientStateClosing:
		return to == ClientStateClosed
	default:
		return false
	}
}

func (c *Client) transitionTo(newState ClientState) bool {
	for {
		current := ClientState(c.state.Load())
		if !isValidClientTransition(current, newState) {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(newState)) {
			return true
		}
	}
}

// CloseSend closes the send channel (called by hub during cleanup)
func (c *Client) CloseSend() {
	c.sendMu.Lock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
	c.sendMu.Unlock()

	c.Close()
}
