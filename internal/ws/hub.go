package ws

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"studylib/internal/auth"
	"studylib/internal/constants"
	"studylib/internal/metrics"
	"studylib/internal/models"
	"studylib/internal/presence"
)

const (
	// maxDroppedMessagesBeforeDisconnect is the threshold for disconnecting slow clients
	maxDroppedMessagesBeforeDisconnect = 100

	// presenceTimeout bounds calls into the presence tracker from the hub.
	presenceTimeout = 2 * time.Second
)

type AccountLookup interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type MessageStore interface {
	CreateRoomMessage(ctx context.Context, authorID, room, content string) (*models.Message, error)
	CreateDirectMessage(ctx context.Context, authorID, recipientID, content string) (*models.Message, error)
}

type Config struct {
	Rooms            []string
	MaxMessageLength int
	Metrics          *metrics.Metrics
}

// registerRequest is used for synchronous registration with a callback
type registerRequest struct {
	client *Client
	done   chan struct{}
}

type Hub struct {
	clients      map[*Client]bool
	userClients  map[string]*Client
	broadcast    chan *WSMessage
	registerSync chan registerRequest
	unregister   chan *Client
	shutdown     chan struct{}
	shutdownOnce sync.Once

	jwtService *auth.JWTService
	accounts   AccountLookup
	messages   MessageStore
	presence   presence.Tracker
	sanitizer  *bluemonday.Policy
	rooms      []string
	maxLength  int
	metrics    *metrics.Metrics

	sequence int64
	mu       sync.RWMutex
}

func NewHub(jwtService *auth.JWTService, accounts AccountLookup, messages MessageStore, tracker presence.Tracker, cfg Config) *Hub {
	rooms := cfg.Rooms
	if !slices.Contains(rooms, models.GlobalRoom) {
		rooms = append([]string{models.GlobalRoom}, rooms...)
	}
	maxLength := cfg.MaxMessageLength
	if maxLength <= 0 {
		maxLength = 4000
	}
	if tracker == nil {
		tracker = presence.NewMemoryTracker(2 * time.Minute)
	}

	return &Hub{
		clients:      make(map[*Client]bool),
		userClients:  make(map[string]*Client),
		broadcast:    make(chan *WSMessage, constants.WSBroadcastBufferSize),
		registerSync: make(chan registerRequest),
		unregister:   make(chan *Client),
		shutdown:     make(chan struct{}),
		jwtService:   jwtService,
		accounts:     accounts,
		messages:     messages,
		presence:     tracker,
		sanitizer:    bluemonday.StrictPolicy(),
		rooms:        rooms,
		maxLength:    maxLength,
		metrics:      cfg.Metrics,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.CloseSend()
				delete(h.clients, client)
			}
			h.userClients = make(map[string]*Client)
			h.mu.Unlock()
			slog.Info("shutdown complete", "component", "hub")
			return

		case req := <-h.registerSync:
			h.mu.Lock()
			h.clients[req.client] = true
			replaced := false
			if req.client.account != nil {
				accountID := req.client.account.ID
				if old, ok := h.userClients[accountID]; ok && old != req.client {
					// Notify old client before closing so it knows not to retry
					old.enqueue(&WSMessage{Op: OpInvalidSession, Data: InvalidSessionPayload{Resumable: false}})
					old.Close()
					delete(h.clients, old)
					replaced = true
				}
				h.userClients[accountID] = req.client
			}
			h.mu.Unlock()

			h.setPresence(req.client.account.ID, req.client.GetStatus())
			close(req.done)

			if !replaced {
				h.BroadcastDispatchExcept(EventUserJoined, UserJoinedPayload{
					Member: memberFromAccount(req.client.account, req.client.GetStatus()),
				}, req.client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			wasActiveClient := false
			if client.account != nil {
				wasActiveClient = h.userClients[client.account.ID] == client
			}
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if wasActiveClient {
					delete(h.userClients, client.account.ID)
				}
				client.CloseSend()
			}
			h.mu.Unlock()

			if wasActiveClient {
				h.clearPresence(client.account.ID)
				h.broadcastPresenceUpdate(client.account.ID, presence.StatusOffline, nil)
				h.BroadcastDispatchExcept(EventUserLeft, UserLeftPayload{UserID: client.account.ID}, nil)
			}

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				h.sendToClientLocked(client, message)
			}
			h.mu.RUnlock()
		}
	}
}

// Caller must hold at least a read lock on h.mu.
func (h *Hub) sendToClientLocked(client *Client, msg *WSMessage) {
	if !client.IsIdentified() {
		return
	}
	if client.enqueue(msg) {
		return
	}

	dropped := atomic.AddInt64(&client.DroppedMessages, 1)
	accountID := client.getAccountID()

	// Log warning periodically (every 10 drops)
	if dropped%10 == 1 {
		slog.Warn("dropped messages for slow client", "component", "hub", "dropped", dropped, "account_id", accountID)
	}

	// Disconnect clients that fall too far behind
	if dropped >= maxDroppedMessagesBeforeDisconnect {
		slog.Warn("disconnecting slow client", "component", "hub", "account_id", accountID, "dropped", dropped)
		client.Close()
	}
}

func (h *Hub) nextSequence() int64 {
	return atomic.AddInt64(&h.sequence, 1)
}

func (h *Hub) dispatch(eventType string, data any) *WSMessage {
	seq := h.nextSequence()
	return &WSMessage{Op: OpDispatch, Type: eventType, Data: data, Seq: &seq}
}

// BroadcastDispatch sends a DISPATCH message to all clients with sequence number
func (h *Hub) BroadcastDispatch(eventType string, data any) {
	select {
	case h.broadcast <- h.dispatch(eventType, data):
	case <-h.shutdown:
	}
}

// BroadcastDispatchExcept sends a DISPATCH to all clients except one
func (h *Hub) BroadcastDispatchExcept(eventType string, data any, except *Client) {
	msg := h.dispatch(eventType, data)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client == except {
			continue
		}
		h.sendToClientLocked(client, msg)
	}
}

// SendDispatchToUser sends a DISPATCH message to a specific account
func (h *Hub) SendDispatchToUser(accountID string, eventType string, payload any) {
	msg := h.dispatch(eventType, payload)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.userClients[accountID]; ok {
		h.sendToClientLocked(client, msg)
	}
}

// AnnounceVerified tells connected members that an account joined the
// global room after verifying.
func (h *Hub) AnnounceVerified(account *models.Account) {
	status := presence.StatusOffline
	if h.IsUserOnline(account.ID) {
		status = presence.StatusOnline
	}
	h.BroadcastDispatch(EventMemberVerified, MemberVerifiedPayload{
		Member: memberFromAccount(account, status),
		Room:   models.GlobalRoom,
	})
}

func (h *Hub) GetOnlineMembers() []MemberState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]MemberState, 0, len(h.userClients))
	for _, client := range h.userClients {
		if !client.IsIdentified() {
			continue
		}
		members = append(members, memberFromAccount(client.account, client.GetStatus()))
	}
	slices.SortFunc(members, func(a, b MemberState) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return members
}

func (h *Hub) IsUserOnline(accountID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.userClients[accountID]
	return ok
}

func (h *Hub) HasRoom(room string) bool {
	return slices.Contains(h.rooms, room)
}

func (h *Hub) Rooms() []string {
	return slices.Clone(h.rooms)
}

// If except is not nil, that client won't receive the message
func (h *Hub) broadcastPresenceUpdate(accountID string, status string, except *Client) {
	h.BroadcastDispatchExcept(EventPresenceUpdate, PresenceUpdatePayload{
		UserID: accountID,
		Status: status,
	}, except)

	slog.Debug("presence changed", "component", "hub", "account_id", accountID, "status", status)
}

func (h *Hub) setPresence(accountID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Set(ctx, accountID, status); err != nil {
		slog.Warn("updating presence", "component", "hub", "account_id", accountID, "error", err)
	}
}

func (h *Hub) clearPresence(accountID string) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.presence.Clear(ctx, accountID); err != nil {
		slog.Warn("clearing presence", "component", "hub", "account_id", accountID, "error", err)
	}
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}
