package ws

import (
	"encoding/json"
	"time"

	"studylib/internal/constants"
	"studylib/internal/models"
)

// Operation codes for WebSocket messages
type OpCode int

// ProtocolVersion is the exact server/client WS protocol version.
// Bump this only for breaking wire-contract changes.
const ProtocolVersion = 1

const (
	// DISPATCH - Events and commands with type field
	OpDispatch OpCode = 0

	// Lifecycle ops (Server -> Client)
	OpHello          OpCode = 1 // Sent on connection
	OpReady          OpCode = 2 // Sent after successful identify, contains initial state
	OpInvalidSession OpCode = 3 // Session invalid, must re-identify
)

// Event types (Server -> Client via DISPATCH)
const (
	EventPresenceUpdate = "PRESENCE_UPDATE"
	EventMessageCreate  = "MESSAGE_CREATE"
	EventDMCreate       = "DM_CREATE"
	EventTypingStart    = "TYPING_START"
	EventTypingStop     = "TYPING_STOP"
	EventUserJoined     = "USER_JOINED"
	EventUserLeft       = "USER_LEFT"
	EventMemberVerified = "MEMBER_VERIFIED"
	EventError          = "ERROR"
)

// Command types (Client -> Server via DISPATCH)
const (
	CmdIdentify    = "IDENTIFY"
	CmdPresenceSet = "PRESENCE_SET"
	CmdMessageSend = "MESSAGE_SEND"
	CmdDMSend      = "DM_SEND"
	CmdTyping      = "TYPING"
)

// Error codes sent in EventError payloads.
const (
	ErrCodeAuthFailed       = constants.ErrCodeAuthFailed
	ErrCodeRateLimited      = constants.ErrCodeRateLimited
	ErrCodeMessageTooLong   = constants.ErrCodeMessageTooLong
	ErrCodeRecipientUnknown = constants.ErrCodeRecipientUnknown
	ErrCodeRoomUnknown      = constants.ErrCodeRoomUnknown
	ErrCodeInvalidRequest   = constants.ErrCodeInvalidRequest
	ErrCodeInternal         = constants.ErrCodeInternal
)

type WSMessage struct {
	Op   OpCode `json:"op"`
	Type string `json:"t,omitempty"` // Event/command type (only for DISPATCH)
	Data any    `json:"d,omitempty"`
	Seq  *int64 `json:"s,omitempty"`
}

// inboundMessage is a client frame; Data is decoded per command.
type inboundMessage struct {
	Op   OpCode          `json:"op"`
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// Server -> Client payloads

type HelloPayload struct {
	ProtocolVersion int `json:"protocol_version"`
}

type ReadyPayload struct {
	ProtocolVersion int                    `json:"protocol_version"`
	SessionID       string                 `json:"session_id"`
	User            *models.AccountSummary `json:"user"`
	Rooms           []string               `json:"rooms"`
	Members         []MemberState          `json:"members"`
}

type MemberState struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	Status    string      `json:"status"` // online, idle, dnd, offline
	CreatedAt time.Time   `json:"created_at"`
}

func memberFromAccount(a *models.Account, status string) MemberState {
	return MemberState{
		ID:        a.ID,
		Name:      a.Name,
		Role:      a.Role,
		Status:    status,
		CreatedAt: a.CreatedAt,
	}
}

// InvalidSessionPayload sent when session is invalid
type InvalidSessionPayload struct {
	Resumable bool `json:"resumable"`
}

// MessageCreatePayload is sent for room messages (MESSAGE_CREATE) and
// direct messages (DM_CREATE).
type MessageCreatePayload struct {
	ID          string         `json:"id"`
	Room        string         `json:"room,omitempty"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Author      *MessageAuthor `json:"author"`
	Content     string         `json:"content"`
	CreatedAt   string         `json:"created_at"`
	Nonce       string         `json:"nonce,omitempty"` // Echo back for optimistic updates
}

type MessageAuthor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type PresenceUpdatePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type TypingStartPayload struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Room      string `json:"room,omitempty"`
	Timestamp string `json:"timestamp"`
}

type TypingStopPayload struct {
	UserID string `json:"user_id"`
	Room   string `json:"room,omitempty"`
}

// UserJoinedPayload sent when a member comes online.
type UserJoinedPayload struct {
	Member MemberState `json:"member"`
}

type UserLeftPayload struct {
	UserID string `json:"user_id"`
}

// MemberVerifiedPayload announces an account that just finished
// verification and joined the global room.
type MemberVerifiedPayload struct {
	Member MemberState `json:"member"`
	Room   string      `json:"room"`
}

// ErrorPayload sent when the server rejects a client action
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Nonce   string `json:"nonce,omitempty"`
}

// Client -> Server payloads (via DISPATCH)

// IdentifyPayload sent by client to authenticate
type IdentifyPayload struct {
	Token    string           `json:"token"`
	Presence *PresenceOptions `json:"presence,omitempty"`
}

// PresenceOptions for initial presence on IDENTIFY
type PresenceOptions struct {
	Status string `json:"status"` // online, idle, dnd (not offline)
}

// MessageSendPayload posts to a room; an empty room means the global room.
type MessageSendPayload struct {
	Room    string `json:"room,omitempty"`
	Content string `json:"content"`
	Nonce   string `json:"nonce,omitempty"` // Client-generated ID for tracking
}

type DMSendPayload struct {
	To      string `json:"to"`
	Content string `json:"content"`
	Nonce   string `json:"nonce,omitempty"`
}

// PresenceSetPayload sent by client to set presence
type PresenceSetPayload struct {
	Status string `json:"status"` // online, idle, dnd, offline
}

type TypingPayload struct {
	Room string `json:"room,omitempty"`
}
