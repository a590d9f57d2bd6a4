package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"studylib/internal/constants"
	"studylib/internal/db"
	"studylib/internal/models"
)

const defaultMessageHistoryLimit = constants.MessageHistoryDefaultLimit

type MessageReader interface {
	RoomHistory(ctx context.Context, room, beforeID string, limit int) ([]*models.Message, error)
	DirectHistory(ctx context.Context, accountID, otherID, beforeID string, limit int) ([]*models.Message, error)
}

type MessageHandler struct {
	messages MessageReader
	rooms    []string
}

func NewMessageHandler(messages MessageReader, rooms []string) *MessageHandler {
	return &MessageHandler{messages: messages, rooms: rooms}
}

// GET /api/v1/messages?room=&before=&limit=
func (h *MessageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, beforeID, validationMessage, ok := parseHistoryQuery(r)
	if !ok {
		badRequest(w, validationMessage)
		return
	}

	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		room = models.GlobalRoom
	}
	if !slices.Contains(h.rooms, room) {
		writeError(w, http.StatusNotFound, ErrCodeRoomUnknown, "Unknown room")
		return
	}

	messages, err := h.messages.RoomHistory(r.Context(), room, beforeID, limit)
	if err != nil {
		slog.Error("error loading room history", "room", room, "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

// GET /api/v1/messages/direct/{userId}
func (h *MessageHandler) GetDirectHistory(w http.ResponseWriter, r *http.Request) {
	limit, beforeID, validationMessage, ok := parseHistoryQuery(r)
	if !ok {
		badRequest(w, validationMessage)
		return
	}

	otherID := chi.URLParam(r, "userId")
	if otherID == "" {
		badRequest(w, "userId is required")
		return
	}

	messages, err := h.messages.DirectHistory(r.Context(), GetAccountID(r), otherID, beforeID, limit)
	if err != nil {
		slog.Error("error loading direct history", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func parseHistoryQuery(r *http.Request) (int, string, string, bool) {
	limitStr := strings.TrimSpace(r.URL.Query().Get("limit"))
	beforeID := strings.TrimSpace(r.URL.Query().Get("before"))

	limit := defaultMessageHistoryLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, "", "Query parameter 'limit' must be an integer", false
		}
		if parsedLimit <= 0 || parsedLimit > constants.MessageHistoryMaxLimit {
			return 0, "", fmt.Sprintf("Query parameter 'limit' must be between 1 and %d", constants.MessageHistoryMaxLimit), false
		}
		limit = parsedLimit
	}

	if beforeID != "" && !isValidMessageID(beforeID) {
		return 0, "", "Query parameter 'before' must be a valid message ID", false
	}

	return limit, beforeID, "", true
}

func isValidMessageID(id string) bool {
	return db.ValidID(db.MessageID, id)
}
