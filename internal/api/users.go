package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"studylib/internal/db"
	"studylib/internal/models"
	"studylib/internal/presence"
)

type AccountReader interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context, filter db.AccountFilter) ([]*models.Account, error)
}

type UserHandler struct {
	accounts AccountReader
	presence presence.Tracker
}

func NewUserHandler(accounts AccountReader, tracker presence.Tracker) *UserHandler {
	return &UserHandler{accounts: accounts, presence: tracker}
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID := GetAccountID(r)
	if accountID == "" {
		unauthorized(w, "Account not found in context")
		return
	}

	account, err := h.accounts.FindByID(r.Context(), accountID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Account not found")
		return
	}
	if err != nil {
		slog.Error("error finding account", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, summaryWithStatus(account, h.online(r.Context())))
}

// GET /api/v1/users lists verified accounts with their online status.
func (h *UserHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context(), db.AccountFilter{OnlyVerified: true})
	if err != nil {
		slog.Error("error listing accounts", "error", err)
		internalError(w)
		return
	}

	online := h.online(r.Context())
	summaries := make([]*models.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		summary := summaryWithStatus(a, online)
		if GetRole(r) != models.RoleAdmin && a.ID != GetAccountID(r) {
			summary.Email = ""
		}
		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *UserHandler) online(ctx context.Context) map[string]string {
	if h.presence == nil {
		return nil
	}
	online, err := h.presence.Online(ctx)
	if err != nil {
		slog.Warn("reading presence", "error", err)
		return nil
	}
	return online
}
