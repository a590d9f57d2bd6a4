package api

import (
	"time"

	"studylib/internal/models"
	"studylib/internal/presence"
)

const timeFormat = time.RFC3339

// summaryWithStatus builds the public view of an account. Accounts missing
// from online are reported offline.
func summaryWithStatus(a *models.Account, online map[string]string) *models.AccountSummary {
	summary := a.Summary()
	summary.OnlineStatus = presence.StatusOffline
	if status, ok := online[a.ID]; ok {
		summary.OnlineStatus = status
	}
	return summary
}
