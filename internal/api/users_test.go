package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studylib/internal/db"
	"studylib/internal/models"
	"studylib/internal/presence"
)

func seedAccounts(t *testing.T, repo *db.AccountRepository) map[string]*models.Account {
	t.Helper()

	seeded := make(map[string]*models.Account)
	for _, a := range []*models.Account{
		{Name: "Alice", Email: "alice@x.io", PasswordHash: "hash", Role: models.RoleStudent, IsVerified: true},
		{Name: "Bob", Email: "bob@x.io", PasswordHash: "hash", Role: models.RoleStudent, IsVerified: true},
		{Name: "Pending", Email: "pending@x.io", PasswordHash: "hash", Role: models.RoleStudent},
	} {
		if err := repo.Create(context.Background(), a); err != nil {
			t.Fatalf("Create(%q) error = %v", a.Email, err)
		}
		seeded[a.Name] = a
	}
	return seeded
}

func withAccount(req *http.Request, id string, role models.Role) *http.Request {
	ctx := context.WithValue(req.Context(), accountIDKey, id)
	ctx = context.WithValue(ctx, roleKey, role)
	return req.WithContext(ctx)
}

func TestGetAllListsVerifiedAccountsWithStatus(t *testing.T) {
	repo := db.NewAccountRepository(openTestDB(t))
	seeded := seedAccounts(t, repo)

	tracker := presence.NewMemoryTracker(time.Minute)
	if err := tracker.Set(context.Background(), seeded["Bob"].ID, presence.StatusOnline); err != nil {
		t.Fatalf("tracker.Set() error = %v", err)
	}

	handler := NewUserHandler(repo, tracker)
	req := withAccount(httptest.NewRequest(http.MethodGet, "/api/v1/users", nil), seeded["Alice"].ID, models.RoleStudent)
	rr := httptest.NewRecorder()

	handler.GetAll(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	var users []models.AccountSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &users); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	if len(users) != 2 {
		t.Fatalf("len(users) = %d, want 2 (unverified accounts hidden)", len(users))
	}

	for _, u := range users {
		switch u.Name {
		case "Alice":
			if u.Email != "alice@x.io" {
				t.Fatalf("own email = %q, want it visible", u.Email)
			}
			if u.OnlineStatus != presence.StatusOffline {
				t.Fatalf("Alice status = %q, want offline", u.OnlineStatus)
			}
		case "Bob":
			if u.Email != "" {
				t.Fatalf("other email = %q, want it hidden from students", u.Email)
			}
			if u.OnlineStatus != presence.StatusOnline {
				t.Fatalf("Bob status = %q, want online", u.OnlineStatus)
			}
		default:
			t.Fatalf("unexpected user %q", u.Name)
		}
	}
}

func TestGetAllShowsEmailsToAdmins(t *testing.T) {
	repo := db.NewAccountRepository(openTestDB(t))
	seeded := seedAccounts(t, repo)

	handler := NewUserHandler(repo, nil)
	req := withAccount(httptest.NewRequest(http.MethodGet, "/api/v1/users", nil), seeded["Alice"].ID, models.RoleAdmin)
	rr := httptest.NewRecorder()

	handler.GetAll(rr, req)

	var users []models.AccountSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &users); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	for _, u := range users {
		if u.Email == "" {
			t.Fatalf("email of %q hidden from admin", u.Name)
		}
	}
}

func TestGetMe(t *testing.T) {
	repo := db.NewAccountRepository(openTestDB(t))
	seeded := seedAccounts(t, repo)
	handler := NewUserHandler(repo, nil)

	tests := []struct {
		name       string
		accountID  string
		wantStatus int
	}{
		{name: "existing", accountID: seeded["Alice"].ID, wantStatus: http.StatusOK},
		{name: "deleted", accountID: "acc_missing", wantStatus: http.StatusNotFound},
		{name: "anonymous", accountID: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
			if tt.accountID != "" {
				req = withAccount(req, tt.accountID, models.RoleStudent)
			}
			rr := httptest.NewRecorder()

			handler.GetMe(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%q", rr.Code, tt.wantStatus, rr.Body.String())
			}
		})
	}
}
