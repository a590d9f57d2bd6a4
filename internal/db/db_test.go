package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"studylib/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

func pendingAccount(email, code string, expiresAt time.Time) *models.Account {
	return &models.Account{
		Name:                  "Test",
		Email:                 email,
		PasswordHash:          "hash",
		VerificationCode:      &code,
		VerificationExpiresAt: &expiresAt,
	}
}

func TestAccountCreateRejectsDuplicateEmail(t *testing.T) {
	repo := NewAccountRepository(openTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(time.Minute)

	if err := repo.Create(ctx, pendingAccount("bob@example.com", "111111", exp)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, pendingAccount("BOB@example.com", "222222", exp))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create(duplicate) error = %v, want ErrDuplicate", err)
	}

	accounts, err := repo.List(ctx, AccountFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("len(accounts) = %d, want 1", len(accounts))
	}
}

func TestAccountFindRoundTrip(t *testing.T) {
	repo := NewAccountRepository(openTestDB(t))
	ctx := context.Background()
	exp := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)

	a := pendingAccount("alice@example.com", "123456", exp)
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if got.ID != a.ID || got.Role != models.RoleStudent || got.IsVerified {
		t.Fatalf("unexpected account %+v", got)
	}
	if got.VerificationCode == nil || *got.VerificationCode != "123456" {
		t.Fatalf("verification code = %v, want 123456", got.VerificationCode)
	}
	if got.VerificationExpiresAt == nil || !got.VerificationExpiresAt.Equal(exp) {
		t.Fatalf("verification expiry = %v, want %v", got.VerificationExpiresAt, exp)
	}

	if _, err := repo.FindByID(ctx, "acc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMarkVerifiedIsSingleUse(t *testing.T) {
	repo := NewAccountRepository(openTestDB(t))
	ctx := context.Background()

	a := pendingAccount("carol@example.com", "654321", time.Now().Add(time.Minute))
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if ok, err := repo.MarkVerified(ctx, a.ID, "000000"); err != nil || ok {
		t.Fatalf("MarkVerified(wrong) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := repo.MarkVerified(ctx, a.ID, "654321"); err != nil || !ok {
		t.Fatalf("MarkVerified(right) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := repo.MarkVerified(ctx, a.ID, "654321"); err != nil || ok {
		t.Fatalf("MarkVerified(replay) = %v, %v; want false, nil", ok, err)
	}

	got, err := repo.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if !got.IsVerified || got.VerificationCode != nil || got.VerificationExpiresAt != nil {
		t.Fatalf("account not cleanly verified: %+v", got)
	}

	if ok, err := repo.RotateCode(ctx, a.ID, "999999", time.Now().Add(time.Minute)); err != nil || ok {
		t.Fatalf("RotateCode(verified) = %v, %v; want false, nil", ok, err)
	}
}

func TestConcurrentRotateLeavesOneConsistentCode(t *testing.T) {
	repo := NewAccountRepository(openTestDB(t))
	ctx := context.Background()

	a := pendingAccount("dave@example.com", "100000", time.Now().Add(time.Minute))
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	codes := []string{"200000", "300000"}
	expiries := []time.Time{
		time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second),
		time.Now().Add(7 * time.Minute).UTC().Truncate(time.Second),
	}

	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := repo.RotateCode(ctx, a.ID, codes[i], expiries[i]); err != nil {
				t.Errorf("RotateCode() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := repo.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	matched := false
	for i := range codes {
		if *got.VerificationCode == codes[i] && got.VerificationExpiresAt.Equal(expiries[i]) {
			matched = true
		}
	}
	if !matched {
		t.Fatalf("code %q / expiry %v does not match a single rotation", *got.VerificationCode, got.VerificationExpiresAt)
	}
}

func TestDeleteManyKeepsAdmins(t *testing.T) {
	repo := NewAccountRepository(openTestDB(t))
	ctx := context.Background()

	for _, a := range []*models.Account{
		{Name: "Admin", Email: "admin@example.com", PasswordHash: "h", Role: models.RoleAdmin, IsVerified: true},
		{Name: "S1", Email: "s1@example.com", PasswordHash: "h", IsVerified: true},
		pendingAccount("s2@example.com", "123123", time.Now().Add(time.Minute)),
	} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	deleted, err := repo.DeleteMany(ctx, AccountFilter{ExcludeRoles: []models.Role{models.RoleAdmin}})
	if err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	remaining, err := repo.List(ctx, AccountFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].Role != models.RoleAdmin {
		t.Fatalf("remaining = %+v, want only the admin", remaining)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	database := openTestDB(t)
	accounts := NewAccountRepository(database)
	tokens := NewRefreshTokenRepository(database)
	ctx := context.Background()

	a := &models.Account{Name: "E", Email: "e@example.com", PasswordHash: "h", IsVerified: true}
	if err := accounts.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	old, err := tokens.Create(ctx, a.ID, "hash-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Create(token) error = %v", err)
	}
	if err := tokens.Rotate(ctx, old.ID, a.ID, "hash-2", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if err := tokens.Rotate(ctx, old.ID, a.ID, "hash-3", time.Now().Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rotate(reused) error = %v, want ErrNotFound", err)
	}

	found, err := tokens.FindByHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("FindByHash() error = %v", err)
	}
	if found.RevokedAt == nil {
		t.Fatal("expected consumed token to be revoked")
	}
}

func TestMessageHistory(t *testing.T) {
	database := openTestDB(t)
	accounts := NewAccountRepository(database)
	messages := NewMessageRepository(database)
	ctx := context.Background()

	alice := &models.Account{Name: "Alice", Email: "alice@example.com", PasswordHash: "h", IsVerified: true}
	bob := &models.Account{Name: "Bob", Email: "bob@example.com", PasswordHash: "h", IsVerified: true}
	for _, a := range []*models.Account{alice, bob} {
		if err := accounts.Create(ctx, a); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	var lastRoom *models.Message
	for _, content := range []string{"one", "two", "three"} {
		m, err := messages.CreateRoomMessage(ctx, alice.ID, models.GlobalRoom, content)
		if err != nil {
			t.Fatalf("CreateRoomMessage() error = %v", err)
		}
		lastRoom = m
	}
	if _, err := messages.CreateDirectMessage(ctx, bob.ID, alice.ID, "hi alice"); err != nil {
		t.Fatalf("CreateDirectMessage() error = %v", err)
	}

	room, err := messages.RoomHistory(ctx, models.GlobalRoom, lastRoom.ID, 10)
	if err != nil {
		t.Fatalf("RoomHistory() error = %v", err)
	}
	if len(room) != 2 || room[0].Content != "two" || room[0].AuthorName != "Alice" {
		t.Fatalf("room history = %+v, want [two one] by Alice", room)
	}

	direct, err := messages.DirectHistory(ctx, alice.ID, bob.ID, "", 10)
	if err != nil {
		t.Fatalf("DirectHistory() error = %v", err)
	}
	if len(direct) != 1 || direct[0].RecipientID != alice.ID || !direct[0].IsDirect() {
		t.Fatalf("direct history = %+v", direct)
	}
}

func TestNewIDMatchesValidID(t *testing.T) {
	seen := make(map[string]bool)
	for _, kind := range []IDKind{AccountID, MessageID, RefreshTokenID} {
		id, err := NewID(kind)
		if err != nil {
			t.Fatalf("NewID(%q) error = %v", kind, err)
		}
		if !ValidID(kind, id) {
			t.Fatalf("ValidID(%q, %q) = false, want true", kind, id)
		}
		if seen[id] {
			t.Fatalf("NewID(%q) repeated %q", kind, id)
		}
		seen[id] = true
	}

	msgID, err := NewID(MessageID)
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if ValidID(AccountID, msgID) {
		t.Fatalf("ValidID(AccountID, %q) = true, want false", msgID)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		name string
		kind IDKind
		id   string
		want bool
	}{
		{name: "message", kind: MessageID, id: "msg_0123456789abcdef01234567", want: true},
		{name: "account", kind: AccountID, id: "acc_0123456789abcdef01234567", want: true},
		{name: "wrong_kind", kind: RefreshTokenID, id: "msg_0123456789abcdef01234567", want: false},
		{name: "missing_separator", kind: MessageID, id: "msg0123456789abcdef01234567", want: false},
		{name: "short", kind: MessageID, id: "msg_0123456789abcdef", want: false},
		{name: "uppercase", kind: MessageID, id: "msg_0123456789ABCDEF01234567", want: false},
		{name: "empty", kind: MessageID, id: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidID(tt.kind, tt.id); got != tt.want {
				t.Fatalf("ValidID(%q, %q) = %v, want %v", tt.kind, tt.id, got, tt.want)
			}
		})
	}
}
