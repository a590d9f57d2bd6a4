package verification

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studylib/internal/auth"
	"studylib/internal/constants"
	"studylib/internal/db"
	"studylib/internal/models"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	mu         sync.Mutex
	configured bool
	err        error
	block      bool
	sent       []sentMail
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (f *fakeSender) Configured() bool { return f.configured }

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *Service
	accounts *db.AccountRepository
	sender   *fakeSender
	clock    *clock
	verified []string
}

func newHarness(t *testing.T, sender *fakeSender) *harness {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	h := &harness{
		accounts: db.NewAccountRepository(database),
		sender:   sender,
		clock:    &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	codes := auth.NewOTPGenerator(10 * time.Minute).WithClock(h.clock.Now)
	hasher := &auth.Argon2{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

	h.svc = NewService(h.accounts, sender, codes, hasher, Config{
		PasswordMinLength: 8,
		SendTimeout:       50 * time.Millisecond,
		Now:               h.clock.Now,
	})
	var mu sync.Mutex
	h.svc.OnVerified(func(_ context.Context, a *models.Account, auto bool) error {
		mu.Lock()
		defer mu.Unlock()
		h.verified = append(h.verified, a.ID)
		return nil
	})
	return h
}

func (h *harness) storedCode(t *testing.T, addr string) string {
	t.Helper()
	a, err := h.accounts.FindByEmail(context.Background(), addr)
	require.NoError(t, err)
	require.NotNil(t, a.VerificationCode)
	return *a.VerificationCode
}

func TestRegisterCreatesPendingAccount(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{Name: "  Alice ", Email: "Alice@Example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationRequired, res.Outcome)
	assert.True(t, res.EmailSent)
	assert.Equal(t, "alice@example.com", res.Account.Email)
	assert.Equal(t, "Alice", res.Account.Name)

	stored, err := h.accounts.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	require.NotNil(t, stored.VerificationCode)
	assert.Len(t, *stored.VerificationCode, constants.OTPLength)
	require.NotNil(t, stored.VerificationExpiresAt)
	assert.True(t, stored.VerificationExpiresAt.Equal(h.clock.Now().Add(10*time.Minute)))
	assert.NotEqual(t, "secret123", stored.PasswordHash)

	require.Equal(t, 1, h.sender.count())
	assert.Equal(t, "alice@example.com", h.sender.sent[0].to)
	assert.Contains(t, h.sender.sent[0].body, *stored.VerificationCode)
	assert.Empty(t, h.verified)
}

func TestRegisterFallsBackToAutoVerify(t *testing.T) {
	tests := []struct {
		name     string
		sender   *fakeSender
		wantSend bool
	}{
		{name: "sender not configured", sender: &fakeSender{}},
		{name: "send fails", sender: &fakeSender{configured: true, err: errors.New("smtp: 554 rejected")}, wantSend: true},
		{name: "send times out", sender: &fakeSender{configured: true, block: true}, wantSend: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.sender)
			ctx := context.Background()

			res, err := h.svc.Register(ctx, RegisterInput{Name: "Carol", Email: "carol@example.com", Password: "secret123"})
			require.NoError(t, err)
			assert.Equal(t, OutcomeAutoVerified, res.Outcome)
			assert.False(t, res.EmailSent)
			if tt.wantSend {
				assert.ErrorIs(t, res.SendErr, ErrSendFailure)
			}

			stored, err := h.accounts.FindByEmail(ctx, "carol@example.com")
			require.NoError(t, err)
			assert.True(t, stored.IsVerified)
			assert.Nil(t, stored.VerificationCode)
			assert.Nil(t, stored.VerificationExpiresAt)
			assert.Equal(t, []string{stored.ID}, h.verified)
		})
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{name: "blank name", in: RegisterInput{Name: "   ", Email: "a@example.com", Password: "secret123"}, field: "name"},
		{name: "bad email", in: RegisterInput{Name: "A", Email: "not-an-email", Password: "secret123"}, field: "email"},
		{name: "short password", in: RegisterInput{Name: "A", Email: "a@example.com", Password: "short"}, field: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrInvalidInput)
			var inputErr *InputError
			require.ErrorAs(t, err, &inputErr)
			assert.Equal(t, tt.field, inputErr.Field)
		})
	}
	assert.Zero(t, h.sender.count())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, RegisterInput{Name: "Bob Again", Email: "BOB@example.com", Password: "different1"})
	require.ErrorIs(t, err, ErrDuplicateAccount)

	accounts, err := h.accounts.List(ctx, db.AccountFilter{})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Bob", accounts[0].Name)
}

func TestVerifyCodeFlow(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	code := h.storedCode(t, "alice@example.com")

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = h.svc.VerifyCode(ctx, ByEmail("alice@example.com"), wrong)
	require.ErrorIs(t, err, ErrMismatch)
	assert.Equal(t, code, h.storedCode(t, "alice@example.com"))

	account, err := h.svc.VerifyCode(ctx, ByID(res.Account.ID), code)
	require.NoError(t, err)
	assert.True(t, account.IsVerified)
	assert.Nil(t, account.VerificationCode)

	stored, err := h.accounts.FindByID(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)
	assert.Nil(t, stored.VerificationCode)
	assert.Nil(t, stored.VerificationExpiresAt)
	assert.Equal(t, []string{res.Account.ID}, h.verified)

	_, err = h.svc.VerifyCode(ctx, ByEmail("alice@example.com"), code)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyExpiredCodeLeavesAccountPending(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Dan", Email: "dan@example.com", Password: "secret123"})
	require.NoError(t, err)
	code := h.storedCode(t, "dan@example.com")

	h.clock.Advance(10*time.Minute + time.Second)

	_, err = h.svc.VerifyCode(ctx, ByEmail("dan@example.com"), code)
	require.ErrorIs(t, err, ErrExpired)

	stored, err := h.accounts.FindByEmail(ctx, "dan@example.com")
	require.NoError(t, err)
	assert.False(t, stored.IsVerified)
	assert.Equal(t, code, *stored.VerificationCode)
}

func TestVerifyUnknownAccount(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})

	_, err := h.svc.VerifyCode(context.Background(), ByEmail("ghost@example.com"), "123456")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.VerifyCode(context.Background(), AccountRef{}, "123456")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestResendRotatesCode(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Eve", Email: "eve@example.com", Password: "secret123"})
	require.NoError(t, err)
	oldCode := h.storedCode(t, "eve@example.com")

	h.clock.Advance(time.Minute)
	res, err := h.svc.ResendCode(ctx, ByEmail("eve@example.com"))
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.True(t, res.ExpiresAt.Equal(h.clock.Now().Add(10*time.Minute)))

	newCode := h.storedCode(t, "eve@example.com")
	if newCode != oldCode {
		_, err = h.svc.VerifyCode(ctx, ByEmail("eve@example.com"), oldCode)
		require.ErrorIs(t, err, ErrMismatch)
	}

	_, err = h.svc.VerifyCode(ctx, ByEmail("eve@example.com"), newCode)
	require.NoError(t, err)
}

func TestResendOnVerifiedAccountDoesNotMutate(t *testing.T) {
	h := newHarness(t, &fakeSender{})
	ctx := context.Background()

	res, err := h.svc.Register(ctx, RegisterInput{Name: "Fay", Email: "fay@example.com", Password: "secret123"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAutoVerified, res.Outcome)

	before, err := h.accounts.FindByID(ctx, res.Account.ID)
	require.NoError(t, err)

	_, err = h.svc.ResendCode(ctx, ByEmail("fay@example.com"))
	require.ErrorIs(t, err, ErrAlreadyVerified)

	after, err := h.accounts.FindByID(ctx, res.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = h.svc.ResendCode(ctx, ByEmail("nobody@example.com"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResendSendFailureKeepsRotation(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Gus", Email: "gus@example.com", Password: "secret123"})
	require.NoError(t, err)

	h.sender.fail(errors.New("connection refused"))
	res, err := h.svc.ResendCode(ctx, ByEmail("gus@example.com"))
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.ErrorIs(t, res.SendErr, ErrSendFailure)

	code := h.storedCode(t, "gus@example.com")
	assert.Equal(t, code, *res.Account.VerificationCode)

	_, err = h.svc.VerifyCode(ctx, ByEmail("gus@example.com"), code)
	require.NoError(t, err)
}

func TestConcurrentResendsLeaveOneLiveCode(t *testing.T) {
	h := newHarness(t, &fakeSender{configured: true})
	ctx := context.Background()

	_, err := h.svc.Register(ctx, RegisterInput{Name: "Hal", Email: "hal@example.com", Password: "secret123"})
	require.NoError(t, err)

	const workers = 8
	codes := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.svc.ResendCode(ctx, ByEmail("hal@example.com"))
			if err == nil {
				codes <- *res.Account.VerificationCode
			}
		}()
	}
	wg.Wait()
	close(codes)

	issued := make(map[string]bool)
	for c := range codes {
		issued[c] = true
	}
	require.NotEmpty(t, issued)

	stored, err := h.accounts.FindByEmail(ctx, "hal@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.VerificationCode)
	require.NotNil(t, stored.VerificationExpiresAt)
	assert.True(t, issued[*stored.VerificationCode], "stored code %s was never issued", *stored.VerificationCode)

	_, err = h.svc.VerifyCode(ctx, ByEmail("hal@example.com"), *stored.VerificationCode)
	require.NoError(t, err)
}
