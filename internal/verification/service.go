// Package verification owns the pending to verified transition of an
// account: registration, one-time code consumption and code rotation.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"studylib/internal/auth"
	"studylib/internal/db"
	"studylib/internal/email"
	"studylib/internal/metrics"
	"studylib/internal/models"
)

// Store is the subset of the credential store the state machine needs.
// MarkVerified and RotateCode must be single atomic updates that only
// apply to pending accounts.
type Store interface {
	Create(ctx context.Context, a *models.Account) error
	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	MarkVerified(ctx context.Context, id, code string) (bool, error)
	RotateCode(ctx context.Context, id, code string, expiresAt time.Time) (bool, error)
	ForceVerify(ctx context.Context, id string) error
}

// CodeGenerator issues one-time codes along with their expiry.
type CodeGenerator interface {
	Generate() (string, time.Time, error)
	TTL() time.Duration
}

// VerifiedHook runs after an account becomes verified. auto is true when
// the transition came from the registration fallback.
type VerifiedHook func(ctx context.Context, account *models.Account, auto bool) error

// Outcome tells how a registration left the new account.
type Outcome string

const (
	OutcomeVerificationRequired Outcome = "verification_required"
	OutcomeAutoVerified         Outcome = "auto_verified"
)

// RegisterInput is the raw registration form. Service.Register normalizes it.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// RegisterResult describes the stored account and the delivery attempt.
type RegisterResult struct {
	Outcome Outcome
	Account *models.Account
	// EmailSent is false whenever Outcome is OutcomeAutoVerified.
	EmailSent bool
	// SendErr wraps ErrSendFailure when delivery was attempted and failed.
	SendErr error
}

// ResendResult carries the rotated code's expiry and the delivery attempt.
type ResendResult struct {
	Account   *models.Account
	ExpiresAt time.Time
	Sent      bool
	SendErr   error
}

// AccountRef names an account by email or ID. Email wins when both are set.
type AccountRef struct {
	ID    string
	Email string
}

func ByEmail(addr string) AccountRef { return AccountRef{Email: addr} }
func ByID(id string) AccountRef      { return AccountRef{ID: id} }

// Config tunes a Service. Zero values fall back to defaults.
type Config struct {
	PasswordMinLength int
	SendTimeout       time.Duration
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service runs the email verification state machine for student accounts.
type Service struct {
	store       Store
	sender      email.Sender
	codes       CodeGenerator
	hasher      auth.PasswordHasher
	minPassword int
	sendTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	hooks       []VerifiedHook
	validate    *validator.Validate
}

func NewService(store Store, sender email.Sender, codes CodeGenerator, hasher auth.PasswordHasher, cfg Config) *Service {
	if sender == nil {
		sender = email.Disabled{}
	}
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:       store,
		sender:      sender,
		codes:       codes,
		hasher:      hasher,
		minPassword: cfg.PasswordMinLength,
		sendTimeout: cfg.SendTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "verification"),
		now:         cfg.Now,
		validate:    validator.New(),
	}
}

// OnVerified registers a hook. Hooks must be added before the service
// handles requests.
func (s *Service) OnVerified(hook VerifiedHook) {
	s.hooks = append(s.hooks, hook)
}

func (s *Service) PasswordMinLength() int {
	return s.minPassword
}

// EmailVerification reports whether new accounts have to confirm a code.
// When false every registration is auto-verified.
func (s *Service) EmailVerification() bool {
	return s.sender.Configured()
}

// NormalizeEmail is the canonical form used for storage and lookup.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	name := strings.TrimSpace(in.Name)
	addr := NormalizeEmail(in.Email)

	if name == "" {
		return nil, &InputError{Field: "name", Message: "name is required"}
	}
	if err := s.validate.Var(addr, "required,email"); err != nil {
		return nil, &InputError{Field: "email", Message: "a valid email address is required"}
	}
	if utf8.RuneCountInString(in.Password) < s.minPassword {
		return nil, &InputError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", s.minPassword),
		}
	}

	if _, err := s.store.FindByEmail(ctx, addr); err == nil {
		s.metrics.Registration("duplicate")
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, storeError("checking existing account", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	account := &models.Account{
		Name:         name,
		Email:        addr,
		PasswordHash: hash,
		Role:         models.RoleStudent,
	}

	if !s.sender.Configured() {
		account.IsVerified = true
		if err := s.store.Create(ctx, account); err != nil {
			return nil, s.createError(err)
		}
		s.logger.Info("account auto-verified, email delivery not configured", "account_id", account.ID)
		s.metrics.Registration(string(OutcomeAutoVerified))
		s.fireHooks(ctx, account, true)
		return &RegisterResult{Outcome: OutcomeAutoVerified, Account: account}, nil
	}

	code, expiresAt, err := s.codes.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}
	account.VerificationCode = &code
	account.VerificationExpiresAt = &expiresAt

	if err := s.store.Create(ctx, account); err != nil {
		return nil, s.createError(err)
	}

	sendErr := s.sendCode(ctx, account, code)
	if sendErr == nil {
		s.metrics.Registration(string(OutcomeVerificationRequired))
		return &RegisterResult{
			Outcome:   OutcomeVerificationRequired,
			Account:   account,
			EmailSent: true,
		}, nil
	}

	if err := s.store.ForceVerify(ctx, account.ID); err != nil {
		// The pending code is still valid, so the account can recover
		// through a resend.
		s.logger.Error("auto-verify after failed send", "account_id", account.ID, "error", err)
		s.metrics.Registration(string(OutcomeVerificationRequired))
		return &RegisterResult{
			Outcome: OutcomeVerificationRequired,
			Account: account,
			SendErr: sendErr,
		}, nil
	}

	account.IsVerified = true
	account.VerificationCode = nil
	account.VerificationExpiresAt = nil
	s.logger.Warn("account auto-verified after failed send", "account_id", account.ID, "error", sendErr)
	s.metrics.Registration(string(OutcomeAutoVerified))
	s.fireHooks(ctx, account, true)

	return &RegisterResult{
		Outcome: OutcomeAutoVerified,
		Account: account,
		SendErr: sendErr,
	}, nil
}

// VerifyCode consumes the account's pending code. An account that is
// already verified has no pending code and yields ErrNotFound.
func (s *Service) VerifyCode(ctx context.Context, ref AccountRef, code string) (*models.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &InputError{Field: "code", Message: "verification code is required"}
	}

	account, err := s.lookup(ctx, ref)
	if err != nil {
		s.metrics.Verification("not_found")
		return nil, err
	}
	if !account.IsPending() {
		s.metrics.Verification("not_found")
		return nil, ErrNotFound
	}
	if s.now().After(*account.VerificationExpiresAt) {
		s.metrics.Verification("expired")
		return nil, ErrExpired
	}
	if !auth.CodesEqual(code, *account.VerificationCode) {
		s.metrics.Verification("mismatch")
		return nil, ErrMismatch
	}

	ok, err := s.store.MarkVerified(ctx, account.ID, code)
	if err != nil {
		return nil, storeError("marking account verified", err)
	}
	if !ok {
		// Lost a race with another verify or a resend.
		current, err := s.store.FindByID(ctx, account.ID)
		if err != nil || current.IsVerified {
			s.metrics.Verification("not_found")
			return nil, ErrNotFound
		}
		s.metrics.Verification("mismatch")
		return nil, ErrMismatch
	}

	account.IsVerified = true
	account.VerificationCode = nil
	account.VerificationExpiresAt = nil
	s.metrics.Verification("ok")
	s.logger.Info("account verified", "account_id", account.ID)
	s.fireHooks(ctx, account, false)

	return account, nil
}

// ResendCode rotates the pending code and then attempts delivery. The
// rotation stands even when delivery fails.
func (s *Service) ResendCode(ctx context.Context, ref AccountRef) (*ResendResult, error) {
	account, err := s.lookup(ctx, ref)
	if err != nil {
		s.metrics.Resend("not_found")
		return nil, err
	}
	if account.IsVerified {
		s.metrics.Resend("already_verified")
		return nil, ErrAlreadyVerified
	}

	code, expiresAt, err := s.codes.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating verification code: %w", err)
	}

	ok, err := s.store.RotateCode(ctx, account.ID, code, expiresAt)
	if err != nil {
		return nil, storeError("rotating verification code", err)
	}
	if !ok {
		if _, err := s.store.FindByID(ctx, account.ID); errors.Is(err, db.ErrNotFound) {
			s.metrics.Resend("not_found")
			return nil, ErrNotFound
		}
		s.metrics.Resend("already_verified")
		return nil, ErrAlreadyVerified
	}

	account.VerificationCode = &code
	account.VerificationExpiresAt = &expiresAt

	result := &ResendResult{Account: account, ExpiresAt: expiresAt}
	if err := s.sendCode(ctx, account, code); err != nil {
		result.SendErr = err
		s.metrics.Resend("send_failed")
		s.logger.Warn("verification code rotated but not sent", "account_id", account.ID, "error", err)
		return result, nil
	}

	result.Sent = true
	s.metrics.Resend("sent")
	return result, nil
}

func (s *Service) lookup(ctx context.Context, ref AccountRef) (*models.Account, error) {
	var (
		account *models.Account
		err     error
	)
	switch {
	case strings.TrimSpace(ref.Email) != "":
		account, err = s.store.FindByEmail(ctx, NormalizeEmail(ref.Email))
	case strings.TrimSpace(ref.ID) != "":
		account, err = s.store.FindByID(ctx, strings.TrimSpace(ref.ID))
	default:
		return nil, &InputError{Field: "email", Message: "email or userId is required"}
	}
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("looking up account", err)
	}
	if ref.Email != "" && ref.ID != "" && account.ID != strings.TrimSpace(ref.ID) {
		return nil, ErrNotFound
	}
	return account, nil
}

func (s *Service) sendCode(ctx context.Context, account *models.Account, code string) error {
	if !s.sender.Configured() {
		s.metrics.EmailSend(false)
		return fmt.Errorf("%w: %w", ErrSendFailure, email.ErrNotConfigured)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	subject, body := email.VerificationMessage(account.Name, code, s.codes.TTL())
	if err := s.sender.Send(sendCtx, account.Email, subject, body); err != nil {
		s.metrics.EmailSend(false)
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	s.metrics.EmailSend(true)
	return nil
}

func (s *Service) fireHooks(ctx context.Context, account *models.Account, auto bool) {
	for _, hook := range s.hooks {
		if err := hook(ctx, account, auto); err != nil {
			s.logger.Error("verified hook failed", "account_id", account.ID, "error", err)
		}
	}
}

func (s *Service) createError(err error) error {
	if errors.Is(err, db.ErrDuplicate) {
		s.metrics.Registration("duplicate")
		return ErrDuplicateAccount
	}
	return storeError("creating account", err)
}

func storeError(op string, err error) error {
	if errors.Is(err, db.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
