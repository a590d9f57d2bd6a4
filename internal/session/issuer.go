// Package session issues access and refresh tokens to verified accounts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studylib/internal/auth"
	"studylib/internal/db"
	"studylib/internal/metrics"
	"studylib/internal/models"
	"studylib/internal/presence"
	"studylib/internal/verification"
)

var (
	// ErrNotFound and ErrStoreUnavailable are shared with the verification
	// flow so callers map one taxonomy.
	ErrNotFound             = verification.ErrNotFound
	ErrStoreUnavailable     = verification.ErrStoreUnavailable
	ErrInvalidCredentials   = errors.New("incorrect password")
	ErrVerificationRequired = errors.New("email verification required")
	ErrInvalidRefreshToken  = errors.New("invalid or expired refresh token")
)

// VerificationRequiredError is returned by Login for a pending account.
// Resend is set when a fresh code was issued as part of the attempt.
type VerificationRequiredError struct {
	Account   *models.Account
	Resend    *verification.ResendResult
	ResendErr error
}

func (e *VerificationRequiredError) Error() string {
	return ErrVerificationRequired.Error()
}

func (e *VerificationRequiredError) Unwrap() error {
	return ErrVerificationRequired
}

// CodeSent reports whether the caller should expect a new code by email.
func (e *VerificationRequiredError) CodeSent() bool {
	return e.Resend != nil && e.Resend.Sent
}

type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
}

type TokenStore interface {
	Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error)
	FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, consumedTokenID, accountID, newTokenHash string, newExpiresAt time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string) error
}

type CodeResender interface {
	ResendCode(ctx context.Context, ref verification.AccountRef) (*verification.ResendResult, error)
}

type LoginResult struct {
	Account      *models.Account
	Tokens       *auth.TokenPair
	OnlineStatus string
}

type Config struct {
	// ResendOnUnverifiedLogin issues a new code when a pending account
	// presents the right password.
	ResendOnUnverifiedLogin bool
	Metrics                 *metrics.Metrics
	Logger                  *slog.Logger
}

type Issuer struct {
	accounts AccountStore
	tokens   TokenStore
	hasher   auth.PasswordHasher
	jwt      *auth.JWTService
	resender CodeResender
	presence presence.Tracker
	resend   bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewIssuer(accounts AccountStore, tokens TokenStore, hasher auth.PasswordHasher, jwt *auth.JWTService, resender CodeResender, tracker presence.Tracker, cfg Config) *Issuer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Issuer{
		accounts: accounts,
		tokens:   tokens,
		hasher:   hasher,
		jwt:      jwt,
		resender: resender,
		presence: tracker,
		resend:   cfg.ResendOnUnverifiedLogin,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger.With("component", "session"),
	}
}

// Login checks, in order, that the account exists, that the password
// matches and that the account is verified. NotFound and
// InvalidCredentials are reported separately.
func (i *Issuer) Login(ctx context.Context, addr, password string) (*LoginResult, error) {
	addr = verification.NormalizeEmail(addr)
	if addr == "" || password == "" {
		return nil, &verification.InputError{Field: "email", Message: "email and password are required"}
	}

	account, err := i.accounts.FindByEmail(ctx, addr)
	if errors.Is(err, db.ErrNotFound) {
		i.metrics.Login("not_found")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeError("looking up account", err)
	}

	ok, err := i.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		i.metrics.Login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if !account.IsVerified {
		i.metrics.Login("verification_required")
		vErr := &VerificationRequiredError{Account: account}
		if i.resend && i.resender != nil {
			vErr.Resend, vErr.ResendErr = i.resender.ResendCode(ctx, verification.ByID(account.ID))
			if vErr.ResendErr != nil {
				i.logger.Warn("resend on unverified login failed", "account_id", account.ID, "error", vErr.ResendErr)
			}
		}
		return nil, vErr
	}

	result, err := i.issue(ctx, account)
	if err != nil {
		return nil, err
	}
	i.metrics.Login("ok")
	i.logger.Info("login", "account_id", account.ID)
	return result, nil
}

// Refresh exchanges a refresh token for a new pair, revoking the old token.
func (i *Issuer) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}

	stored, err := i.tokens.FindByHash(ctx, auth.HashRefreshToken(refreshToken))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, storeError("looking up refresh token", err)
	}
	if stored.RevokedAt != nil || time.Now().After(stored.ExpiresAt) {
		return nil, ErrInvalidRefreshToken
	}

	account, err := i.accounts.FindByID(ctx, stored.AccountID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, storeError("looking up account", err)
	}
	if !account.IsVerified {
		return nil, ErrVerificationRequired
	}

	pair, refreshHash, err := i.jwt.GenerateTokenPair(account)
	if err != nil {
		return nil, fmt.Errorf("generating tokens: %w", err)
	}

	if err := i.tokens.Rotate(ctx, stored.ID, account.ID, refreshHash, i.jwt.RefreshTokenExpiry()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, storeError("rotating refresh token", err)
	}

	return &LoginResult{Account: account, Tokens: pair, OnlineStatus: i.status(ctx, account.ID)}, nil
}

// Logout revokes every refresh token of the account and marks it offline.
func (i *Issuer) Logout(ctx context.Context, accountID string) error {
	if err := i.tokens.RevokeAllForAccount(ctx, accountID); err != nil {
		return storeError("revoking refresh tokens", err)
	}
	if i.presence != nil {
		if err := i.presence.Clear(ctx, accountID); err != nil {
			i.logger.Warn("clearing presence", "account_id", accountID, "error", err)
		}
	}
	return nil
}

func (i *Issuer) issue(ctx context.Context, account *models.Account) (*LoginResult, error) {
	pair, refreshHash, err := i.jwt.GenerateTokenPair(account)
	if err != nil {
		return nil, fmt.Errorf("generating tokens: %w", err)
	}
	if _, err := i.tokens.Create(ctx, account.ID, refreshHash, i.jwt.RefreshTokenExpiry()); err != nil {
		return nil, storeError("storing refresh token", err)
	}

	now := time.Now().UTC()
	if err := i.accounts.TouchLastSeen(ctx, account.ID, now); err != nil {
		i.logger.Warn("updating last seen", "account_id", account.ID, "error", err)
	} else {
		account.LastSeenAt = &now
	}

	status := presence.StatusOnline
	if i.presence != nil {
		if err := i.presence.Set(ctx, account.ID, presence.StatusOnline); err != nil {
			i.logger.Warn("setting presence", "account_id", account.ID, "error", err)
		}
	}

	return &LoginResult{Account: account, Tokens: pair, OnlineStatus: status}, nil
}

func (i *Issuer) status(ctx context.Context, accountID string) string {
	if i.presence == nil {
		return presence.StatusOffline
	}
	status, err := i.presence.Status(ctx, accountID)
	if err != nil {
		return presence.StatusOffline
	}
	return status
}

func storeError(op string, err error) error {
	if errors.Is(err, db.ErrUnavailable) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
