package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studylib/internal/models"
)

type RefreshTokenRepository struct {
	db *DB
}

func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.RefreshToken, error) {
	id, err := NewID(RefreshTokenID)
	if err != nil {
		return nil, fmt.Errorf("generating refresh token ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, accountID, tokenHash, expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, classifyWriteError("creating refresh token", err)
	}

	return &models.RefreshToken{
		ID:        id,
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

func (r *RefreshTokenRepository) FindByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	var revokedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, token_hash, expires_at, created_at, revoked_at FROM refresh_tokens WHERE token_hash = ?`,
		tokenHash,
	).Scan(&t.ID, &t.AccountID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &revokedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying refresh token", err)
	}

	t.RevokedAt = nullTimeToPtr(revokedAt)

	return &t, nil
}

// Rotate revokes the consumed token and stores its replacement in one
// transaction. ErrNotFound means the consumed token was already revoked or
// has expired.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, consumedTokenID, accountID, newTokenHash string, newExpiresAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("starting refresh token rotation transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens
         SET revoked_at = ?
       WHERE id = ?
         AND revoked_at IS NULL
         AND expires_at > ?`,
		now,
		consumedTokenID,
		now,
	)
	if err != nil {
		return unavailable("revoking token during rotation", err)
	}

	if err := checkRowsAffected(result); err != nil {
		return err
	}

	newID, err := NewID(RefreshTokenID)
	if err != nil {
		return fmt.Errorf("generating rotated refresh token ID: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		newID,
		accountID,
		newTokenHash,
		newExpiresAt.UTC(),
		now,
	)
	if err != nil {
		return classifyWriteError("creating rotated refresh token", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("committing refresh token rotation", err)
	}

	return nil
}

func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ? WHERE account_id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), accountID,
	)
	if err != nil {
		return unavailable("revoking account tokens", err)
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, unavailable("deleting expired tokens", err)
	}

	return result.RowsAffected()
}
