package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studylib/internal/models"
)

const accountColumns = `id, name, email, password_hash, role, is_verified, verification_code,
	verification_expires_at, joined_global_chat, last_seen_at, created_at, updated_at`

// AccountRepository is the SQLite credential store.
type AccountRepository struct {
	db *DB
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts the account, assigning ID and CreatedAt when they are
// empty. A clash on the case-insensitive email returns ErrDuplicate.
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		id, err := NewID(AccountID)
		if err != nil {
			return fmt.Errorf("generating account ID: %w", err)
		}
		a.ID = id
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Role == "" {
		a.Role = models.RoleStudent
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, name, email, password_hash, role, is_verified, verification_code,
			verification_expires_at, joined_global_chat, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Email, a.PasswordHash, string(a.Role), a.IsVerified,
		ptrToNullString(a.VerificationCode), ptrToNullTime(a.VerificationExpiresAt),
		a.JoinedGlobalChat, a.CreatedAt.UTC(),
	)
	if err != nil {
		return classifyWriteError("creating account", err)
	}
	return nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ? COLLATE NOCASE`, email)
}

// MarkVerified completes verification only if the account is still pending
// with exactly this code. It reports whether the transition happened.
func (r *AccountRepository) MarkVerified(ctx context.Context, id, code string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		    SET is_verified = 1, verification_code = NULL, verification_expires_at = NULL, updated_at = ?
		  WHERE id = ? AND is_verified = 0 AND verification_code = ?`,
		time.Now().UTC(), id, code,
	)
	if err != nil {
		return false, unavailable("marking account verified", err)
	}
	return rowsChanged(result)
}

// RotateCode replaces the pending code and expiry in one statement. It
// reports false when the account is missing or already verified.
func (r *AccountRepository) RotateCode(ctx context.Context, id, code string, expiresAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		    SET verification_code = ?, verification_expires_at = ?, updated_at = ?
		  WHERE id = ? AND is_verified = 0`,
		code, expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return false, unavailable("rotating verification code", err)
	}
	return rowsChanged(result)
}

// ForceVerify marks the account verified regardless of its code.
func (r *AccountRepository) ForceVerify(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		    SET is_verified = 1, verification_code = NULL, verification_expires_at = NULL, updated_at = ?
		  WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable("force verifying account", err)
	}
	return checkRowsAffected(result)
}

func (r *AccountRepository) MarkJoinedGlobalChat(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET joined_global_chat = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return unavailable("marking global chat membership", err)
	}
	return checkRowsAffected(result)
}

func (r *AccountRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET last_seen_at = ? WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return unavailable("updating last seen", err)
	}
	return checkRowsAffected(result)
}

// AccountFilter selects accounts for listing and maintenance. Zero values
// match everything.
type AccountFilter struct {
	ExcludeRoles   []models.Role
	OnlyUnverified bool
	OnlyVerified   bool
	CreatedBefore  *time.Time
}

func (f AccountFilter) where() (string, []any) {
	var clauses []string
	var args []any

	if len(f.ExcludeRoles) > 0 {
		placeholders := make([]string, len(f.ExcludeRoles))
		for i, role := range f.ExcludeRoles {
			placeholders[i] = "?"
			args = append(args, string(role))
		}
		clauses = append(clauses, "role NOT IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.OnlyUnverified {
		clauses = append(clauses, "is_verified = 0")
	}
	if f.OnlyVerified {
		clauses = append(clauses, "is_verified = 1")
	}
	if f.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.CreatedBefore.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *AccountRepository) List(ctx context.Context, filter AccountFilter) ([]*models.Account, error) {
	where, args := filter.where()
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts`+where+` ORDER BY name, email`, args...)
	if err != nil {
		return nil, unavailable("querying accounts", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating accounts", err)
	}

	return accounts, nil
}

// DeleteMany removes every account matching the filter and returns the count.
func (r *AccountRepository) DeleteMany(ctx context.Context, filter AccountFilter) (int64, error) {
	where, args := filter.where()
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts`+where, args...)
	if err != nil {
		return 0, unavailable("deleting accounts", err)
	}
	return result.RowsAffected()
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("querying account", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	var role string
	var code sql.NullString
	var expiresAt, lastSeenAt, updatedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Email,
		&a.PasswordHash,
		&role,
		&a.IsVerified,
		&code,
		&expiresAt,
		&a.JoinedGlobalChat,
		&lastSeenAt,
		&a.CreatedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Role = models.Role(role)
	a.VerificationCode = nullStringToPtr(code)
	a.VerificationExpiresAt = nullTimeToPtr(expiresAt)
	a.LastSeenAt = nullTimeToPtr(lastSeenAt)
	a.UpdatedAt = nullTimeToPtr(updatedAt)

	return &a, nil
}

func rowsChanged(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}
