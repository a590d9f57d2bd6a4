package models

import "time"

type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Account is a registered library user. VerificationCode and
// VerificationExpiresAt are both set while the account is pending and both
// nil once it is verified.
type Account struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Role                  Role
	IsVerified            bool
	VerificationCode      *string
	VerificationExpiresAt *time.Time
	JoinedGlobalChat      bool
	LastSeenAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             *time.Time
}

func (a *Account) IsPending() bool {
	return !a.IsVerified && a.VerificationCode != nil && a.VerificationExpiresAt != nil
}

func (a *Account) Summary() *AccountSummary {
	return &AccountSummary{
		ID:               a.ID,
		Name:             a.Name,
		Email:            a.Email,
		Role:             a.Role,
		IsVerified:       a.IsVerified,
		JoinedGlobalChat: a.JoinedGlobalChat,
		LastSeenAt:       a.LastSeenAt,
		CreatedAt:        a.CreatedAt,
	}
}

// AccountSummary is the client-facing view of an Account.
type AccountSummary struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Email            string     `json:"email,omitempty"`
	Role             Role       `json:"role"`
	IsVerified       bool       `json:"isVerified"`
	JoinedGlobalChat bool       `json:"joinedGlobalChat"`
	OnlineStatus     string     `json:"onlineStatus,omitempty"`
	LastSeenAt       *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type RefreshToken struct {
	ID        string
	AccountID string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}
