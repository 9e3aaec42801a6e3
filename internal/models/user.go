package models

import "time"

// User status values as stored in the users table.
const (
	UserStatusActive          = "active"
	UserStatusPendingApproval = "pending_approval"
	UserStatusInactive        = "inactive"
	UserStatusAccessRevoked   = "access_revoked"
)

type User struct {
	UserBucket     int        `db:"user_bucket"`
	UserID         string     `db:"user_id"`
	Username       string     `db:"username"`
	PhoneHash      string     `db:"phone_hash"`
	PhoneEncrypted []byte     `db:"phone_encrypted"`
	PhoneKeyID     string     `db:"phone_key_id"`
	Email          string     `db:"email"`
	PasswordHash   string     `db:"password_hash"`
	Status         string     `db:"status"`
	FamilyID       string     `db:"family_id"`
	CreatedAt      time.Time  `db:"created_at"`
	LastLogin      *time.Time `db:"last_login"`
	UpdatedAt      *time.Time `db:"updated_at"`
}

// CanAuthenticate reports whether the account may attempt any login factor.
func (u *User) CanAuthenticate() bool {
	return u.Status == UserStatusActive
}
