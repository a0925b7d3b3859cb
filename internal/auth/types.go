package auth

import "time"

// User is a local identity. A non-empty ExternalID marks the account as
// federated: it was provisioned through the SSO callback and local password
// flows are disabled for it.
type User struct {
	ID                int64
	Email             string
	DisplayName       string
	PasswordHash      string
	ExternalID        string
	RoleID            int64
	MustResetPassword bool
	ResetTokenHash    string
	ResetTokenExpires time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsFederated reports whether the account is owned by the external identity
// provider.
func (u *User) IsFederated() bool { return u.ExternalID != "" }

// Role groups permissions behind one fixed-width bitmap.
type Role struct {
	ID          int64
	Name        string
	Permissions Bitmap
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleSummary is the list projection of a role.
type RoleSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserSummary is the projection of a user embedded in role detail.
type UserSummary struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// RoleDetail is a role with its canonical bitmap string and assigned users.
type RoleDetail struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Permissions string        `json:"permissions"`
	Users       []UserSummary `json:"users"`
}

// Profile is the authenticated user's own view.
type Profile struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
	IsFederated bool   `json:"is_federated"`
}

// TokenPair carries freshly minted bearer credentials. RefreshToken is empty
// when only the access token was re-issued.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
}
