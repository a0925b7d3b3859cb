package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
}

// UserStore manages local identities.
type UserStore interface {
	Find(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error
	Profile(ctx context.Context, id int64) (*Profile, error)
}

// RoleStore manages roles and answers the authorization predicate.
type RoleStore interface {
	List(ctx context.Context) ([]RoleSummary, error)
	Find(ctx context.Context, id int64) (*RoleDetail, error)
	Create(ctx context.Context, role *Role) error
	Rename(ctx context.Context, id int64, name string) error
	Delete(ctx context.Context, id int64) error
	SetPermission(ctx context.Context, roleID int64, perm Permission, enabled bool) error

	// Authorized evaluates the bitmap intersection for one user in a single
	// query pushed down to the storage layer. A user without a role is
	// denied, not an error.
	Authorized(ctx context.Context, userID int64, required Bitmap) (bool, error)
}
