package auth

import "errors"

var (
	// ErrInvalidToken indicates a bearer token failed parsing or validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInvalidCredentials covers both unknown users and wrong passwords so
	// the two are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("auth: incorrect email or password")

	// ErrFederatedAccount is returned when a federated account attempts a
	// local password flow; such accounts have no usable password.
	ErrFederatedAccount = errors.New("auth: account uses single sign-on")

	// ErrMustResetPassword is returned on login when a forced reset is
	// pending. The presented password was correct.
	ErrMustResetPassword = errors.New("auth: password reset required")

	// ErrInvalidResetToken indicates a password reset token that is unknown,
	// expired or malformed.
	ErrInvalidResetToken = errors.New("auth: invalid password reset token")

	// ErrWeakPassword indicates the new password fails policy.
	ErrWeakPassword = errors.New("auth: password does not meet policy")

	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrRoleInUse blocks deleting a role while users are still assigned.
	ErrRoleInUse = errors.New("auth: users still assigned to role")
)
