package auth

import (
	"errors"
)

// Common auth errors
var (
	ErrInvalidToken            = errors.New("invalid or expired token")
	ErrInsufficientPermissions = errors.New("insufficient permissions")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrTokenExpired            = errors.New("token has expired")
	ErrRefreshTokenInvalid     = errors.New("refresh token is invalid or expired")
	ErrUserNotInWorkspace      = errors.New("user is not a member of this workspace")
	ErrWorkspaceNotFound       = errors.New("workspace not found")
)
