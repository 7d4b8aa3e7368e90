package router

import (
	"context"

	"broadcastbot/internal/storage"
)

// Access is the level a command or callback requires.
type Access int

const (
	AccessEveryone Access = iota
	AccessModerator
	AccessAdmin
)

func (a Access) String() string {
	switch a {
	case AccessModerator:
		return "moderator"
	case AccessAdmin:
		return "admin"
	}
	return "everyone"
}

// RoleResolver looks up the stored role of a user.
type RoleResolver interface {
	Role(ctx context.Context, userID int64) (storage.Role, error)
}

// capabilities maps each role to the access levels it holds.
var capabilities = map[storage.Role][]Access{
	storage.RoleUser:      {AccessEveryone},
	storage.RoleModerator: {AccessEveryone, AccessModerator},
	storage.RoleAdmin:     {AccessEveryone, AccessModerator, AccessAdmin},
}

// Allowed reports whether role holds access. Unknown roles hold nothing but
// AccessEveryone.
func Allowed(role storage.Role, need Access) bool {
	if need == AccessEveryone {
		return true
	}
	for _, a := range capabilities[role] {
		if a == need {
			return true
		}
	}
	return false
}
