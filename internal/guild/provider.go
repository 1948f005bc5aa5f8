// Package guild abstracts live guild state: members, roles and
// channels as Discord currently has them. The reconciliation core
// talks to the Provider interface; the discordgo-backed Session is the
// production implementation.
package guild

import (
	"context"
	"errors"
)

var (
	// ErrMemberNotFound means the user is not (or no longer) in the
	// guild.
	ErrMemberNotFound = errors.New("member not found")
	// ErrRoleNotFound means the role no longer exists in the guild.
	ErrRoleNotFound = errors.New("role not found")
	// ErrNotManageable means the bot lacks ManageRoles or its highest
	// role sits at or below the target role.
	ErrNotManageable = errors.New("role not manageable by bot")
	// ErrGradientUnavailable means the secondary role color could not
	// be applied; callers fall back to a solid color.
	ErrGradientUnavailable = errors.New("gradient role colors unavailable")
)

// Member is a guild member's identity and live role set.
type Member struct {
	ID       string
	Username string
	RoleIDs  []string
}

// HasRole reports whether the member currently holds the role.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role's identity and hierarchy position.
type Role struct {
	ID       string
	Name     string
	Position int
}

// Provider is the live guild state: every call is fallible and may
// observe state concurrently mutated by Discord itself.
type Provider interface {
	Member(ctx context.Context, userID string) (*Member, error)
	Role(ctx context.Context, roleID string) (*Role, error)

	AddRole(ctx context.Context, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, userID, roleID, reason string) error

	CreateRole(ctx context.Context, name, reason string) (*Role, error)
	DeleteRole(ctx context.Context, roleID, reason string) error
	RenameRole(ctx context.Context, roleID, name, reason string) error
	// SetRoleColors applies a primary color and, when secondary is
	// non-nil, a gradient. It returns ErrGradientUnavailable when the
	// gradient cannot be applied.
	SetRoleColors(ctx context.Context, roleID string, primary int, secondary *int) error
	// PlaceRoleBelow positions a role immediately below the anchor,
	// clamped under the bot's own highest role.
	PlaceRoleBelow(ctx context.Context, roleID, anchorRoleID string) error
	// EnsureManageable returns ErrNotManageable unless the bot may
	// manage the role.
	EnsureManageable(ctx context.Context, roleID string) error

	CreateVoiceChannel(ctx context.Context, name, parentID, ownerID string) (string, error)
	DeleteChannel(ctx context.Context, channelID, reason string) error
}
