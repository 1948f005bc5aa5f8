package guild

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Session implements Provider against a single guild through
// discordgo.
type Session struct {
	s           *discordgo.Session
	guildID     string
	adminRoleID string
}

// NewSession wraps a discordgo session for one guild. adminRoleID, if
// set, is granted access to created premium channels.
func NewSession(s *discordgo.Session, guildID, adminRoleID string) *Session {
	return &Session{s: s, guildID: guildID, adminRoleID: adminRoleID}
}

func (g *Session) Member(ctx context.Context, userID string) (*Member, error) {
	m, err := g.s.GuildMember(g.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		if isUnknownEntity(err) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to fetch member %s: %w", userID, err)
	}
	return &Member{
		ID:       userID,
		Username: m.User.Username,
		RoleIDs:  m.Roles,
	}, nil
}

func (g *Session) Role(ctx context.Context, roleID string) (*Role, error) {
	roles, err := g.s.GuildRoles(g.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &Role{ID: r.ID, Name: r.Name, Position: r.Position}, nil
		}
	}
	return nil, ErrRoleNotFound
}

func (g *Session) AddRole(ctx context.Context, userID, roleID, reason string) error {
	err := g.s.GuildMemberRoleAdd(g.guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("failed to add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

func (g *Session) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	err := g.s.GuildMemberRoleRemove(g.guildID, userID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("failed to remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

func (g *Session) CreateRole(ctx context.Context, name, reason string) (*Role, error) {
	params := &discordgo.RoleParams{
		Name:        name,
		Hoist:       boolPtr(false),
		Mentionable: boolPtr(false),
	}
	r, err := g.s.GuildRoleCreate(g.guildID, params,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return nil, fmt.Errorf("failed to create role %q: %w", name, err)
	}
	return &Role{ID: r.ID, Name: r.Name, Position: r.Position}, nil
}

func (g *Session) DeleteRole(ctx context.Context, roleID, reason string) error {
	err := g.s.GuildRoleDelete(g.guildID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("failed to delete role %s: %w", roleID, err)
	}
	return nil
}

func (g *Session) RenameRole(ctx context.Context, roleID, name, reason string) error {
	_, err := g.s.GuildRoleEdit(g.guildID, roleID, &discordgo.RoleParams{Name: name},
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("failed to rename role %s: %w", roleID, err)
	}
	return nil
}

func (g *Session) SetRoleColors(ctx context.Context, roleID string, primary int, secondary *int) error {
	// The REST client exposes only a single role color; enhanced role
	// styles (gradients) are not available through it. Callers fall
	// back to the solid primary color.
	if secondary != nil {
		return ErrGradientUnavailable
	}
	_, err := g.s.GuildRoleEdit(g.guildID, roleID, &discordgo.RoleParams{Color: &primary},
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to set color on role %s: %w", roleID, err)
	}
	return nil
}

func (g *Session) PlaceRoleBelow(ctx context.Context, roleID, anchorRoleID string) error {
	roles, err := g.s.GuildRoles(g.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch roles: %w", err)
	}

	var anchorPos int
	found := false
	for _, r := range roles {
		if r.ID == anchorRoleID {
			anchorPos = r.Position
			found = true
			break
		}
	}
	if !found {
		return ErrRoleNotFound
	}

	botTop, err := g.botTopPosition(ctx, roles)
	if err != nil {
		return err
	}

	// directly below the anchor, never at or above the bot's own top
	// role
	target := anchorPos - 1
	if target >= botTop {
		target = botTop - 1
	}
	if target < 1 {
		target = 1
	}

	_, err = g.s.GuildRoleReorder(g.guildID, []*discordgo.Role{{ID: roleID, Position: target}},
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reposition role %s: %w", roleID, err)
	}
	return nil
}

func (g *Session) EnsureManageable(ctx context.Context, roleID string) error {
	roles, err := g.s.GuildRoles(g.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch roles: %w", err)
	}

	me, err := g.s.GuildMember(g.guildID, g.s.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to fetch bot member: %w", err)
	}

	byID := make(map[string]*discordgo.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	var perms int64
	botTop := 0
	for _, id := range me.Roles {
		r, ok := byID[id]
		if !ok {
			continue
		}
		perms |= r.Permissions
		if r.Position > botTop {
			botTop = r.Position
		}
	}

	if perms&discordgo.PermissionAdministrator == 0 && perms&discordgo.PermissionManageRoles == 0 {
		return ErrNotManageable
	}

	target, ok := byID[roleID]
	if !ok {
		return ErrRoleNotFound
	}
	if target.Position >= botTop {
		return ErrNotManageable
	}
	return nil
}

func (g *Session) botTopPosition(ctx context.Context, roles []*discordgo.Role) (int, error) {
	me, err := g.s.GuildMember(g.guildID, g.s.State.User.ID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("failed to fetch bot member: %w", err)
	}
	held := make(map[string]bool, len(me.Roles))
	for _, id := range me.Roles {
		held[id] = true
	}
	top := 0
	for _, r := range roles {
		if held[r.ID] && r.Position > top {
			top = r.Position
		}
	}
	return top, nil
}

// CreateVoiceChannel builds a private voice channel: hidden from
// everyone, full control for the owner, access for the admin role when
// configured.
func (g *Session) CreateVoiceChannel(ctx context.Context, name, parentID, ownerID string) (string, error) {
	ownerAllow := int64(discordgo.PermissionViewChannel |
		discordgo.PermissionVoiceConnect |
		discordgo.PermissionVoiceSpeak |
		discordgo.PermissionVoiceStreamVideo |
		discordgo.PermissionVoiceUseVAD |
		discordgo.PermissionVoiceMoveMembers |
		discordgo.PermissionVoiceMuteMembers |
		discordgo.PermissionVoiceDeafenMembers |
		discordgo.PermissionManageChannels |
		discordgo.PermissionManageRoles)

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// @everyone shares its ID with the guild
			ID:   g.guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect,
		},
		{
			ID:    ownerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: ownerAllow,
		},
	}
	if g.adminRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:   g.adminRoleID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect |
				discordgo.PermissionVoiceSpeak | discordgo.PermissionManageChannels |
				discordgo.PermissionVoiceMoveMembers,
		})
	}

	ch, err := g.s.GuildChannelCreateComplex(g.guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildVoice,
		ParentID:             parentID,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create voice channel %q: %w", name, err)
	}
	return ch.ID, nil
}

func (g *Session) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := g.s.ChannelDelete(channelID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("failed to delete channel %s: %w", channelID, err)
	}
	return nil
}

func isUnknownEntity(err error) bool {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownRole:
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
