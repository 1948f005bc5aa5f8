package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// CustomRoleResult reports a created or recolored custom role and
// whether the requested gradient had to fall back to a solid color.
type CustomRoleResult struct {
	RoleID       string
	GradientNote string
}

// CreateCustomRole creates the user's one custom role: validates name
// and colors, creates the live role below the configured anchor,
// assigns it, then records it.
func (s *Service) CreateCustomRole(ctx context.Context, userID, rawName, primaryHex, secondaryHex string) (CustomRoleResult, error) {
	member, err := s.guild.Member(ctx, userID)
	if err != nil {
		return CustomRoleResult{}, err
	}
	if !s.resolver.QualifiesForCustomRole(member.RoleIDs) {
		return CustomRoleResult{}, ErrNotEligible
	}
	if _, ok := s.store.GetCustomRole(userID); ok {
		return CustomRoleResult{}, store.ErrAlreadyExists
	}

	name, err := ValidateRoleName(rawName, s.settings.BannedWords)
	if err != nil {
		return CustomRoleResult{}, err
	}
	primary, err := ParseHexColor(primaryHex)
	if err != nil {
		return CustomRoleResult{}, err
	}
	var secondary *int
	if secondaryHex != "" {
		c, err := ParseHexColor(secondaryHex)
		if err != nil {
			return CustomRoleResult{}, err
		}
		secondary = &c
	}

	if s.settings.AnchorRoleID == "" {
		return CustomRoleResult{}, &ValidationError{Reason: "no anchor role configured for custom roles"}
	}

	// establishing steps: any failure unwinds the role and aborts
	// before the store write
	role, err := s.guild.CreateRole(ctx, s.settings.CustomRolePrefix+name,
		fmt.Sprintf("custom role for user %s", userID))
	if err != nil {
		return CustomRoleResult{}, err
	}
	abort := func(cause error) (CustomRoleResult, error) {
		if delErr := s.guild.DeleteRole(ctx, role.ID, "custom role creation rolled back"); delErr != nil {
			slog.Warn("Failed to roll back custom role", "role", role.ID, "error", delErr)
		}
		return CustomRoleResult{}, cause
	}

	if err := s.guild.PlaceRoleBelow(ctx, role.ID, s.settings.AnchorRoleID); err != nil {
		return abort(err)
	}
	if err := s.guild.EnsureManageable(ctx, role.ID); err != nil {
		return abort(err)
	}

	note := s.applyRoleColors(ctx, role.ID, primary, secondary)

	if err := s.guild.AddRole(ctx, userID, role.ID, "custom role granted"); err != nil {
		return abort(err)
	}
	if err := s.store.CreateCustomRole(userID, role.ID, time.Now().UTC()); err != nil {
		if rmErr := s.guild.RemoveRole(ctx, userID, role.ID, "custom role creation rolled back"); rmErr != nil {
			slog.Warn("Failed to remove rolled-back custom role from owner", "user", userID, "error", rmErr)
		}
		return abort(err)
	}

	s.notify.Announce(fmt.Sprintf("Custom role created: <@%s> — <@&%s>", userID, role.ID))
	return CustomRoleResult{RoleID: role.ID, GradientNote: note}, nil
}

// applyRoleColors sets the colors, falling back to the solid primary
// when the gradient is unavailable. Color failures never abort the
// surrounding operation.
func (s *Service) applyRoleColors(ctx context.Context, roleID string, primary int, secondary *int) string {
	err := s.guild.SetRoleColors(ctx, roleID, primary, secondary)
	if err == nil {
		return ""
	}
	if secondary != nil {
		if fbErr := s.guild.SetRoleColors(ctx, roleID, primary, nil); fbErr != nil {
			slog.Warn("Failed to set fallback role color", "role", roleID, "error", fbErr)
		}
		return "gradient unavailable, applied solid color"
	}
	slog.Warn("Failed to set role color", "role", roleID, "error", err)
	return ""
}

// RenameCustomRole renames the user's custom role.
func (s *Service) RenameCustomRole(ctx context.Context, userID, rawName string) error {
	rec, ok := s.store.GetCustomRole(userID)
	if !ok {
		return store.ErrNotFound
	}
	name, err := ValidateRoleName(rawName, s.settings.BannedWords)
	if err != nil {
		return err
	}
	if err := s.guild.EnsureManageable(ctx, rec.RoleID); err != nil {
		return err
	}
	return s.guild.RenameRole(ctx, rec.RoleID, s.settings.CustomRolePrefix+name,
		fmt.Sprintf("custom role renamed by %s", userID))
}

// ChangeCustomRoleColor recolors the user's custom role, with the same
// gradient fallback as creation.
func (s *Service) ChangeCustomRoleColor(ctx context.Context, userID, primaryHex, secondaryHex string) (CustomRoleResult, error) {
	rec, ok := s.store.GetCustomRole(userID)
	if !ok {
		return CustomRoleResult{}, store.ErrNotFound
	}
	primary, err := ParseHexColor(primaryHex)
	if err != nil {
		return CustomRoleResult{}, err
	}
	var secondary *int
	if secondaryHex != "" {
		c, err := ParseHexColor(secondaryHex)
		if err != nil {
			return CustomRoleResult{}, err
		}
		secondary = &c
	}
	if err := s.guild.EnsureManageable(ctx, rec.RoleID); err != nil {
		return CustomRoleResult{}, err
	}
	note := s.applyRoleColors(ctx, rec.RoleID, primary, secondary)
	return CustomRoleResult{RoleID: rec.RoleID, GradientNote: note}, nil
}

// ShareCustomRole shares the owner's custom role with another user.
// The share is persisted before the live grant; a live-grant failure
// rolls the persisted share back so the store stays truthful.
func (s *Service) ShareCustomRole(ctx context.Context, ownerID, targetID string) error {
	owner, err := s.guild.Member(ctx, ownerID)
	if err != nil {
		return err
	}
	tier := s.resolver.TierOf(owner.RoleIDs)
	if !s.resolver.IsShareEligible(tier) {
		return ErrNotEligible
	}
	rec, ok := s.store.GetCustomRole(ownerID)
	if !ok {
		return store.ErrNotFound
	}
	if _, err := s.guild.Member(ctx, targetID); err != nil {
		return err
	}

	// the limit is re-checked against the freshest state inside the
	// store; a lost race surfaces as ErrLimitReached here
	limit := s.resolver.ShareLimit(tier)
	if err := s.store.AddShare(ownerID, targetID, limit); err != nil {
		return err
	}
	if err := s.guild.AddRole(ctx, targetID, rec.RoleID, fmt.Sprintf("custom role shared by %s", ownerID)); err != nil {
		if _, rbErr := s.store.RemoveShare(ownerID, targetID); rbErr != nil {
			slog.Error("Failed to roll back share", "owner", ownerID, "target", targetID, "error", rbErr)
		}
		return err
	}

	s.notify.Announce(fmt.Sprintf("Custom role shared: <@%s> → <@%s> (<@&%s>)", ownerID, targetID, rec.RoleID))
	return nil
}

// UnshareCustomRole withdraws a share. The live role is removed
// best-effort; the store removal is unconditional.
func (s *Service) UnshareCustomRole(ctx context.Context, ownerID, targetID string) error {
	rec, ok := s.store.GetCustomRole(ownerID)
	if !ok {
		return store.ErrNotFound
	}
	if !rec.Shared(targetID) {
		return ErrNotShared
	}

	if err := s.guild.RemoveRole(ctx, targetID, rec.RoleID, fmt.Sprintf("custom role share withdrawn by %s", ownerID)); err != nil {
		slog.Warn("Failed to remove shared role", "target", targetID, "role", rec.RoleID, "error", err)
	}
	if _, err := s.store.RemoveShare(ownerID, targetID); err != nil {
		return err
	}

	s.notify.Announce(fmt.Sprintf("Custom role share withdrawn: <@%s> ⇥ <@%s>", ownerID, targetID))
	return nil
}

// RevokeCustomRole runs the full revoke cascade: strip the live role
// from the owner and every shared user, optionally delete the role
// object, and delete the record. Used when the owner loses all
// qualifying tiers or leaves the guild.
func (s *Service) RevokeCustomRole(ctx context.Context, ownerID, reason string) error {
	rec, ok := s.store.GetCustomRole(ownerID)
	if !ok {
		return store.ErrNotFound
	}

	owner, err := s.guild.Member(ctx, ownerID)
	if err != nil && !errors.Is(err, guild.ErrMemberNotFound) {
		slog.Warn("Failed to fetch custom role owner", "owner", ownerID, "error", err)
	}
	if owner != nil && owner.HasRole(rec.RoleID) {
		if err := s.guild.RemoveRole(ctx, ownerID, rec.RoleID, reason); err != nil {
			slog.Warn("Failed to remove custom role from owner", "owner", ownerID, "error", err)
		}
	}

	for _, userID := range rec.SharedWith {
		m, err := s.guild.Member(ctx, userID)
		if err != nil || !m.HasRole(rec.RoleID) {
			continue
		}
		if err := s.guild.RemoveRole(ctx, userID, rec.RoleID, reason); err != nil {
			slog.Warn("Failed to remove shared custom role", "user", userID, "error", err)
		}
	}

	if s.settings.DeleteRoleOnRevoke {
		if err := s.guild.DeleteRole(ctx, rec.RoleID, reason); err != nil {
			slog.Warn("Failed to delete custom role object", "role", rec.RoleID, "error", err)
		}
	}

	if _, err := s.store.RemoveCustomRole(ownerID); err != nil {
		return err
	}
	s.notify.Announce(fmt.Sprintf("Custom role revoked: <@%s> (%s)", ownerID, reason))
	return nil
}
