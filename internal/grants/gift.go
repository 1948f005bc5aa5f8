package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// GiftTierCredit spends the owner's single gift credit on a target,
// granting them the configured gifted tier role. The live grant comes
// first; if the credit record cannot be persisted afterwards the
// operation reports the error and leaves the live role for the gifted
// sweep to reconcile.
func (s *Service) GiftTierCredit(ctx context.Context, ownerID, targetID string) error {
	owner, err := s.guild.Member(ctx, ownerID)
	if err != nil {
		return err
	}
	if s.resolver.TierOf(owner.RoleIDs) != s.resolver.GiftEligibleTier() {
		return ErrNotEligible
	}
	if _, ok := s.store.GetGiftedCredit(ownerID); ok {
		return store.ErrCreditUsed
	}

	target, err := s.guild.Member(ctx, targetID)
	if err != nil {
		return err
	}
	if !s.settings.AllowGiftToTiered && s.resolver.TierOf(target.RoleIDs) != membership.TierNone {
		return ErrTargetIneligible
	}

	giftedRoleID, ok := s.resolver.RoleID(s.resolver.GiftedTier())
	if !ok {
		return fmt.Errorf("no role configured for gifted tier %s", s.resolver.GiftedTier())
	}

	if err := s.guild.AddRole(ctx, targetID, giftedRoleID,
		fmt.Sprintf("membership gifted by %s", ownerID)); err != nil {
		return err
	}
	if err := s.store.AddGiftedCredit(ownerID, targetID, time.Now().UTC()); err != nil {
		// the live role stays; the sweep only heals recorded credits,
		// so this is surfaced loudly for manual correction
		slog.Error("Gifted role applied but credit not persisted", "owner", ownerID, "target", targetID, "error", err)
		return err
	}

	s.notify.Announce(fmt.Sprintf("Membership gifted: <@%s> → <@%s> (%s)", ownerID, targetID, s.resolver.GiftedTier()))
	return nil
}

// RevokeGiftCredit takes the gift back and frees the owner's credit.
// targetID may be empty; when named it must match the active credit's
// target.
func (s *Service) RevokeGiftCredit(ctx context.Context, ownerID, targetID string) error {
	credit, ok := s.store.GetGiftedCredit(ownerID)
	if !ok {
		return ErrNoActiveCredit
	}
	if targetID != "" && targetID != credit.TargetID {
		return ErrTargetMismatch
	}

	s.removeGiftedRole(ctx, credit.TargetID, fmt.Sprintf("gift revoked by %s", ownerID))
	if _, err := s.store.RemoveGiftedCredit(ownerID); err != nil {
		return err
	}

	s.notify.Announce(fmt.Sprintf("Gifted membership revoked: <@%s> ⇥ <@%s>", ownerID, credit.TargetID))
	return nil
}

// RevokeGiftCascade destroys the owner's credit because the owner lost
// eligibility or left. The record is destroyed first so a failing
// live-role removal cannot cause a double revoke later; the role
// removal is best-effort.
func (s *Service) RevokeGiftCascade(ctx context.Context, ownerID, reason string) (bool, error) {
	credit, ok := s.store.GetGiftedCredit(ownerID)
	if !ok {
		return false, nil
	}
	if _, err := s.store.RemoveGiftedCredit(ownerID); err != nil {
		return false, err
	}
	s.removeGiftedRole(ctx, credit.TargetID, reason)
	s.notify.Announce(fmt.Sprintf("Gifted membership revoked: <@%s> ⇥ <@%s> (%s)", ownerID, credit.TargetID, reason))
	return true, nil
}

func (s *Service) removeGiftedRole(ctx context.Context, targetID, reason string) {
	giftedRoleID, ok := s.resolver.RoleID(s.resolver.GiftedTier())
	if !ok {
		slog.Warn("No role configured for gifted tier, record cleared only", "target", targetID)
		return
	}
	target, err := s.guild.Member(ctx, targetID)
	if errors.Is(err, guild.ErrMemberNotFound) {
		return
	}
	if err != nil {
		slog.Warn("Failed to fetch gift target", "target", targetID, "error", err)
		return
	}
	if !target.HasRole(giftedRoleID) {
		return
	}
	if err := s.guild.RemoveRole(ctx, targetID, giftedRoleID, reason); err != nil {
		slog.Warn("Failed to remove gifted role", "target", targetID, "error", err)
	}
}
