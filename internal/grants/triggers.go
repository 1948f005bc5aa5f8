package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// HandleMemberRoleChange reacts to a live membership-role change for
// one member: sends the one-time benefits notice on tier upgrades, and
// runs the gift and custom-role revoke cascades immediately instead of
// waiting for the next sweep.
func (s *Service) HandleMemberRoleChange(ctx context.Context, userID string, before, after []string) {
	beforeSet := toSet(before)
	afterSet := toSet(after)

	var added, removed []string
	for id := range afterSet {
		if !beforeSet[id] {
			added = append(added, id)
		}
	}
	for id := range beforeSet {
		if !afterSet[id] {
			removed = append(removed, id)
		}
	}

	if len(added) > 0 {
		s.maybeSendBenefitsNotice(userID, added, after)
	}

	// gifting tier lost: premium channel and gifted credit go at once
	if giftRoleID, ok := s.resolver.RoleID(s.resolver.GiftEligibleTier()); ok && contains(removed, giftRoleID) {
		if _, err := s.DeletePremiumChannel(ctx, userID, "gifting tier lost"); err != nil {
			slog.Warn("Failed to delete premium channel on tier loss", "user", userID, "error", err)
		}
		if _, err := s.RevokeGiftCascade(ctx, userID, "owner lost gifting tier"); err != nil {
			slog.Warn("Failed to revoke gifted credit on tier loss", "user", userID, "error", err)
		}
	}

	// custom role goes only when every qualifying tier is gone
	qualifying := s.resolver.QualifyingRoleIDs()
	removedQualifying := false
	for _, id := range qualifying {
		if contains(removed, id) {
			removedQualifying = true
			break
		}
	}
	if !removedQualifying {
		return
	}
	hadAny := anyHeld(beforeSet, qualifying)
	hasAny := anyHeld(afterSet, qualifying)
	if hadAny && !hasAny {
		if err := s.RevokeCustomRole(ctx, userID, "all qualifying tiers lost"); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("Failed to revoke custom role on tier loss", "user", userID, "error", err)
		}
	}
}

// maybeSendBenefitsNotice DMs the user their unlocked commands, at
// most once per reached tier level: a user already notified at or
// above the current tier is never re-notified.
func (s *Service) maybeSendBenefitsNotice(userID string, added, after []string) {
	triggered := false
	for _, id := range added {
		if s.resolver.TierOf([]string{id}) >= membership.TierSilver {
			triggered = true
			break
		}
	}
	if !triggered {
		return
	}

	tier := s.resolver.TierOf(after)
	if tier < membership.TierSilver {
		return
	}
	if tier <= membership.ParseTier(s.store.NoticeTier(userID)) {
		return
	}

	msg := fmt.Sprintf("You now have **%s** membership! Here are your unlocked commands:\n\n%s",
		strings.ToUpper(tier.String()), benefitsText(tier))
	delivered := s.notify.DirectMessage(userID, msg)

	// recorded even when DMs are closed, so the user is not re-pinged
	// on every role update
	if err := s.store.SetNoticeTier(userID, tier.String()); err != nil {
		slog.Error("Failed to record benefits notice", "user", userID, "error", err)
	}
	if delivered {
		s.notify.Announce(fmt.Sprintf("Benefits notice sent: <@%s> (%s)", userID, tier))
	} else {
		s.notify.Announce(fmt.Sprintf("Benefits notice recorded, DM closed: <@%s> (%s)", userID, tier))
	}
}

func benefitsText(tier membership.Tier) string {
	var b strings.Builder
	b.WriteString("**From Silver:**\n")
	b.WriteString("• `/customrole add` — create your personal custom role\n")
	b.WriteString("• `/customrole rename` — rename your custom role\n")
	b.WriteString("• `/customrole change-color` — change its color or gradient\n")
	if tier >= membership.TierGold {
		b.WriteString("\n**From Gold:**\n")
		b.WriteString("• `/customrole share @user` — share your custom role\n")
		b.WriteString("• `/customrole unshare @user` — withdraw a share\n")
	}
	if tier >= membership.TierDiamond {
		b.WriteString("\n**From Diamond:**\n")
		b.WriteString("• `/customrole gift-silver @user` — gift Silver membership (1 credit)\n")
		b.WriteString("• `/customrole ungift-silver @user` — take the gift back\n")
		b.WriteString("• `/customrole add-channel` — create your private voice channel\n")
	}
	return b.String()
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func anyHeld(set map[string]bool, ids []string) bool {
	for _, id := range ids {
		if set[id] {
			return true
		}
	}
	return false
}
