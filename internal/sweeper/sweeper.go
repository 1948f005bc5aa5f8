// Package sweeper is the reconciliation scheduler: periodic sweeps
// over the grant store that correct drift against live guild state.
// Each sweep tolerates per-item failures and keeps going; no sweep
// holds a lock over the store.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
	"github.com/Bruh61/m-membership-dc-bot/internal/grants"
	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// defaultItemDelay throttles guild API calls between sweep items.
const defaultItemDelay = 300 * time.Millisecond

// Sweeper runs the four drift-correction passes.
type Sweeper struct {
	store    *store.Store
	guild    guild.Provider
	svc      *grants.Service
	notify   grants.Notifier
	resolver *membership.Resolver
	settings *config.Settings

	now   func() time.Time
	delay time.Duration
}

// New wires a Sweeper.
func New(st *store.Store, g guild.Provider, svc *grants.Service, n grants.Notifier, r *membership.Resolver, settings *config.Settings) *Sweeper {
	return &Sweeper{
		store:    st,
		guild:    g,
		svc:      svc,
		notify:   n,
		resolver: r,
		settings: settings,
		now:      time.Now,
		delay:    defaultItemDelay,
	}
}

func (s *Sweeper) throttle(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.delay):
	}
}

// SweepExpired removes every temp role whose expiry has passed: the
// live role goes best-effort, the entry goes unconditionally, and one
// notification is emitted per removal.
func (s *Sweeper) SweepExpired(ctx context.Context) {
	now := s.now()
	for _, e := range s.store.ListTempRoles() {
		if ctx.Err() != nil {
			return
		}
		if e.ExpiresAt.After(now) {
			continue
		}

		member, err := s.guild.Member(ctx, e.UserID)
		switch {
		case errors.Is(err, guild.ErrMemberNotFound):
			// entry outlived the member
		case err != nil:
			slog.Error("Expiry sweep: member fetch failed", "user", e.UserID, "error", err)
			continue
		default:
			if _, roleErr := s.guild.Role(ctx, e.RoleID); errors.Is(roleErr, guild.ErrRoleNotFound) {
				// role object gone, drop the record
			} else if member.HasRole(e.RoleID) {
				if rmErr := s.guild.RemoveRole(ctx, e.UserID, e.RoleID, "temp role expired"); rmErr != nil {
					slog.Warn("Expiry sweep: role removal failed", "user", e.UserID, "role", e.RoleID, "error", rmErr)
				}
			}
		}

		if _, err := s.store.RemoveTempRole(e.UserID, e.RoleID); err != nil {
			slog.Error("Expiry sweep: entry removal failed", "user", e.UserID, "role", e.RoleID, "error", err)
			continue
		}
		s.notify.Announce(fmt.Sprintf("Temp role expired: <@%s> — <@&%s>", e.UserID, e.RoleID))
		s.throttle(ctx)
	}
}

// SweepWarnings emits a one-time warning for every unwarned entry
// whose remaining time is inside the configured threshold.
func (s *Sweeper) SweepWarnings(ctx context.Context) {
	now := s.now()
	threshold := time.Duration(s.settings.WarnThresholdDays) * 24 * time.Hour
	for _, e := range s.store.ListTempRoles() {
		if ctx.Err() != nil {
			return
		}
		if e.Warned {
			continue
		}
		remaining := e.ExpiresAt.Sub(now)
		if remaining <= 0 || remaining > threshold {
			continue
		}
		if !s.store.MarkWarned(e.UserID, e.RoleID) {
			continue
		}
		s.notify.Announce(fmt.Sprintf("Temp role expiring soon: <@%s> — <@&%s>, %s remaining",
			e.UserID, e.RoleID, remaining.Round(time.Minute)))
		s.throttle(ctx)
	}
}

// SweepCustomRoles corrects custom-role drift: owners who left or no
// longer qualify lose the role entirely; surviving records get their
// share lists pruned of departed users, cleared when the owner lost
// share eligibility, and trimmed to the current limit.
func (s *Sweeper) SweepCustomRoles(ctx context.Context) {
	for _, rec := range s.store.ListCustomRoles() {
		if ctx.Err() != nil {
			return
		}
		if err := s.sweepCustomRole(ctx, rec); err != nil {
			slog.Error("Custom-role sweep item failed", "owner", rec.OwnerID, "error", err)
		}
		s.throttle(ctx)
	}
}

func (s *Sweeper) sweepCustomRole(ctx context.Context, rec store.CustomRoleGrant) error {
	owner, err := s.guild.Member(ctx, rec.OwnerID)
	if errors.Is(err, guild.ErrMemberNotFound) {
		return s.svc.RevokeCustomRole(ctx, rec.OwnerID, "owner left the guild")
	}
	if err != nil {
		return err
	}
	if !s.resolver.QualifiesForCustomRole(owner.RoleIDs) {
		return s.svc.RevokeCustomRole(ctx, rec.OwnerID, "owner no longer qualifies")
	}

	tier := s.resolver.TierOf(owner.RoleIDs)
	kept := make([]string, 0, len(rec.SharedWith))
	var dropped []string

	if !s.resolver.IsShareEligible(tier) {
		dropped = rec.SharedWith
	} else {
		limit := s.resolver.ShareLimit(tier)
		for _, userID := range rec.SharedWith {
			m, err := s.guild.Member(ctx, userID)
			if errors.Is(err, guild.ErrMemberNotFound) {
				continue // departed user: silently pruned
			}
			if err != nil {
				// keep on transient failure rather than dropping a
				// valid share
				kept = append(kept, userID)
				continue
			}
			if len(kept) < limit {
				kept = append(kept, userID)
			} else {
				dropped = append(dropped, m.ID)
			}
		}
	}

	for _, userID := range dropped {
		if err := s.guild.RemoveRole(ctx, userID, rec.RoleID, "custom role share no longer allowed"); err != nil {
			slog.Warn("Custom-role sweep: share removal failed", "user", userID, "error", err)
		}
	}

	if len(kept) == len(rec.SharedWith) {
		return nil // no change, no write
	}
	return s.store.SetShares(rec.OwnerID, kept)
}

// SweepGiftedCredits corrects gifted-credit drift: credits whose
// target or owner left are destroyed, owners who lost eligibility are
// revoked, and a valid credit whose target is missing the live role is
// re-applied.
func (s *Sweeper) SweepGiftedCredits(ctx context.Context) {
	giftedRoleID, haveGiftedRole := s.resolver.RoleID(s.resolver.GiftedTier())

	for _, credit := range s.store.ListGiftedCredits() {
		if ctx.Err() != nil {
			return
		}

		target, targetErr := s.guild.Member(ctx, credit.TargetID)
		if errors.Is(targetErr, guild.ErrMemberNotFound) {
			if _, err := s.store.RemoveGiftedCredit(credit.OwnerID); err != nil {
				slog.Error("Gift sweep: credit removal failed", "owner", credit.OwnerID, "error", err)
			} else {
				s.notify.Announce(fmt.Sprintf("Gifted membership cleared: target <@%s> left (owner <@%s>)",
					credit.TargetID, credit.OwnerID))
			}
			s.throttle(ctx)
			continue
		}
		if targetErr != nil {
			slog.Error("Gift sweep: target fetch failed", "target", credit.TargetID, "error", targetErr)
			continue
		}

		owner, ownerErr := s.guild.Member(ctx, credit.OwnerID)
		switch {
		case errors.Is(ownerErr, guild.ErrMemberNotFound):
			if _, err := s.svc.RevokeGiftCascade(ctx, credit.OwnerID, "owner left the guild"); err != nil {
				slog.Error("Gift sweep: revoke failed", "owner", credit.OwnerID, "error", err)
			}
		case ownerErr != nil:
			slog.Error("Gift sweep: owner fetch failed", "owner", credit.OwnerID, "error", ownerErr)
			continue
		case s.resolver.TierOf(owner.RoleIDs) != s.resolver.GiftEligibleTier():
			if _, err := s.svc.RevokeGiftCascade(ctx, credit.OwnerID, "owner lost gifting tier"); err != nil {
				slog.Error("Gift sweep: revoke failed", "owner", credit.OwnerID, "error", err)
			}
		case haveGiftedRole && !target.HasRole(giftedRoleID):
			// valid credit, role drifted off the target: self-heal
			if err := s.guild.AddRole(ctx, credit.TargetID, giftedRoleID, "gifted membership re-applied"); err != nil {
				slog.Warn("Gift sweep: re-apply failed", "target", credit.TargetID, "error", err)
			} else {
				s.notify.Announce(fmt.Sprintf("Gifted membership re-applied: <@%s> (owner <@%s>)",
					credit.TargetID, credit.OwnerID))
			}
		}
		s.throttle(ctx)
	}
}
