// Package grants implements the grant lifecycle operations: temp
// roles, custom roles and their shares, gifted membership credits and
// premium channels. Each operation spans a live-guild mutation and a
// store mutation; store writes are the authoritative gate for every
// invariant, and a store write is rolled back when a subsequent
// establishing live-state call fails.
package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

// Precondition errors surfaced to the caller as a specific rejection
// reason, always without a state change. The store contributes
// ErrDuplicateGrant, ErrNotFound, ErrAlreadyExists, ErrLimitReached,
// ErrAlreadyShared, ErrCreditUsed and ErrTargetAlreadyGifted.
var (
	ErrNotEligible          = errors.New("membership tier not eligible")
	ErrNotShared            = errors.New("role is not shared with this user")
	ErrNoActiveCredit       = errors.New("no active gift credit")
	ErrTargetMismatch       = errors.New("named user is not the credit's target")
	ErrTargetIneligible     = errors.New("target already holds a membership tier")
	ErrNoCategoryConfigured = errors.New("premium channel category not configured")
)

// Notifier is the slice of the notification surface the lifecycle
// operations need.
type Notifier interface {
	Announce(msg string)
	DirectMessage(userID, msg string) bool
}

// Service executes lifecycle operations against one store, one guild
// and one configuration snapshot.
type Service struct {
	store    *store.Store
	guild    guild.Provider
	notify   Notifier
	resolver *membership.Resolver
	settings *config.Settings
}

// NewService wires the lifecycle operations.
func NewService(st *store.Store, g guild.Provider, n Notifier, r *membership.Resolver, settings *config.Settings) *Service {
	return &Service{store: st, guild: g, notify: n, resolver: r, settings: settings}
}

// GrantTempRole gives a user a role for the given number of days.
func (s *Service) GrantTempRole(ctx context.Context, userID, roleID string, days int) (store.TempRoleEntry, error) {
	if err := s.guild.EnsureManageable(ctx, roleID); err != nil {
		return store.TempRoleEntry{}, err
	}
	if _, ok := s.store.GetTempRole(userID, roleID); ok {
		return store.TempRoleEntry{}, store.ErrDuplicateGrant
	}
	member, err := s.guild.Member(ctx, userID)
	if err != nil {
		return store.TempRoleEntry{}, err
	}

	// establishing step: failure aborts before any store write
	if err := s.guild.AddRole(ctx, member.ID, roleID, "temp role granted"); err != nil {
		return store.TempRoleEntry{}, err
	}

	now := time.Now().UTC()
	entry := store.TempRoleEntry{
		RoleID:    roleID,
		GrantedAt: now,
		ExpiresAt: now.Add(time.Duration(days) * 24 * time.Hour),
	}
	if err := s.store.AddTempRole(userID, entry); err != nil {
		// lost the race or persistence failed: take the live role back
		if rmErr := s.guild.RemoveRole(ctx, userID, roleID, "temp role grant rolled back"); rmErr != nil {
			slog.Warn("Failed to roll back temp role grant", "user", userID, "role", roleID, "error", rmErr)
		}
		return store.TempRoleEntry{}, err
	}

	s.notify.Announce(fmt.Sprintf("Temp role granted: <@%s> — <@&%s> for %d day(s)", userID, roleID, days))
	return entry, nil
}

// ExtendTempRole pushes an existing grant's expiry out by days,
// additive from the stored expiry so late extensions still compound
// correctly. The warned flag resets.
func (s *Service) ExtendTempRole(ctx context.Context, userID, roleID string, days int) (store.TempRoleEntry, error) {
	if err := s.guild.EnsureManageable(ctx, roleID); err != nil {
		return store.TempRoleEntry{}, err
	}
	entry, err := s.store.ExtendTempRole(userID, roleID, time.Duration(days)*24*time.Hour)
	if err != nil {
		return store.TempRoleEntry{}, err
	}
	s.notify.Announce(fmt.Sprintf("Temp role extended: <@%s> — <@&%s>, new expiry %s", userID, roleID, entry.ExpiresAt.Format(time.RFC3339)))
	return entry, nil
}

// RevokeTempRole removes a temp role early. Idempotent: the live role
// is removed best-effort and the entry deleted regardless; the return
// reports whether an entry existed.
func (s *Service) RevokeTempRole(ctx context.Context, userID, roleID string) (bool, error) {
	member, err := s.guild.Member(ctx, userID)
	if err != nil && !errors.Is(err, guild.ErrMemberNotFound) {
		return false, err
	}
	if member != nil && member.HasRole(roleID) {
		if err := s.guild.RemoveRole(ctx, userID, roleID, "temp role revoked"); err != nil {
			slog.Warn("Failed to remove live temp role", "user", userID, "role", roleID, "error", err)
		}
	}

	existed, err := s.store.RemoveTempRole(userID, roleID)
	if err != nil {
		return existed, err
	}
	if existed {
		s.notify.Announce(fmt.Sprintf("Temp role revoked: <@%s> — <@&%s>", userID, roleID))
	}
	return existed, nil
}
