package grants

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

var channelSlugUnsafe = regexp.MustCompile(`[^a-z0-9-_]+`)
var channelSlugDashes = regexp.MustCompile(`-+`)

// premiumChannelName slugs the owner's username into a safe channel
// name with the configured prefix.
func (s *Service) premiumChannelName(username string) string {
	name := strings.ToLower(s.settings.PremiumChannelPrefix + username)
	name = channelSlugUnsafe.ReplaceAllString(name, "-")
	name = channelSlugDashes.ReplaceAllString(name, "-")
	if len(name) > 90 {
		name = name[:90]
	}
	return name
}

// CreatePremiumChannel provisions the owner's private voice channel.
func (s *Service) CreatePremiumChannel(ctx context.Context, ownerID string) (string, error) {
	member, err := s.guild.Member(ctx, ownerID)
	if err != nil {
		return "", err
	}
	if s.resolver.TierOf(member.RoleIDs) != s.resolver.GiftEligibleTier() {
		return "", ErrNotEligible
	}
	if rec, ok := s.store.GetPremiumChannel(ownerID); ok {
		return rec.ChannelID, store.ErrAlreadyExists
	}
	if s.settings.PremiumChannelCategoryID == "" {
		return "", ErrNoCategoryConfigured
	}

	channelID, err := s.guild.CreateVoiceChannel(ctx, s.premiumChannelName(member.Username),
		s.settings.PremiumChannelCategoryID, ownerID)
	if err != nil {
		return "", err
	}
	if err := s.store.SetPremiumChannel(ownerID, channelID, time.Now().UTC()); err != nil {
		if delErr := s.guild.DeleteChannel(ctx, channelID, "premium channel creation rolled back"); delErr != nil {
			slog.Warn("Failed to roll back premium channel", "channel", channelID, "error", delErr)
		}
		return "", err
	}

	s.notify.Announce(fmt.Sprintf("Premium channel created: <@%s> — <#%s>", ownerID, channelID))
	return channelID, nil
}

// DeletePremiumChannel removes the owner's channel and record. The
// live deletion is best-effort; the record removal is unconditional.
// It reports whether a record existed.
func (s *Service) DeletePremiumChannel(ctx context.Context, ownerID, reason string) (bool, error) {
	rec, ok := s.store.GetPremiumChannel(ownerID)
	if !ok {
		return false, nil
	}

	if err := s.guild.DeleteChannel(ctx, rec.ChannelID, reason); err != nil {
		slog.Warn("Failed to delete premium channel", "channel", rec.ChannelID, "error", err)
	}
	if _, err := s.store.RemovePremiumChannel(ownerID); err != nil {
		return true, err
	}

	s.notify.Announce(fmt.Sprintf("Premium channel removed: <@%s> (%s)", ownerID, reason))
	return true, nil
}
