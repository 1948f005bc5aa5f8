// Package membership derives a user's membership tier from their live
// role set and answers the policy questions that depend on it (share
// limits, custom-role eligibility, gifting eligibility).
package membership

import (
	"strings"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
)

// Tier is a ranked membership level. Rank comparisons use the integer
// value, never iteration order.
type Tier int

const (
	TierNone Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierDiamond
)

var tierNames = map[Tier]string{
	TierNone:    "none",
	TierBronze:  "bronze",
	TierSilver:  "silver",
	TierGold:    "gold",
	TierDiamond: "diamond",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "none"
}

// ParseTier maps a configured tier name to its Tier, ignoring case.
// Unknown names yield TierNone.
func ParseTier(name string) Tier {
	lower := strings.ToLower(name)
	for t, n := range tierNames {
		if n == lower {
			return t
		}
	}
	return TierNone
}

// descending rank order, highest first
var rankedTiers = []Tier{TierDiamond, TierGold, TierSilver, TierBronze}

// Resolver answers tier and eligibility queries against a fixed
// configuration snapshot.
type Resolver struct {
	tierRoles     map[Tier]string
	shareLimits   map[Tier]int
	shareEligible map[Tier]bool
	customTiers   map[Tier]bool
	giftEligible  Tier
	giftedTier    Tier
}

// NewResolver builds a Resolver from the guild settings.
func NewResolver(s *config.Settings) *Resolver {
	r := &Resolver{
		tierRoles:     make(map[Tier]string),
		shareLimits:   make(map[Tier]int),
		shareEligible: make(map[Tier]bool),
		customTiers:   make(map[Tier]bool),
		giftEligible:  ParseTier(s.GiftEligibleTier),
		giftedTier:    ParseTier(s.GiftedTier),
	}
	for name, roleID := range s.MembershipRoleIDs {
		if t := ParseTier(name); t != TierNone && roleID != "" {
			r.tierRoles[t] = roleID
		}
	}
	for name, limit := range s.ShareLimits {
		if t := ParseTier(name); t != TierNone {
			r.shareLimits[t] = limit
		}
	}
	for _, name := range s.ShareEligibleTiers {
		if t := ParseTier(name); t != TierNone {
			r.shareEligible[t] = true
		}
	}
	for _, name := range s.CustomRoleTiers {
		if t := ParseTier(name); t != TierNone {
			r.customTiers[t] = true
		}
	}
	return r
}

// TierOf classifies a live role set. When several tier roles are held
// the highest rank wins.
func (r *Resolver) TierOf(roleIDs []string) Tier {
	held := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		held[id] = true
	}
	for _, t := range rankedTiers {
		if roleID, ok := r.tierRoles[t]; ok && held[roleID] {
			return t
		}
	}
	return TierNone
}

// RoleID returns the guild role representing a tier.
func (r *Resolver) RoleID(t Tier) (string, bool) {
	id, ok := r.tierRoles[t]
	return id, ok
}

// ShareLimit returns how many users a tier may share its custom role
// with. Unknown tiers and missing config yield 0.
func (r *Resolver) ShareLimit(t Tier) int {
	return r.shareLimits[t]
}

// IsShareEligible reports whether a tier may share its custom role at
// all.
func (r *Resolver) IsShareEligible(t Tier) bool {
	return r.shareEligible[t] && r.ShareLimit(t) > 0
}

// TierHasCustomRole reports whether members of a tier may create a
// custom role.
func (r *Resolver) TierHasCustomRole(t Tier) bool {
	return r.customTiers[t]
}

// QualifiesForCustomRole reports whether a role set includes any tier
// allowed to hold a custom role.
func (r *Resolver) QualifiesForCustomRole(roleIDs []string) bool {
	held := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		held[id] = true
	}
	for t := range r.customTiers {
		if roleID, ok := r.tierRoles[t]; ok && held[roleID] {
			return true
		}
	}
	return false
}

// QualifyingRoleIDs returns the role IDs whose presence qualifies a
// user for a custom role.
func (r *Resolver) QualifyingRoleIDs() []string {
	ids := make([]string, 0, len(r.customTiers))
	for _, t := range rankedTiers {
		if !r.customTiers[t] {
			continue
		}
		if roleID, ok := r.tierRoles[t]; ok {
			ids = append(ids, roleID)
		}
	}
	return ids
}

// GiftEligibleTier is the tier whose holders may gift a membership.
func (r *Resolver) GiftEligibleTier() Tier {
	return r.giftEligible
}

// GiftedTier is the tier a gift credit grants.
func (r *Resolver) GiftedTier() Tier {
	return r.giftedTier
}

// TierRoleIDs returns every configured tier role ID, highest tier
// first.
func (r *Resolver) TierRoleIDs() []string {
	ids := make([]string, 0, len(r.tierRoles))
	for _, t := range rankedTiers {
		if roleID, ok := r.tierRoles[t]; ok {
			ids = append(ids, roleID)
		}
	}
	return ids
}
