package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
)

func testSettings() *config.Settings {
	return &config.Settings{
		MembershipRoleIDs: map[string]string{
			"bronze":  "role-bronze",
			"silver":  "role-silver",
			"gold":    "role-gold",
			"diamond": "role-diamond",
		},
		ShareLimits:        map[string]int{"gold": 3, "diamond": 5},
		ShareEligibleTiers: []string{"gold", "diamond"},
		CustomRoleTiers:    []string{"silver", "gold", "diamond"},
		GiftEligibleTier:   "diamond",
		GiftedTier:         "silver",
	}
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierDiamond, ParseTier("diamond"))
	assert.Equal(t, TierDiamond, ParseTier("Diamond"))
	assert.Equal(t, TierNone, ParseTier("platinum"))
	assert.Equal(t, TierNone, ParseTier(""))
}

func TestTierOfHighestWins(t *testing.T) {
	r := NewResolver(testSettings())

	assert.Equal(t, TierNone, r.TierOf(nil))
	assert.Equal(t, TierBronze, r.TierOf([]string{"role-bronze", "unrelated"}))
	assert.Equal(t, TierDiamond, r.TierOf([]string{"role-silver", "role-diamond", "role-bronze"}))
	assert.Equal(t, TierGold, r.TierOf([]string{"role-gold", "role-silver"}))
}

func TestShareEligibility(t *testing.T) {
	r := NewResolver(testSettings())

	assert.Equal(t, 3, r.ShareLimit(TierGold))
	assert.Equal(t, 5, r.ShareLimit(TierDiamond))
	assert.Equal(t, 0, r.ShareLimit(TierSilver))

	assert.True(t, r.IsShareEligible(TierGold))
	assert.True(t, r.IsShareEligible(TierDiamond))
	assert.False(t, r.IsShareEligible(TierSilver))
	assert.False(t, r.IsShareEligible(TierNone))
}

func TestShareEligibleNeedsPositiveLimit(t *testing.T) {
	s := testSettings()
	s.ShareLimits = map[string]int{"diamond": 5}

	r := NewResolver(s)
	assert.False(t, r.IsShareEligible(TierGold), "eligible tier with no limit shares nothing")
	assert.True(t, r.IsShareEligible(TierDiamond))
}

func TestCustomRoleQualification(t *testing.T) {
	r := NewResolver(testSettings())

	assert.True(t, r.QualifiesForCustomRole([]string{"role-silver"}))
	assert.True(t, r.QualifiesForCustomRole([]string{"role-diamond"}))
	assert.False(t, r.QualifiesForCustomRole([]string{"role-bronze"}))
	assert.False(t, r.QualifiesForCustomRole(nil))

	assert.True(t, r.TierHasCustomRole(TierGold))
	assert.False(t, r.TierHasCustomRole(TierBronze))

	assert.ElementsMatch(t, []string{"role-silver", "role-gold", "role-diamond"}, r.QualifyingRoleIDs())
}

func TestGiftTiers(t *testing.T) {
	r := NewResolver(testSettings())

	assert.Equal(t, TierDiamond, r.GiftEligibleTier())
	assert.Equal(t, TierSilver, r.GiftedTier())

	id, ok := r.RoleID(TierSilver)
	assert.True(t, ok)
	assert.Equal(t, "role-silver", id)

	_, ok = r.RoleID(TierNone)
	assert.False(t, ok)
}
