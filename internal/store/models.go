package store

import "time"

// TempRoleEntry is one time-bound role grant. A user may hold several
// distinct temp roles but never two entries for the same role.
type TempRoleEntry struct {
	RoleID    string    `json:"roleId"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Warned    bool      `json:"warned"`
}

// TempRoleGrant pairs an entry with its owner for store-wide listings.
type TempRoleGrant struct {
	UserID string
	TempRoleEntry
}

// CustomRoleRecord tracks a user's single cosmetic role and who it is
// shared with. SharedWith is an ordered, deduplicated set.
type CustomRoleRecord struct {
	RoleID     string    `json:"roleId"`
	CreatedAt  time.Time `json:"createdAt"`
	SharedWith []string  `json:"sharedWith"`
}

// Shared reports whether the record is shared with the given user.
func (r *CustomRoleRecord) Shared(userID string) bool {
	for _, id := range r.SharedWith {
		if id == userID {
			return true
		}
	}
	return false
}

// CustomRoleGrant pairs a record with its owner for listings.
type CustomRoleGrant struct {
	OwnerID string
	CustomRoleRecord
}

// GiftedCredit is the single-use membership gift from one owner to one
// target.
type GiftedCredit struct {
	TargetID  string    `json:"targetId"`
	GrantedAt time.Time `json:"grantedAt"`
}

// GiftedGrant pairs a credit with its owner for listings.
type GiftedGrant struct {
	OwnerID string
	GiftedCredit
}

// PremiumChannelRecord tracks a user's private voice channel.
type PremiumChannelRecord struct {
	ChannelID string    `json:"channelId"`
	CreatedAt time.Time `json:"createdAt"`
}

// PremiumChannelGrant pairs a record with its owner for listings.
type PremiumChannelGrant struct {
	OwnerID string
	PremiumChannelRecord
}

// document is the full persisted state: one JSON file, rewritten in
// whole on every mutation.
type document struct {
	GuildID         string                           `json:"guildId"`
	TempRoles       map[string][]TempRoleEntry       `json:"members"`
	CustomRoles     map[string]*CustomRoleRecord     `json:"customRoles"`
	GiftedCredits   map[string]*GiftedCredit         `json:"giftedCredits"`
	PremiumChannels map[string]*PremiumChannelRecord `json:"premiumChannels"`
	NoticeTiers     map[string]string                `json:"noticeTiers"`
}

func newDocument(guildID string) *document {
	return &document{
		GuildID:         guildID,
		TempRoles:       make(map[string][]TempRoleEntry),
		CustomRoles:     make(map[string]*CustomRoleRecord),
		GiftedCredits:   make(map[string]*GiftedCredit),
		PremiumChannels: make(map[string]*PremiumChannelRecord),
		NoticeTiers:     make(map[string]string),
	}
}

// normalize fills in nil maps after unmarshalling older files.
func (d *document) normalize(guildID string) {
	if d.GuildID == "" {
		d.GuildID = guildID
	}
	if d.TempRoles == nil {
		d.TempRoles = make(map[string][]TempRoleEntry)
	}
	if d.CustomRoles == nil {
		d.CustomRoles = make(map[string]*CustomRoleRecord)
	}
	if d.GiftedCredits == nil {
		d.GiftedCredits = make(map[string]*GiftedCredit)
	}
	if d.PremiumChannels == nil {
		d.PremiumChannels = make(map[string]*PremiumChannelRecord)
	}
	if d.NoticeTiers == nil {
		d.NoticeTiers = make(map[string]string)
	}
}
