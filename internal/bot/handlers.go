package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Bruh61/m-membership-dc-bot/internal/grants"
	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
)

const (
	colorGreen   = 0x57F287
	colorRed     = 0xED4245
	colorYellow  = 0xFEE75C
	colorBlurple = 0x5865F2

	tempRolesPageSize = 10
)

// --- response helpers ---

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: msg,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Error("Failed to respond to interaction", "error", err)
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, components []discordgo.MessageComponent) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
	})
	if err != nil {
		slog.Error("Failed to respond to interaction", "error", err)
	}
}

func deferEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		slog.Error("Failed to defer interaction", "error", err)
	}
}

func editReply(s *discordgo.Session, i *discordgo.InteractionCreate, msg string) {
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &msg})
	if err != nil {
		slog.Error("Failed to edit interaction reply", "error", err)
	}
}

func (b *Bot) isAdmin(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	for _, roleID := range i.Member.Roles {
		if roleID == b.config.Settings.AdminRoleID {
			return true
		}
	}
	return false
}

func commandOptions(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

// errorMessage translates typed service errors into user-facing text.
// Unexpected errors are logged and reported generically.
func errorMessage(err error) string {
	var validation *grants.ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}

	switch {
	case errors.Is(err, store.ErrDuplicateGrant):
		return "That user already has this role as a temp role."
	case errors.Is(err, store.ErrNotFound):
		return "No matching record was found."
	case errors.Is(err, store.ErrAlreadyExists):
		return "You already have one. Only one per member."
	case errors.Is(err, store.ErrLimitReached):
		return "You have reached your share limit for your tier."
	case errors.Is(err, store.ErrAlreadyShared):
		return "Your role is already shared with that user."
	case errors.Is(err, store.ErrNotShared):
		return "Your role is not shared with that user."
	case errors.Is(err, store.ErrCreditUsed):
		return "You have already used your gift credit."
	case errors.Is(err, store.ErrTargetAlreadyGifted):
		return "That user has already received a gifted membership."
	case errors.Is(err, grants.ErrNotEligible):
		return "Your membership tier does not include this perk."
	case errors.Is(err, grants.ErrNotShared):
		return "Your role is not shared with that user."
	case errors.Is(err, grants.ErrNoActiveCredit):
		return "You have no active gifted membership."
	case errors.Is(err, grants.ErrTargetMismatch):
		return "Your gift credit is assigned to a different user."
	case errors.Is(err, grants.ErrTargetIneligible):
		return "That user already has a membership and cannot be gifted."
	case errors.Is(err, grants.ErrNoCategoryConfigured):
		return "Premium channels are not configured on this server."
	case errors.Is(err, guild.ErrMemberNotFound):
		return "That user is not a member of this server."
	case errors.Is(err, guild.ErrRoleNotFound):
		return "That role does not exist."
	case errors.Is(err, guild.ErrNotManageable):
		return "I cannot manage that role. Check my role position and permissions."
	default:
		slog.Error("Command failed", "error", err)
		return "Something went wrong. Please try again."
	}
}

func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// --- temp role commands ---

func (b *Bot) handleGiveTempRole(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	opts := commandOptions(i.ApplicationCommandData().Options)
	user := opts["user"].UserValue(s)
	role := opts["role"].RoleValue(s, i.GuildID)
	days := int(opts["days"].IntValue())

	entry, err := b.service.GrantTempRole(context.Background(), user.ID, role.ID, days)
	if err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Temp Role Granted",
		Description: fmt.Sprintf("<@%s> now has <@&%s>, expiring %s.", user.ID, role.ID, discordTimestamp(entry.ExpiresAt)),
		Color:       colorGreen,
	}, nil)
}

func (b *Bot) handleExtendTempRole(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	opts := commandOptions(i.ApplicationCommandData().Options)
	user := opts["user"].UserValue(s)
	role := opts["role"].RoleValue(s, i.GuildID)
	days := int(opts["days"].IntValue())

	entry, err := b.service.ExtendTempRole(context.Background(), user.ID, role.ID, days)
	if err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Temp Role Extended",
		Description: fmt.Sprintf("<@%s>'s <@&%s> now expires %s.", user.ID, role.ID, discordTimestamp(entry.ExpiresAt)),
		Color:       colorGreen,
	}, nil)
}

func (b *Bot) handleRemoveTempRole(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	opts := commandOptions(i.ApplicationCommandData().Options)
	user := opts["user"].UserValue(s)
	role := opts["role"].RoleValue(s, i.GuildID)

	removed, err := b.service.RevokeTempRole(context.Background(), user.ID, role.ID)
	if err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	if !removed {
		respondEphemeral(s, i, "That user has no such temp role.")
		return
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Temp Role Removed",
		Description: fmt.Sprintf("Removed <@&%s> from <@%s>.", role.ID, user.ID),
		Color:       colorRed,
	}, nil)
}

func (b *Bot) handleMyTempRoles(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil {
		respondEphemeral(s, i, "This command can only be used in the server.")
		return
	}

	entries := b.store.TempRolesFor(i.Member.User.ID)
	if len(entries) == 0 {
		respondEphemeral(s, i, "You have no temp roles.")
		return
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "<@&%s> expires %s\n", e.RoleID, discordTimestamp(e.ExpiresAt))
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{{
				Title:       "Your Temp Roles",
				Description: sb.String(),
				Color:       colorBlurple,
			}},
			Flags: discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Error("Failed to respond to interaction", "error", err)
	}
}

func (b *Bot) handleListTempRoles(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	embed, components := b.buildTempRolesPage(0)
	respondEmbed(s, i, embed, components)
}

// buildTempRolesPage renders one page of the full grant listing along
// with its navigation buttons. The page index is clamped into range so
// stale buttons never fail.
func (b *Bot) buildTempRolesPage(page int) (*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	all := b.store.ListTempRoles()

	totalPages := (len(all) + tempRolesPageSize - 1) / tempRolesPageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= totalPages {
		page = totalPages - 1
	}

	start := page * tempRolesPageSize
	end := start + tempRolesPageSize
	if end > len(all) {
		end = len(all)
	}

	var sb strings.Builder
	if len(all) == 0 {
		sb.WriteString("No active temp roles.")
	}
	for _, g := range all[start:end] {
		fmt.Fprintf(&sb, "<@%s> has <@&%s>, expires %s\n", g.UserID, g.RoleID, discordTimestamp(g.ExpiresAt))
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Active Temp Roles",
		Description: sb.String(),
		Color:       colorBlurple,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Page %d of %d", page+1, totalPages)},
	}

	if totalPages <= 1 {
		return embed, nil
	}

	components := []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Previous",
					Style:    discordgo.SecondaryButton,
					CustomID: componentAction{kind: actionTempRolesNav, page: page - 1}.customID(),
					Disabled: page == 0,
				},
				discordgo.Button{
					Label:    "Next",
					Style:    discordgo.SecondaryButton,
					CustomID: componentAction{kind: actionTempRolesNav, page: page + 1}.customID(),
					Disabled: page == totalPages-1,
				},
			},
		},
	}
	return embed, components
}

// componentAction is the decoded form of a button custom ID. IDs are
// built and parsed only here so the wire format stays in one place.
type componentAction struct {
	kind string
	page int
}

const actionTempRolesNav = "temproles:nav"

func (a componentAction) customID() string {
	return fmt.Sprintf("%s:%d", a.kind, a.page)
}

func parseComponentAction(customID string) (componentAction, bool) {
	idx := strings.LastIndex(customID, ":")
	if idx < 0 {
		return componentAction{}, false
	}
	kind := customID[:idx]
	if kind != actionTempRolesNav {
		return componentAction{}, false
	}
	page, err := strconv.Atoi(customID[idx+1:])
	if err != nil {
		return componentAction{}, false
	}
	return componentAction{kind: kind, page: page}, true
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	action, ok := parseComponentAction(customID)
	if !ok {
		slog.Warn("Unknown component interaction", "customId", customID)
		return
	}

	embed, components := b.buildTempRolesPage(action.page)
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
	})
	if err != nil {
		slog.Error("Failed to update paginated message", "error", err)
	}
}

func (b *Bot) handleExpiryDM(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	opts := commandOptions(i.ApplicationCommandData().Options)
	user := opts["user"].UserValue(s)
	role := opts["role"].RoleValue(s, i.GuildID)

	entry, ok := b.store.GetTempRole(user.ID, role.ID)
	if !ok {
		respondEphemeral(s, i, "That user has no such temp role.")
		return
	}

	delivered := b.notifier.DirectMessageEmbed(user.ID, &discordgo.MessageEmbed{
		Title:       "Temp Role Expiry",
		Description: fmt.Sprintf("Your <@&%s> role expires %s.", role.ID, discordTimestamp(entry.ExpiresAt)),
		Color:       colorYellow,
	})
	if !delivered {
		respondEphemeral(s, i, "Could not DM that user. Their DMs may be closed.")
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Expiry DM sent to <@%s>.", user.ID))
}

// --- membership commands ---

func (b *Bot) handleMemberships(s *discordgo.Session, i *discordgo.InteractionCreate) {
	fields := make([]*discordgo.MessageEmbedField, 0, 4)

	for _, tier := range []membership.Tier{membership.TierDiamond, membership.TierGold, membership.TierSilver, membership.TierBronze} {
		roleID, ok := b.resolver.RoleID(tier)
		if !ok {
			continue
		}

		var perks []string
		if b.resolver.GiftEligibleTier() == tier {
			perks = append(perks,
				"Gift a Silver membership with `/customrole gift-silver`",
				"Private voice channel with `/customrole add-channel`")
		}
		if limit := b.resolver.ShareLimit(tier); limit > 0 {
			perks = append(perks, fmt.Sprintf("Share your custom role with up to %d friends", limit))
		}
		if b.resolver.TierHasCustomRole(tier) {
			perks = append(perks, "Personal custom role with `/customrole add`")
		}
		if len(perks) == 0 {
			perks = append(perks, "Supporter badge")
		}

		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s (<@&%s>)", tier, roleID),
			Value: "• " + strings.Join(perks, "\n• "),
		})
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Membership Tiers",
		Description: "Perks unlocked by each membership tier. Higher tiers include everything below.",
		Color:       colorBlurple,
		Fields:      fields,
	}, nil)
}

// --- data management commands ---

func (b *Bot) handleExportJSON(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	deferEphemeral(s, i)

	raw, err := b.store.Export()
	if err != nil {
		editReply(s, i, errorMessage(err))
		return
	}

	content := "Current grant database:"
	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Files: []*discordgo.File{{
			Name:        fmt.Sprintf("grants-%s.json", time.Now().UTC().Format("20060102-150405")),
			ContentType: "application/json",
			Reader:      strings.NewReader(string(raw)),
		}},
		Flags: discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		slog.Error("Failed to send export", "error", err)
		editReply(s, i, "Failed to send the export file.")
	}
}

func (b *Bot) handleImportJSON(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.isAdmin(i) {
		respondEphemeral(s, i, "You need the admin role to use this command.")
		return
	}

	data := i.ApplicationCommandData()
	opts := commandOptions(data.Options)
	attachmentID, ok := opts["file"].Value.(string)
	if !ok {
		respondEphemeral(s, i, "No file was attached.")
		return
	}
	attachment, ok := data.Resolved.Attachments[attachmentID]
	if !ok {
		respondEphemeral(s, i, "No file was attached.")
		return
	}

	deferEphemeral(s, i)

	raw, err := fetchAttachment(attachment.URL)
	if err != nil {
		slog.Error("Failed to download import file", "error", err)
		editReply(s, i, "Could not download the attached file.")
		return
	}

	if err := b.store.Replace(raw); err != nil {
		editReply(s, i, fmt.Sprintf("Import rejected: %v", err))
		return
	}

	b.notifier.AnnounceEmbed(&discordgo.MessageEmbed{
		Title:       "Grant Database Imported",
		Description: fmt.Sprintf("The grant database was replaced by <@%s>.", i.Member.User.ID),
		Color:       colorYellow,
	})
	editReply(s, i, "Import complete. The grant database has been replaced.")
}

func fetchAttachment(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

// --- customrole command ---

func (b *Bot) handleCustomRole(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Member == nil {
		respondEphemeral(s, i, "This command can only be used in the server.")
		return
	}

	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	opts := commandOptions(sub.Options)
	userID := i.Member.User.ID

	switch sub.Name {
	case "add":
		b.handleCustomRoleAdd(s, i, userID, opts)
	case "rename":
		b.handleCustomRoleRename(s, i, userID, opts)
	case "change-color":
		b.handleCustomRoleChangeColor(s, i, userID, opts)
	case "share":
		b.handleCustomRoleShare(s, i, userID, opts)
	case "unshare":
		b.handleCustomRoleUnshare(s, i, userID, opts)
	case "gift-silver":
		b.handleGiftSilver(s, i, userID, opts)
	case "ungift-silver":
		b.handleUngiftSilver(s, i, userID, opts)
	case "add-channel":
		b.handleAddChannel(s, i, userID)
	default:
		slog.Warn("Unknown customrole subcommand", "subcommand", sub.Name)
	}
}

func optString(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	opt, ok := opts[name]
	if !ok {
		return ""
	}
	return opt.StringValue()
}

func (b *Bot) handleCustomRoleAdd(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	deferEphemeral(s, i)

	result, err := b.service.CreateCustomRole(context.Background(), userID,
		optString(opts, "name"), optString(opts, "color1"), optString(opts, "color2"))
	if err != nil {
		editReply(s, i, errorMessage(err))
		return
	}

	msg := fmt.Sprintf("Your custom role <@&%s> has been created.", result.RoleID)
	if result.GradientNote != "" {
		msg += " " + result.GradientNote
	}
	editReply(s, i, msg)
}

func (b *Bot) handleCustomRoleRename(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	err := b.service.RenameCustomRole(context.Background(), userID, optString(opts, "name"))
	if err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	respondEphemeral(s, i, "Your custom role has been renamed.")
}

func (b *Bot) handleCustomRoleChangeColor(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	deferEphemeral(s, i)

	result, err := b.service.ChangeCustomRoleColor(context.Background(), userID,
		optString(opts, "color1"), optString(opts, "color2"))
	if err != nil {
		editReply(s, i, errorMessage(err))
		return
	}

	msg := "Your custom role's color has been updated."
	if result.GradientNote != "" {
		msg += " " + result.GradientNote
	}
	editReply(s, i, msg)
}

func (b *Bot) handleCustomRoleShare(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := opts["user"].UserValue(s)

	if err := b.service.ShareCustomRole(context.Background(), userID, target.ID); err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Your custom role is now shared with <@%s>.", target.ID))
}

func (b *Bot) handleCustomRoleUnshare(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := opts["user"].UserValue(s)

	if err := b.service.UnshareCustomRole(context.Background(), userID, target.ID); err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("Your custom role is no longer shared with <@%s>.", target.ID))
}

func (b *Bot) handleGiftSilver(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := opts["user"].UserValue(s)

	if err := b.service.GiftTierCredit(context.Background(), userID, target.ID); err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	respondEphemeral(s, i, fmt.Sprintf("You gifted a %s membership to <@%s>.", b.resolver.GiftedTier(), target.ID))
}

func (b *Bot) handleUngiftSilver(s *discordgo.Session, i *discordgo.InteractionCreate, userID string, opts map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	var targetID string
	if opt, ok := opts["user"]; ok {
		targetID = opt.UserValue(s).ID
	}

	if err := b.service.RevokeGiftCredit(context.Background(), userID, targetID); err != nil {
		respondEphemeral(s, i, errorMessage(err))
		return
	}
	respondEphemeral(s, i, "Your gifted membership has been revoked. Your credit stays used.")
}

func (b *Bot) handleAddChannel(s *discordgo.Session, i *discordgo.InteractionCreate, userID string) {
	deferEphemeral(s, i)

	channelID, err := b.service.CreatePremiumChannel(context.Background(), userID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) && channelID != "" {
			editReply(s, i, fmt.Sprintf("You already have a premium channel: <#%s>.", channelID))
			return
		}
		editReply(s, i, errorMessage(err))
		return
	}
	editReply(s, i, fmt.Sprintf("Your premium voice channel is ready: <#%s>.", channelID))
}
