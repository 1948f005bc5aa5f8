package bot

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	minDays := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:        "give-temp-role",
			Description: "Grant a user a role for a limited number of days (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to grant the role to"),
				roleOption("role", "The role to grant"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Duration in days (>=1)",
					Required:    true,
					MinValue:    &minDays,
				},
			},
		},
		{
			Name:        "extend-temp-role",
			Description: "Extend an existing temp role (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user whose grant to extend"),
				roleOption("role", "The granted role"),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Days to add to the current expiry (>=1)",
					Required:    true,
					MinValue:    &minDays,
				},
			},
		},
		{
			Name:        "remove-temp-role",
			Description: "Revoke a temp role early (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to revoke from"),
				roleOption("role", "The granted role"),
			},
		},
		{
			Name:        "my-temp-roles",
			Description: "Show your own temp roles and their expiry",
		},
		{
			Name:        "list-temp-roles",
			Description: "List all temp roles (admin)",
		},
		{
			Name:        "expiry-dm",
			Description: "DM a user the expiry details of their temp role (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("user", "The user to DM"),
				roleOption("role", "The granted role"),
			},
		},
		{
			Name:        "memberships",
			Description: "Show the membership tiers and their benefits",
		},
		{
			Name:        "export-json",
			Description: "Export the grant database (admin)",
		},
		{
			Name:        "import-json",
			Description: "Import a grant database (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "file",
					Description: "JSON file previously exported",
					Required:    true,
				},
			},
		},
		{
			Name:        "customrole",
			Description: "Manage your custom role and membership perks",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Create your personal custom role (once)",
					Options: []*discordgo.ApplicationCommandOption{
						stringOption("name", "Role name", true),
						stringOption("color1", "Primary color as hex, e.g. #ff00aa", true),
						stringOption("color2", "Second hex color (optional -> gradient)", false),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "rename",
					Description: "Rename your custom role",
					Options: []*discordgo.ApplicationCommandOption{
						stringOption("name", "New name", true),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "change-color",
					Description: "Change your custom role's color(s)",
					Options: []*discordgo.ApplicationCommandOption{
						stringOption("color1", "Primary color as hex, e.g. #ff00aa", true),
						stringOption("color2", "Second hex color (optional -> gradient)", false),
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "share",
					Description: "Share your custom role with another user",
					Options:     []*discordgo.ApplicationCommandOption{userOption("user", "The user to share with")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "unshare",
					Description: "Withdraw a shared custom role",
					Options:     []*discordgo.ApplicationCommandOption{userOption("user", "The user to withdraw from")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "gift-silver",
					Description: "Gift Silver membership to a friend (1 credit)",
					Options:     []*discordgo.ApplicationCommandOption{userOption("user", "The user to gift")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "ungift-silver",
					Description: "Take your gifted Silver membership back",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "user",
							Description: "The gifted user (optional safety check)",
							Required:    false,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add-channel",
					Description: "Create your private premium voice channel",
				},
			},
		},
	}
}

func userOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func roleOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionRole,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// registerCommands registers all slash commands with Discord, scoped
// to the configured guild.
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(
			b.session.State.User.ID,
			b.config.GuildID,
			cmd,
		)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// handleInteraction processes slash command and button interactions.
// An unexpected panic is caught at this boundary and surfaced as a
// generic failure instead of crashing the process.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Interaction handler panicked", "panic", r)
			respondEphemeral(s, i, "Something went wrong. Please try again.")
		}
	}()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

		switch data.Name {
		case "give-temp-role":
			b.handleGiveTempRole(s, i)
		case "extend-temp-role":
			b.handleExtendTempRole(s, i)
		case "remove-temp-role":
			b.handleRemoveTempRole(s, i)
		case "my-temp-roles":
			b.handleMyTempRoles(s, i)
		case "list-temp-roles":
			b.handleListTempRoles(s, i)
		case "expiry-dm":
			b.handleExpiryDM(s, i)
		case "memberships":
			b.handleMemberships(s, i)
		case "export-json":
			b.handleExportJSON(s, i)
		case "import-json":
			b.handleImportJSON(s, i)
		case "customrole":
			b.handleCustomRole(s, i)
		default:
			slog.Warn("Unknown command", "command", data.Name)
		}

	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	}
}
