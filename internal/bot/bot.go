package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/Bruh61/m-membership-dc-bot/internal/config"
	"github.com/Bruh61/m-membership-dc-bot/internal/grants"
	"github.com/Bruh61/m-membership-dc-bot/internal/guild"
	"github.com/Bruh61/m-membership-dc-bot/internal/membership"
	"github.com/Bruh61/m-membership-dc-bot/internal/notify"
	"github.com/Bruh61/m-membership-dc-bot/internal/store"
	"github.com/Bruh61/m-membership-dc-bot/internal/sweeper"
)

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	store     *store.Store
	resolver  *membership.Resolver
	notifier  *notify.Notifier
	service   *grants.Service
	scheduler *sweeper.Scheduler
	commands  []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// GuildMembers is required for the member-update triggers
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	st, err := store.New(cfg.DataPath, cfg.BackupDir, cfg.Settings.BackupRetention, cfg.GuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	resolver := membership.NewResolver(cfg.Settings)
	provider := guild.NewSession(session, cfg.GuildID, cfg.Settings.AdminRoleID)
	notifier := notify.New(session, cfg.Settings.LogChannelID)
	service := grants.NewService(st, provider, notifier, resolver, cfg.Settings)

	sw := sweeper.New(st, provider, service, notifier, resolver, cfg.Settings)
	scheduler, err := sweeper.NewScheduler(sw, cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	b := &Bot{
		config:    cfg,
		session:   session,
		store:     st,
		resolver:  resolver,
		notifier:  notifier,
		service:   service,
		scheduler: scheduler,
	}

	b.registerHandlers()

	return b, nil
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	b.scheduler.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.scheduler != nil {
		b.scheduler.Stop()
	}
	if b.session != nil {
		return b.session.Close()
	}
	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(b.handleMemberUpdate)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleMemberUpdate feeds role changes into the event-driven
// reconciliation triggers.
func (b *Bot) handleMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.GuildID != b.config.GuildID {
		return
	}
	var before []string
	if m.BeforeUpdate != nil {
		before = m.BeforeUpdate.Roles
	}
	after := m.Roles

	go b.service.HandleMemberRoleChange(context.Background(), m.User.ID, before, after)
}
