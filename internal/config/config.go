package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken         string
	DiscordApplicationID string
	GuildID              string

	// Storage
	DataPath  string
	BackupDir string

	// Guild policy
	SettingsPath string
	Settings     *Settings

	// Logging
	LogLevel string
}

// Settings is the guild policy file (JSON). It mirrors the shape the
// admins already maintain: tier role IDs, per-tier limits, and the
// knobs for the reconciliation sweeps.
type Settings struct {
	MembershipRoleIDs  map[string]string `json:"membershipRoleIds"`
	ShareLimits        map[string]int    `json:"shareLimits"`
	CustomRoleTiers    []string          `json:"customRoleTiers"`
	ShareEligibleTiers []string          `json:"shareEligibleTiers"`
	GiftEligibleTier   string            `json:"giftEligibleTier"`
	GiftedTier         string            `json:"giftedTier"`
	AllowGiftToTiered  bool              `json:"allowGiftToTiered"`

	AnchorRoleID       string   `json:"anchorRoleId"`
	CustomRolePrefix   string   `json:"customRolePrefix"`
	BannedWords        []string `json:"bannedWords"`
	DeleteRoleOnRevoke bool     `json:"deleteRoleOnRevoke"`

	LogChannelID string `json:"logChannelId"`
	AdminRoleID  string `json:"adminRoleId"`

	PremiumChannelCategoryID string `json:"premiumChannelCategoryId"`
	PremiumChannelPrefix     string `json:"premiumChannelPrefix"`

	WarnThresholdDays int `json:"warnThresholdDays"`
	BackupRetention   int `json:"backupRetention"`

	ExpirySweepMinutes     int `json:"expirySweepMinutes"`
	WarningSweepMinutes    int `json:"warningSweepMinutes"`
	MembershipSweepMinutes int `json:"membershipSweepMinutes"`
}

var tokenJunk = regexp.MustCompile("\u200b|\u200c|\u200d|\ufeff")

// cleanToken strips the junk that tends to ride along when a token is
// pasted into a .env file: whitespace, zero-width characters, quotes,
// and a leading "Bot " prefix.
func cleanToken(raw string) string {
	t := strings.TrimSpace(raw)
	t = tokenJunk.ReplaceAllString(t, "")
	t = strings.TrimPrefix(t, "Bot ")
	t = strings.Trim(t, `"'`)
	return t
}

// Load reads configuration from environment variables and the guild
// settings file.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:         cleanToken(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		GuildID:              os.Getenv("GUILD_ID"),
		DataPath:             getEnvOrDefault("DATA_PATH", "./data/grants.json"),
		BackupDir:            getEnvOrDefault("BACKUP_DIR", "./backups"),
		SettingsPath:         getEnvOrDefault("SETTINGS_PATH", "./config.json"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if strings.Count(cfg.DiscordToken, ".") != 2 {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN does not look like a bot token")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("GUILD_ID is required")
	}

	settings, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load guild settings: %w", err)
	}
	cfg.Settings = settings

	return cfg, nil
}

// LoadSettings reads and validates the guild policy file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("invalid settings JSON: %w", err)
	}

	s.applyDefaults()

	if len(s.MembershipRoleIDs) == 0 {
		return nil, fmt.Errorf("membershipRoleIds must not be empty")
	}
	if s.LogChannelID == "" {
		return nil, fmt.Errorf("logChannelId is required")
	}
	if s.AdminRoleID == "" {
		return nil, fmt.Errorf("adminRoleId is required")
	}

	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.WarnThresholdDays == 0 {
		s.WarnThresholdDays = 5
	}
	if s.BackupRetention == 0 {
		s.BackupRetention = 20
	}
	if s.ExpirySweepMinutes == 0 {
		s.ExpirySweepMinutes = 10
	}
	if s.WarningSweepMinutes == 0 {
		s.WarningSweepMinutes = 60
	}
	if s.MembershipSweepMinutes == 0 {
		s.MembershipSweepMinutes = 10
	}
	if s.GiftEligibleTier == "" {
		s.GiftEligibleTier = "diamond"
	}
	if s.GiftedTier == "" {
		s.GiftedTier = "silver"
	}
	if s.PremiumChannelPrefix == "" {
		s.PremiumChannelPrefix = "premium-"
	}
	if len(s.CustomRoleTiers) == 0 {
		s.CustomRoleTiers = []string{"silver", "gold", "diamond"}
	}
	if len(s.ShareEligibleTiers) == 0 {
		s.ShareEligibleTiers = []string{"gold", "diamond"}
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
