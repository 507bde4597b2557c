package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/disgoorg/snowflake/v2"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cohortly/memberd/internal/tier"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrMissingToken          = errors.New("bot token must be set")
	ErrMissingGuild          = errors.New("guild id must be set")
)

// CurrentVersion is the config file version this binary understands.
const CurrentVersion = 1

// ConfigName is the base name of the config file (ConfigName.toml).
const ConfigName = "bot"

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version int `koanf:"version"`
	// Debug settings.
	Debug Debug `koanf:"debug"`
	// Discord bot settings.
	Bot Bot `koanf:"bot"`
	// History fetch settings.
	Fetch Fetch `koanf:"fetch"`
	// Membership tier rules.
	Members tier.Config `koanf:"members"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Zap log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
}

// Bot contains Discord connection configuration.
type Bot struct {
	// Token for the bot account.
	Token string `koanf:"token"`
	// Guild whose membership tiers are managed.
	GuildID snowflake.ID `koanf:"guild_id"`
	// When true, role mutations and notifications are logged, not applied.
	DryRun bool `koanf:"dry_run"`
}

// Fetch contains history fetch configuration.
type Fetch struct {
	// Maximum concurrent channel walks.
	Parallelism int `koanf:"parallelism"`
}

// LoadConfig loads the configuration, searching the usual paths unless an
// explicit path is given. It returns the config and the file it was
// loaded from.
func LoadConfig(explicitPath string) (*Config, string, error) {
	k := koanf.New(".")

	usedPath := explicitPath
	if explicitPath != "" {
		if err := k.Load(file.Provider(explicitPath), toml.Parser()); err != nil {
			return nil, "", fmt.Errorf("failed to load config file %s: %w", explicitPath, err)
		}
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, "", fmt.Errorf("failed to get home directory: %w", err)
		}

		configPaths := []string{
			".memberd",
			homeDir + "/.memberd/config",
			"/etc/memberd/config",
			"/app/config",
			"config",
			".",
		}

		usedPath = ""
		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, ConfigName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				usedPath = configPath
				break
			}
		}
		if usedPath == "" {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, ConfigName)
		}
	}

	config := Config{
		Debug: Debug{LogLevel: "info"},
		Bot:   Bot{DryRun: true},
		Fetch: Fetch{Parallelism: 8},
	}
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: expected version %d, got %d",
			ErrConfigVersionMismatch, CurrentVersion, config.Version)
	}
	if err := config.Validate(); err != nil {
		return nil, "", err
	}
	return &config, usedPath, nil
}

// Validate checks the loaded configuration for structural problems.
func (c *Config) Validate() error {
	if c.Bot.Token == "" {
		return ErrMissingToken
	}
	if c.Bot.GuildID == 0 {
		return ErrMissingGuild
	}
	if c.Fetch.Parallelism < 1 {
		c.Fetch.Parallelism = 1
	}
	return c.Members.Validate()
}
