// Package config loads GreetPipe settings from .env files and the environment.
//
// Values are layered: a .env file in the working directory (if present) is loaded
// into the process environment, the environment is parsed into Config, and derived
// defaults that depend on other settings (state-dir relative paths, the random nick)
// are filled in afterwards. Command-line flags in cmd/GreetPipe override the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/GreetPipe/internal/util"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport names.
const (
	TransportIRC      = "irc"
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

const (
	// DefaultStateDir is the default directory for GreetPipe state data
	DefaultStateDir = "/var/lib/greetpipe"
	// DefaultDBFileName is the default SQLite conversation store filename
	DefaultDBFileName = "greetpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultNickPrefix is used when IRC_NICK is unset
	DefaultNickPrefix = "greetpipe-"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds environment configuration.
type Config struct {
	Transport string `env:"GREETPIPE_TRANSPORT" envDefault:"irc"`
	StateDir  string `env:"GREETPIPE_STATE_DIR" envDefault:"/var/lib/greetpipe"`
	LogLevel  string `env:"GREETPIPE_LOG_LEVEL" envDefault:"debug"`

	IRCServer           string `env:"IRC_SERVER" envDefault:"irc.libera.chat:6667"`
	IRCChannel          string `env:"IRC_CHANNEL" envDefault:"#greetpipe"`
	// IRCNick is also the name Twilio users address the bot by.
	IRCNick             string `env:"IRC_NICK"`
	IRCNickServPassword string `env:"IRC_NICKSERV_PASSWORD"`

	WhatsAppDSN         string `env:"WHATSAPP_DB_DSN"`
	WhatsAppGroup       string `env:"WHATSAPP_GROUP_JID"`
	WhatsAppQROutput    string `env:"WHATSAPP_QR_OUTPUT"`
	WhatsAppNumericCode bool   `env:"WHATSAPP_NUMERIC_CODE"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`

	DatabaseURL     string `env:"DATABASE_URL"`
	OpenAIKey       string `env:"OPENAI_API_KEY"`
	CountryDataPath string `env:"COUNTRY_DATA_PATH"`
	PhrasebookPath  string `env:"PHRASEBOOK_PATH"`

	APIAddr    string `env:"API_ADDR" envDefault:":8080"`
	RosterCron string `env:"ROSTER_REFRESH_CRON" envDefault:"*/5 * * * *"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file, parses the environment and fills derived defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()

	slog.Debug("environment variables loaded",
		"GREETPIPE_TRANSPORT", cfg.Transport,
		"GREETPIPE_STATE_DIR", cfg.StateDir,
		"IRC_SERVER", cfg.IRCServer,
		"IRC_CHANNEL", cfg.IRCChannel,
		"IRC_NICK", cfg.IRCNick,
		"WHATSAPP_GROUP_JID", cfg.WhatsAppGroup,
		"DATABASE_URL_SET", cfg.DatabaseURL != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"TWILIO_ACCOUNT_SID_SET", cfg.TwilioAccountSID != "",
		"API_ADDR", cfg.APIAddr,
		"ROSTER_REFRESH_CRON", cfg.RosterCron)
	return cfg, nil
}

// ApplyDefaults fills settings derived from other settings. It is idempotent.
func (c *Config) ApplyDefaults() {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.IRCNick == "" {
		c.IRCNick = util.GenerateNick(DefaultNickPrefix)
		slog.Debug("No IRC_NICK set, generated one", "nick", c.IRCNick)
	}
	if c.WhatsAppDSN == "" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
}

// Rebase moves state-dir relative defaults from oldDir to c.StateDir, for when
// a flag changes the state directory after Load.
func (c *Config) Rebase(oldDir string) {
	if oldDir == c.StateDir {
		return
	}
	if c.DatabaseURL == filepath.Join(oldDir, DefaultDBFileName) {
		c.DatabaseURL = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsAppDSN == "file:"+filepath.Join(oldDir, DefaultWhatsAppDBFileName)+"?_foreign_keys=on" {
		c.WhatsAppDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	slog.Debug("Config rebased on new state directory", "old_state_dir", oldDir, "new_state_dir", c.StateDir)
}

// Validate checks the settings the selected transport needs.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportIRC:
		if c.IRCServer == "" {
			return fmt.Errorf("%w: IRC server is required", ErrInvalidConfig)
		}
		if !strings.HasPrefix(c.IRCChannel, "#") && !strings.HasPrefix(c.IRCChannel, "&") {
			return fmt.Errorf("%w: IRC channel %q must start with # or &", ErrInvalidConfig, c.IRCChannel)
		}
	case TransportWhatsApp:
		if c.WhatsAppGroup == "" {
			return fmt.Errorf("%w: WHATSAPP_GROUP_JID is required for the whatsapp transport", ErrInvalidConfig)
		}
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("%w: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required for the twilio transport", ErrInvalidConfig)
		}
		if c.APIAddr == "" {
			return fmt.Errorf("%w: the twilio transport needs API_ADDR for its webhook", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a level name to slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelDebug, fmt.Errorf("%w: log level %q: %v", ErrInvalidConfig, name, err)
	}
	return level, nil
}
