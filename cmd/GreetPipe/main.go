package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/GreetPipe/internal/bot"
	"github.com/BTreeMap/GreetPipe/internal/config"
)

func main() {
	// Debug until the configured level is known
	initializeLogger(os.Stdout, slog.LevelDebug)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	cfg, err = applyFlags(cfg, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		slog.Error("Invalid log level", "error", err)
		os.Exit(1)
	}
	initializeLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping GreetPipe", "transport", cfg.Transport, "state_dir", cfg.StateDir, "api_addr", cfg.APIAddr)
	if err := bot.Run(ctx, cfg); err != nil && !errors.Is(err, bot.ErrQuit) {
		slog.Error("GreetPipe failed to run", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("GreetPipe exited successfully")
}

// initializeLogger installs a text handler on w as the default logger.
func initializeLogger(w io.Writer, level slog.Level) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// applyFlags overrides cfg with command line flags. Paths derived from the
// state directory follow a -state-dir override unless set explicitly.
func applyFlags(cfg config.Config, args []string) (config.Config, error) {
	fs := flag.NewFlagSet("GreetPipe", flag.ContinueOnError)
	oldStateDir := cfg.StateDir

	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: irc, whatsapp or twilio (overrides $GREETPIPE_TRANSPORT)")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for the lock file and databases (overrides $GREETPIPE_STATE_DIR)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error (overrides $GREETPIPE_LOG_LEVEL)")
	fs.StringVar(&cfg.IRCServer, "irc-server", cfg.IRCServer, "IRC server host:port (overrides $IRC_SERVER)")
	fs.StringVar(&cfg.IRCChannel, "irc-channel", cfg.IRCChannel, "IRC channel to join (overrides $IRC_CHANNEL)")
	fs.StringVar(&cfg.IRCNick, "irc-nick", cfg.IRCNick, "bot nickname (overrides $IRC_NICK)")
	fs.StringVar(&cfg.WhatsAppDSN, "whatsapp-dsn", cfg.WhatsAppDSN, "whatsmeow session store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&cfg.WhatsAppGroup, "whatsapp-group", cfg.WhatsAppGroup, "WhatsApp group JID acting as the channel (overrides $WHATSAPP_GROUP_JID)")
	fs.StringVar(&cfg.WhatsAppQROutput, "qr-output", cfg.WhatsAppQROutput, "path to write login QR code (overrides $WHATSAPP_QR_OUTPUT)")
	fs.BoolVar(&cfg.WhatsAppNumericCode, "numeric-code", cfg.WhatsAppNumericCode, "use numeric login code instead of QR code (overrides $WHATSAPP_NUMERIC_CODE)")
	fs.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "conversation store DSN, postgres or sqlite path (overrides $DATABASE_URL)")
	fs.StringVar(&cfg.OpenAIKey, "openai-api-key", cfg.OpenAIKey, "OpenAI API key for the trivia fallback (overrides $OPENAI_API_KEY)")
	fs.StringVar(&cfg.CountryDataPath, "country-data", cfg.CountryDataPath, "country statistics CSV (overrides $COUNTRY_DATA_PATH)")
	fs.StringVar(&cfg.PhrasebookPath, "phrasebook", cfg.PhrasebookPath, "YAML phrase table override (overrides $PHRASEBOOK_PATH)")
	fs.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "status API address, empty to disable (overrides $API_ADDR)")
	fs.StringVar(&cfg.RosterCron, "roster-cron", cfg.RosterCron, "cron schedule for roster refreshes, empty to disable (overrides $ROSTER_REFRESH_CRON)")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg.Rebase(oldStateDir)
	cfg.ApplyDefaults()

	slog.Debug("flags parsed",
		"transport", cfg.Transport,
		"stateDir", cfg.StateDir,
		"logLevel", cfg.LogLevel,
		"ircChannel", cfg.IRCChannel,
		"ircNick", cfg.IRCNick,
		"dbDSN_set", cfg.DatabaseURL != "",
		"openaiKeySet", cfg.OpenAIKey != "",
		"apiAddr", cfg.APIAddr,
		"rosterCron", cfg.RosterCron)
	return cfg, nil
}
