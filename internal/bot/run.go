package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/GreetPipe/internal/api"
	"github.com/BTreeMap/GreetPipe/internal/config"
	"github.com/BTreeMap/GreetPipe/internal/genai"
	"github.com/BTreeMap/GreetPipe/internal/greeting"
	"github.com/BTreeMap/GreetPipe/internal/irc"
	"github.com/BTreeMap/GreetPipe/internal/lockfile"
	"github.com/BTreeMap/GreetPipe/internal/messaging"
	"github.com/BTreeMap/GreetPipe/internal/store"
	"github.com/BTreeMap/GreetPipe/internal/trivia"
	"github.com/BTreeMap/GreetPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/GreetPipe/internal/whatsapp"
)

// Run wires a bot from cfg and runs it with the status API until ctx ends or
// the bot stops. It returns ErrQuit after the die command.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir, Owner(cfg))
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	opts := []Option{
		WithStore(st),
		WithRosterCron(cfg.RosterCron),
		WithTransport(cfg.Transport),
	}
	if cfg.PhrasebookPath != "" {
		phrases, err := greeting.LoadPhrasebook(cfg.PhrasebookPath)
		if err != nil {
			return fmt.Errorf("load phrasebook: %w", err)
		}
		opts = append(opts, WithPhrasebook(phrases))
	}
	answerer, err := NewAnswerer(cfg)
	if err != nil {
		return err
	}
	if answerer != nil {
		opts = append(opts, WithAnswerer(answerer))
	}

	service, webhook, err := NewService(ctx, cfg)
	if err != nil {
		return err
	}
	b := New(service, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	apiErr := make(chan error, 1)
	if cfg.APIAddr != "" {
		apiOpts := []api.Option{api.WithAddr(cfg.APIAddr)}
		if webhook != nil {
			apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook))
		}
		server := api.NewServer(b, st, apiOpts...)
		go func() { apiErr <- server.ListenAndServe(ctx) }()
	} else {
		apiErr <- nil
	}

	runErr := b.Run(ctx)
	cancel()
	if err := <-apiErr; err != nil {
		slog.Error("Status API stopped with error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// Owner describes the bot for the lock file.
func Owner(cfg config.Config) string {
	switch cfg.Transport {
	case config.TransportIRC:
		return fmt.Sprintf("irc %s@%s on %s", cfg.IRCNick, cfg.IRCChannel, cfg.IRCServer)
	case config.TransportWhatsApp:
		return "whatsapp " + cfg.WhatsAppGroup
	default:
		return cfg.Transport + " " + cfg.TwilioFromNumber
	}
}

// NewAnswerer builds the trivia chain from cfg: the country table first, then
// the language model. It returns nil when neither is configured.
func NewAnswerer(cfg config.Config) (trivia.Answerer, error) {
	var chain trivia.Chain
	if cfg.CountryDataPath != "" {
		countries, err := trivia.LoadCountryStore(cfg.CountryDataPath)
		if err != nil {
			return nil, fmt.Errorf("load country data: %w", err)
		}
		slog.Info("Country data loaded", "path", cfg.CountryDataPath, "countries", countries.Len())
		chain = append(chain, countries)
	}
	if cfg.OpenAIKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(cfg.OpenAIKey))
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		chain = append(chain, client)
	}
	if len(chain) == 0 {
		slog.Warn("No trivia sources configured, questions will go unanswered")
		return nil, nil
	}
	return chain, nil
}

// NewService connects the configured transport. For Twilio it also returns the
// inbound webhook handler to mount on the API server.
func NewService(ctx context.Context, cfg config.Config) (messaging.Service, http.Handler, error) {
	switch cfg.Transport {
	case config.TransportIRC:
		client, err := irc.NewClient(
			irc.WithServer(cfg.IRCServer),
			irc.WithNick(cfg.IRCNick),
			irc.WithChannel(cfg.IRCChannel),
			irc.WithPassword(cfg.IRCNickServPassword),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create irc client: %w", err)
		}
		return messaging.NewIRCService(client), nil, nil

	case config.TransportWhatsApp:
		waOpts := []whatsapp.Option{
			whatsapp.WithDBDSN(cfg.WhatsAppDSN),
			whatsapp.WithGroupJID(cfg.WhatsAppGroup),
		}
		if cfg.WhatsAppQROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.WhatsAppQROutput))
		}
		if cfg.WhatsAppNumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create whatsapp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil

	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("create twilio client: %w", err)
		}
		service := messaging.NewTwilioService(client, cfg.IRCNick)
		return service, http.HandlerFunc(service.TwilioWebhookHandler), nil
	}
	return nil, nil, errors.New("unknown transport " + cfg.Transport)
}
