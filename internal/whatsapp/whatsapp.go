// Package whatsapp wraps the Whatsmeow client so a WhatsApp group can act as
// GreetPipe's channel.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/GreetPipe/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/greetpipe/whatsmeow.db"
	// GroupSuffix is the WhatsApp JID server for group chats
	GroupSuffix = "g.us"
)

// GroupSender posts a line into the configured group.
type GroupSender interface {
	SendGroupMessage(ctx context.Context, body string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	GroupJID    string // group acting as the channel, "123456789-987654@g.us"
	QRPath      string // path to write login QR code
	NumericCode bool   // print the pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithGroupJID sets the group the bot talks in.
func WithGroupJID(jid string) Option {
	return func(o *Opts) {
		o.GroupJID = jid
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to print the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// ParseGroupJID validates a group JID. A bare group id gets the g.us server appended.
func ParseGroupJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, fmt.Errorf("group JID cannot be empty")
	}
	if !strings.Contains(raw, "@") {
		raw += "@" + GroupSuffix
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.JID{}, fmt.Errorf("invalid group JID %q: %w", raw, err)
	}
	if jid.Server != GroupSuffix {
		return types.JID{}, fmt.Errorf("JID %q is not a group", raw)
	}
	return jid, nil
}

// ResolveDriver picks the database/sql driver for a whatsmeow store DSN.
func ResolveDriver(dsn string) string {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// Client wraps the Whatsmeow client bound to one group.
type Client struct {
	waClient *whatsmeow.Client
	group    types.JID
}

// NewClient connects to WhatsApp, pairing the device on first use.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "group", cfg.GroupJID, "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	group, err := ParseGroupJID(cfg.GroupJID)
	if err != nil {
		return nil, err
	}

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}
	dbDriver := ResolveDriver(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled; whatsmeow recommends them",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := pair(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully", "group", group.String())
	return &Client{waClient: waClient, group: group}, nil
}

// pair runs the QR login flow until the channel closes.
func pair(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Debug("WhatsApp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// SendGroupMessage posts body into the group.
func (c *Client) SendGroupMessage(ctx context.Context, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, c.group, msg); err != nil {
		slog.Error("Failed to send WhatsApp group message", "error", err, "group", c.group.String())
		return fmt.Errorf("failed to send message to %s: %w", c.group, err)
	}
	slog.Debug("WhatsApp group message sent", "group", c.group.String(), "body_length", len(body))
	return nil
}

// Self returns the display name the bot is addressed by, falling back to its phone number.
func (c *Client) Self() string {
	if c.waClient == nil || c.waClient.Store == nil {
		return ""
	}
	if c.waClient.Store.PushName != "" {
		return c.waClient.Store.PushName
	}
	if c.waClient.Store.ID != nil {
		return c.waClient.Store.ID.User
	}
	return ""
}

// Group returns the group JID the client is bound to.
func (c *Client) Group() types.JID {
	return c.group
}

// AddEventHandler registers a whatsmeow event handler.
func (c *Client) AddEventHandler(handler func(evt interface{})) uint32 {
	return c.waClient.AddEventHandler(handler)
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MessageText extracts the plain text of a message, "" for media and other payloads.
func MessageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return *msg.Conversation
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.Text != nil {
		return *ext.Text
	}
	return ""
}

// MockClient records group messages instead of sending them (for tests).
type MockClient struct {
	SentMessages []string
	Err          error
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendGroupMessage(ctx context.Context, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, body)
	return nil
}
