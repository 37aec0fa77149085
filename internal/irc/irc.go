// Package irc is a minimal IRC client for a bot that lives in a single channel.
//
// It registers, identifies with NickServ, joins the channel and hands every
// inbound message to the caller, answering server PINGs on its own.
package irc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
)

// Numeric replies the client reacts to.
const (
	RplWelcome         = "001"
	RplNamReply        = "353"
	RplEndOfNames      = "366"
	ErrNicknameInUse   = "433"
	DefaultDialTimeout = 10 * time.Second
	// DefaultJoinDelay is how long to wait for RPL_WELCOME before joining anyway.
	DefaultJoinDelay = 5 * time.Second
	// DefaultWriteTimeout bounds a single line write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultBufferSize is the capacity of the inbound message channel.
	DefaultBufferSize = 100
	// DefaultDeliverTimeout bounds how long a full inbound channel may stall the reader.
	DefaultDeliverTimeout = 1 * time.Second
)

// ErrNotConnected is returned by writes before Connect or after the connection closed.
var ErrNotConnected = errors.New("irc: not connected")

// DialFunc opens the transport connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Opts holds configuration for the IRC client.
type Opts struct {
	Server       string // host:port
	Nick         string
	Channel      string
	Password     string // NickServ password, optional
	DialTimeout  time.Duration
	JoinDelay    time.Duration
	WriteTimeout time.Duration
	Dial         DialFunc
}

// Option defines a configuration option for the IRC client.
type Option func(*Opts)

// WithServer sets the host:port to connect to.
func WithServer(addr string) Option {
	return func(o *Opts) { o.Server = addr }
}

// WithNick sets the nickname to register with.
func WithNick(nick string) Option {
	return func(o *Opts) { o.Nick = nick }
}

// WithChannel sets the channel to join.
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// WithPassword sets the NickServ password.
func WithPassword(password string) Option {
	return func(o *Opts) { o.Password = password }
}

// WithJoinDelay sets the fallback delay before joining without RPL_WELCOME.
func WithJoinDelay(d time.Duration) Option {
	return func(o *Opts) { o.JoinDelay = d }
}

// WithDialer replaces the network dialer, mainly for tests.
func WithDialer(dial DialFunc) Option {
	return func(o *Opts) { o.Dial = dial }
}

// Client is a connection to one IRC server and channel.
type Client struct {
	cfg Opts

	mu     sync.Mutex // guards conn writes and nick
	conn   net.Conn
	nick   string
	closed bool

	joinOnce  sync.Once
	closeOnce sync.Once
	messages  chan ircmsg.Message
	done      chan struct{}
}

// NewClient validates the options and returns an unconnected client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		DialTimeout:  DefaultDialTimeout,
		JoinDelay:    DefaultJoinDelay,
		WriteTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("irc: server must be provided")
	}
	if cfg.Nick == "" {
		return nil, fmt.Errorf("irc: nick must be provided")
	}
	if !strings.HasPrefix(cfg.Channel, "#") && !strings.HasPrefix(cfg.Channel, "&") {
		return nil, fmt.Errorf("irc: invalid channel %q", cfg.Channel)
	}
	if cfg.Dial == nil {
		dialer := &net.Dialer{Timeout: cfg.DialTimeout}
		cfg.Dial = dialer.DialContext
	}
	slog.Debug("IRC NewClient options set", "server", cfg.Server, "nick", cfg.Nick, "channel", cfg.Channel, "password_set", cfg.Password != "")
	return &Client{
		cfg:      cfg,
		nick:     cfg.Nick,
		messages: make(chan ircmsg.Message, DefaultBufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Connect dials the server, registers and schedules the channel join.
// Inbound messages are delivered on Messages until the connection ends.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.cfg.Dial(ctx, "tcp", c.cfg.Server)
	if err != nil {
		return fmt.Errorf("irc: dial %s: %w", c.cfg.Server, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	slog.Info("IRC connected", "server", c.cfg.Server)

	go c.readLoop()

	nick := c.Nick()
	if err := c.send("USER", nick, "0", "*", nick); err != nil {
		return err
	}
	if err := c.send("NICK", nick); err != nil {
		return err
	}
	if c.cfg.Password != "" {
		if err := c.send("PRIVMSG", "NickServ", "IDENTIFY "+nick+" "+c.cfg.Password); err != nil {
			return err
		}
	}

	go func() {
		select {
		case <-time.After(c.cfg.JoinDelay):
			c.join()
		case <-c.done:
		}
	}()
	return nil
}

// Messages returns inbound messages. The channel is closed when the connection ends.
func (c *Client) Messages() <-chan ircmsg.Message {
	return c.messages
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Nick returns the nickname currently in use.
func (c *Client) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

// Channel returns the configured channel.
func (c *Client) Channel() string {
	return c.cfg.Channel
}

// Privmsg sends text to target, one PRIVMSG per line.
func (c *Client) Privmsg(target, text string) error {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if err := c.send("PRIVMSG", target, line); err != nil {
			return err
		}
	}
	return nil
}

// Names asks the server for the member list of channel.
func (c *Client) Names(channel string) error {
	return c.send("NAMES", channel)
}

// Quit leaves the server and closes the connection.
func (c *Client) Quit(reason string) error {
	err := c.send("QUIT", reason)
	c.Close()
	return err
}

// Close drops the connection without a QUIT.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *Client) join() {
	c.joinOnce.Do(func() {
		if err := c.send("JOIN", c.cfg.Channel); err != nil {
			slog.Error("IRC JOIN failed", "channel", c.cfg.Channel, "error", err)
			return
		}
		slog.Info("IRC joining channel", "channel", c.cfg.Channel)
	})
}

func (c *Client) send(command string, params ...string) error {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.Line()
	if err != nil {
		return fmt.Errorf("irc: encode %s: %w", command, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("irc: write %s: %w", command, err)
	}
	if command != "PRIVMSG" || params[0] != "NickServ" {
		slog.Debug("IRC sent", "command", command, "params", params)
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.Close()
		close(c.done)
		close(c.messages)
		slog.Info("IRC connection closed", "server", c.cfg.Server)
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), "\r")
		if raw == "" {
			continue
		}
		msg, err := ircmsg.ParseLine(raw)
		if err != nil {
			slog.Warn("IRC dropping unparseable line", "line", raw, "error", err)
			continue
		}
		c.handle(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Error("IRC read failed", "error", err)
	}
}

func (c *Client) handle(msg ircmsg.Message) {
	switch msg.Command {
	case "PING":
		if err := c.send("PONG", msg.Params...); err != nil {
			slog.Warn("IRC PONG failed", "error", err)
		}
		return
	case RplWelcome:
		c.join()
	case ErrNicknameInUse:
		c.mu.Lock()
		c.nick += "_"
		nick := c.nick
		c.mu.Unlock()
		slog.Warn("IRC nickname in use, retrying", "nick", nick)
		if err := c.send("NICK", nick); err != nil {
			slog.Warn("IRC NICK retry failed", "error", err)
		}
	case "NICK":
		if msg.Nick() == c.Nick() && len(msg.Params) > 0 {
			c.mu.Lock()
			c.nick = msg.Params[0]
			c.mu.Unlock()
		}
	}
	select {
	case c.messages <- msg:
	case <-time.After(DefaultDeliverTimeout):
		slog.Warn("IRC messages channel blocked, dropping message", "command", msg.Command, "timeout", DefaultDeliverTimeout)
	}
}
