package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"autoreply/pkg/channel"
	"autoreply/pkg/config"
	"autoreply/pkg/transport"
)

const (
	channelName    = "discord"
	maxMessageSize = 2000
)

// Transport connects a Discord bot account through the gateway websocket.
type Transport struct {
	transport.Emitter

	token     string
	allowFrom channel.AllowList
	log       *slog.Logger

	mu       sync.Mutex
	session  *discordgo.Session
	selfID   string
	closing  bool
	removers []func()
}

// Factory validates cfg once and returns a factory producing a fresh
// transport per connection attempt.
func Factory(cfg config.DiscordConfig, log *slog.Logger) (transport.Factory, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.discord.token is required")
	}

	return func() (transport.Transport, error) {
		return New(cfg, log)
	}, nil
}

// New constructs an unopened transport.
func New(cfg config.DiscordConfig, log *slog.Logger) (*Transport, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.discord.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Transport{
		token:     token,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       log.With("component", "channel.discord"),
	}, nil
}

func (t *Transport) Name() string {
	return channelName
}

// Initialize opens the gateway connection. Ready and disconnect are reported
// from discordgo's event handlers.
func (t *Transport) Initialize(ctx context.Context) error {
	session, err := discordgo.New("Bot " + t.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	// Reconnects are decided by the connection manager, not the library.
	session.ShouldReconnectOnError = false
	// Handlers run in gateway order so Ready is emitted before any message.
	session.SyncEvents = true

	t.mu.Lock()
	if t.closing || ctx.Err() != nil {
		t.mu.Unlock()
		return errors.New("discord transport destroyed during initialization")
	}
	t.session = session
	t.removers = append(t.removers,
		session.AddHandler(t.handleReady),
		session.AddHandler(t.handleMessage),
		session.AddHandler(t.handleDisconnect),
	)
	t.mu.Unlock()

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}

	return nil
}

func (t *Transport) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	t.mu.Lock()
	t.selfID = r.User.ID
	t.mu.Unlock()

	t.log.Info("Discord bot connected", "user", r.User.Username)
	t.Emit(transport.Event{Kind: transport.EventAuthenticated, Detail: "authenticated as " + r.User.Username})
	t.Emit(transport.Event{Kind: transport.EventReady, Detail: "connected as " + r.User.Username})
}

func (t *Transport) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := t.incoming(m)
	if !ok {
		return
	}

	t.log.Info("Received message", "channel_id", msg.ChatID, "sender_id", msg.SenderID, "content", channel.Preview(msg.Body))
	t.Emit(transport.Event{Kind: transport.EventMessage, Message: &msg})
}

func (t *Transport) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	t.mu.Lock()
	closing := t.closing
	t.mu.Unlock()
	if closing {
		return
	}

	t.Emit(transport.Event{Kind: transport.EventDisconnected, Detail: "discord gateway connection lost"})
}

// incoming converts one MessageCreate, or reports false for messages the bot
// never evaluates.
func (t *Transport) incoming(m *discordgo.MessageCreate) (transport.IncomingMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return transport.IncomingMessage{}, false
	}

	t.mu.Lock()
	selfID := t.selfID
	t.mu.Unlock()

	fromSelf := m.Author.ID == selfID
	if m.Author.Bot && !fromSelf {
		// Other bots would loop with us.
		return transport.IncomingMessage{}, false
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return transport.IncomingMessage{}, false
	}
	if !t.allowFrom.Allows(m.Author.ID, m.Author.Username) {
		t.log.Debug("Ignoring message from unauthorized sender", "sender_id", m.Author.ID)
		return transport.IncomingMessage{}, false
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	return transport.IncomingMessage{
		ID:            m.ID,
		SenderID:      m.Author.ID,
		SenderName:    name,
		ChatID:        m.ChannelID,
		Body:          content,
		FromSelf:      fromSelf,
		GroupOrStatus: m.GuildID != "",
		Timestamp:     m.Timestamp.UTC(),
	}, true
}

// Send posts text to a channel id, split at Discord's message size limit.
func (t *Transport) Send(ctx context.Context, recipient string, text string) error {
	t.mu.Lock()
	session := t.session
	closing := t.closing
	t.mu.Unlock()
	if session == nil || closing {
		return errors.New("discord transport is not connected")
	}

	t.log.Info("Sending message", "channel_id", recipient, "content", channel.Preview(text))
	for _, chunk := range splitMessage(text, maxMessageSize) {
		if _, err := session.ChannelMessageSend(recipient, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}

	return nil
}

// Destroy closes the gateway connection and drops all library handlers.
func (t *Transport) Destroy(context.Context) error {
	t.mu.Lock()
	t.closing = true
	session := t.session
	removers := t.removers
	t.session = nil
	t.removers = nil
	t.mu.Unlock()

	if session == nil {
		return nil
	}

	err := session.Close()
	for _, remove := range removers {
		remove()
	}
	if err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}

	t.log.Info("Discord channel stopped")
	return nil
}

// splitMessage splits text into chunks of at most maxLen runes, preferring
// newline boundaries. Cuts never fall inside a rune.
func splitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		limit := runeOffset(text, maxLen)
		if limit == len(text) {
			chunks = append(chunks, text)
			break
		}

		cutAt := limit
		if idx := strings.LastIndex(text[:limit], "\n"); idx > 0 {
			cutAt = idx + 1
		}

		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}

	return chunks
}

// runeOffset returns the byte offset just past the first n runes of text.
func runeOffset(text string, n int) int {
	for i := range text {
		if n == 0 {
			return i
		}
		n--
	}

	return len(text)
}
