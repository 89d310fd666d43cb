package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoreply/pkg/channel"
	"autoreply/pkg/config"
	"autoreply/pkg/transport"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const channelName = "telegram"

// Transport connects to the Telegram Bot API through long polling. Telegram
// bots authenticate with a token, so no pairing code is ever emitted.
type Transport struct {
	transport.Emitter

	token     string
	allowFrom channel.AllowList
	log       *slog.Logger

	mu        sync.Mutex
	bot       *telego.Bot
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

// Factory validates cfg once and returns a factory producing a fresh
// transport per connection attempt.
func Factory(cfg config.TelegramConfig, log *slog.Logger) (transport.Factory, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	return func() (transport.Transport, error) {
		return New(cfg, log)
	}, nil
}

// New constructs an uninitialized transport.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Transport, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Transport{
		token:     token,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in status output and logs.
func (t *Transport) Name() string {
	return channelName
}

// Initialize validates the token, starts long polling, and reports ready.
func (t *Transport) Initialize(ctx context.Context) error {
	bot, err := telego.NewBot(t.token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}
	identity := "@" + me.Username
	t.Emit(transport.Event{Kind: transport.EventAuthenticated, Detail: "authenticated as " + identity})

	// Polling outlives Initialize; Destroy owns its lifetime.
	pollCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	if t.destroyed || ctx.Err() != nil {
		t.mu.Unlock()
		cancel()
		return errors.New("telegram transport destroyed during initialization")
	}
	t.bot = bot
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	// Ready goes out before the first update so a pending backlog is never
	// delivered ahead of it.
	t.log.Info("Telegram channel started", "bot", identity)
	t.Emit(transport.Event{Kind: transport.EventReady, Detail: "connected as " + identity})

	go t.poll(pollCtx, updates, me.ID, done)
	return nil
}

func (t *Transport) poll(ctx context.Context, updates <-chan telego.Update, selfID int64, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				t.Emit(transport.Event{Kind: transport.EventDisconnected, Detail: "telegram updates channel closed"})
				return
			}

			msg, ok := t.incoming(update, selfID)
			if !ok {
				continue
			}
			t.log.Info("Received message", "chat_id", msg.ChatID, "sender_id", msg.SenderID, "content", channel.Preview(msg.Body))
			t.Emit(transport.Event{Kind: transport.EventMessage, Message: &msg})
		}
	}
}

// incoming converts one update into a message, or reports false for updates
// the bot never evaluates.
func (t *Transport) incoming(update telego.Update, selfID int64) (transport.IncomingMessage, bool) {
	message := update.Message
	if message == nil {
		return transport.IncomingMessage{}, false
	}

	content := strings.TrimSpace(message.Text)
	if content == "" {
		// Only text messages can match rules.
		return transport.IncomingMessage{}, false
	}
	if message.From == nil {
		t.log.Debug("Ignoring message without sender")
		return transport.IncomingMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !t.allowFrom.Allows(senderID, message.From.Username) {
		t.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return transport.IncomingMessage{}, false
	}

	return transport.IncomingMessage{
		ID:            strconv.Itoa(message.MessageID),
		SenderID:      senderID,
		SenderName:    displayName(message.From),
		ChatID:        strconv.FormatInt(message.Chat.ID, 10),
		Body:          content,
		FromSelf:      message.From.ID == selfID,
		GroupOrStatus: message.Chat.Type != telego.ChatTypePrivate,
		Timestamp:     time.Unix(message.Date, 0).UTC(),
	}, true
}

// Send delivers text to a numeric chat id or an @username.
func (t *Transport) Send(ctx context.Context, recipient string, text string) error {
	t.mu.Lock()
	bot := t.bot
	t.mu.Unlock()
	if bot == nil {
		return errors.New("telegram transport is not connected")
	}

	chatID, err := chatIDFor(recipient)
	if err != nil {
		return err
	}

	t.log.Info("Sending message", "chat_id", recipient, "content", channel.Preview(text))
	if _, err := bot.SendMessage(ctx, tu.Message(chatID, text)); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	return nil
}

// Destroy stops polling and waits for the poll goroutine to exit.
func (t *Transport) Destroy(ctx context.Context) error {
	t.mu.Lock()
	t.destroyed = true
	cancel, done := t.cancel, t.done
	t.bot = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		t.log.Info("Telegram channel stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop telegram polling: %w", ctx.Err())
	}
}

func chatIDFor(recipient string) (telego.ChatID, error) {
	recipient = strings.TrimSpace(recipient)
	if strings.HasPrefix(recipient, "@") && len(recipient) > 1 {
		return tu.Username(recipient), nil
	}

	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return telego.ChatID{}, fmt.Errorf("invalid telegram recipient %q: want a chat id or @username", recipient)
	}

	return tu.ID(id), nil
}

func displayName(user *telego.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}

	return ""
}
