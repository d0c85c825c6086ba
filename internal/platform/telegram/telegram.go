// Package telegram is the DM-side adapter: end users talk to the support
// bot in private chats and every private chat maps to one user.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/platform"
)

const platformName = "telegram"

// Adapter bridges Telegram private chats into bridge inbound events.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	logger    *zap.Logger

	redeliveryAttempts int
	redeliveryDelay    time.Duration

	onMessage   platform.Handler
	onLifecycle platform.LifecycleHandler

	ready atomic.Bool

	mu         sync.Mutex
	bot        *telego.Bot
	stopPoller context.CancelFunc
	pollerDone chan struct{}
}

// NewAdapter validates configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, bridgeCfg config.BridgeConfig, logger *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:                cfg,
		allowFrom:          allowFromSet(cfg.AllowFrom),
		logger:             logger.Named("telegram"),
		redeliveryAttempts: bridgeCfg.RedeliveryAttempts,
		redeliveryDelay:    bridgeCfg.RedeliveryDelay,
	}, nil
}

// Name returns the platform identifier used in logs and errors.
func (a *Adapter) Name() string { return platformName }

// Subscribe registers event consumers.
func (a *Adapter) Subscribe(onMessage platform.Handler, onLifecycle platform.LifecycleHandler) {
	a.onMessage = onMessage
	a.onLifecycle = onLifecycle
}

// IsReady reports whether long polling is running.
func (a *Adapter) IsReady() bool { return a.ready.Load() }

// Connect authenticates the bot and (re)starts long polling. A rejected
// token is a fatal error; anything else is transient.
func (a *Adapter) Connect(ctx context.Context) error {
	a.stop()

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return platform.Classify(platformName, err, func(error) bool { return true })
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return a.classify(err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return a.classify(err)
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.bot = bot
	a.stopPoller = cancel
	a.pollerDone = done
	a.mu.Unlock()

	a.ready.Store(true)
	a.logger.Info("telegram connected", zap.String("bot", me.Username))
	a.emit(platform.LifecycleEvent{Kind: platform.LifecycleConnected})

	go a.poll(pollCtx, updates, done)
	return nil
}

// Close stops long polling.
func (a *Adapter) Close() error {
	a.stop()
	return nil
}

// SendMessage sends text to a private chat. channelRef is the chat id.
func (a *Adapter) SendMessage(ctx context.Context, channelRef, content string) (string, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil || !a.IsReady() {
		return "", platform.Classify(platformName, platform.ErrNotReady, nil)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(channelRef), 10, 64)
	if err != nil {
		return "", fmt.Errorf("telegram chat id %q: %w", channelRef, platform.ErrUndeliverable)
	}
	sent, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), content))
	if err != nil {
		return "", a.classify(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// CreateChannel is not available on the DM side.
func (a *Adapter) CreateChannel(context.Context, *domain.Ticket, *domain.Category) (string, error) {
	return "", platform.ErrUnsupported
}

// MoveChannel is not available on the DM side.
func (a *Adapter) MoveChannel(context.Context, string, string) error {
	return platform.ErrUnsupported
}

func (a *Adapter) poll(ctx context.Context, updates <-chan telego.Update, done chan struct{}) {
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
				a.ready.Store(false)
				a.emit(platform.LifecycleEvent{
					Kind: platform.LifecycleDisconnected,
					Err:  platform.Classify(platformName, errors.New("telegram updates channel closed"), nil),
				})
				return
			}
			ev, ok := a.toEvent(update)
			if !ok || a.onMessage == nil {
				continue
			}
			_ = platform.Redeliver(ctx, a.onMessage, ev, a.redeliveryAttempts, a.redeliveryDelay, a.logger)
		}
	}
}

// toEvent converts a private text message into an inbound event.
func (a *Adapter) toEvent(update telego.Update) (platform.InboundEvent, bool) {
	message := update.Message
	if message == nil || message.From == nil {
		return platform.InboundEvent{}, false
	}
	if message.Chat.Type != telego.ChatTypePrivate {
		return platform.InboundEvent{}, false
	}
	content := strings.TrimSpace(message.Text)
	if content == "" {
		return platform.InboundEvent{}, false
	}
	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.logger.Debug("ignoring message from sender outside allow list", zap.String("sender_id", senderID))
		return platform.InboundEvent{}, false
	}
	return platform.InboundEvent{
		Platform:     platformName,
		SourceUserID: senderID,
		DisplayName:  displayName(message.From),
		ChannelRef:   strconv.FormatInt(message.Chat.ID, 10),
		MessageRef:   strconv.Itoa(message.MessageID),
		Content:      content,
		CommandHint:  platform.ParseCommand(content),
	}, true
}

func (a *Adapter) stop() {
	a.mu.Lock()
	cancel, done := a.stopPoller, a.pollerDone
	a.stopPoller, a.pollerDone = nil, nil
	a.mu.Unlock()

	a.ready.Store(false)
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *Adapter) emit(ev platform.LifecycleEvent) {
	if a.onLifecycle != nil {
		a.onLifecycle(ev)
	}
}

func (a *Adapter) classify(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w", apiErr.Description, platform.ErrUndeliverable)
	}
	return platform.Classify(platformName, err, isCredentialError)
}

// isCredentialError reports Telegram's answers to a revoked or wrong token.
func isCredentialError(err error) bool {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode == http.StatusUnauthorized || apiErr.ErrorCode == http.StatusNotFound
}

// senderAllowed checks whether a sender is permitted by the allow list.
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}
	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func allowFromSet(allowFrom []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}

func displayName(user *telego.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name != "" {
		return name
	}
	if user.Username != "" {
		return "@" + user.Username
	}
	return strconv.FormatInt(user.ID, 10)
}
