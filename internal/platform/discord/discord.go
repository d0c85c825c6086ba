// Package discord is the channel-side adapter: every ticket gets its own
// text channel in the staff guild, grouped under its category.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bridge/internal/config"
	"github.com/spec-kit/ticket-bridge/internal/domain"
	"github.com/spec-kit/ticket-bridge/internal/platform"
)

const platformName = "discord"

// Discord JSON error codes that mean the target is gone rather than the
// platform being down.
const (
	codeUnknownChannel = 10003
	codeUnknownMessage = 10008
)

// Adapter relays staff guild channels to and from the bridge.
type Adapter struct {
	cfg    config.DiscordConfig
	logger *zap.Logger

	redeliveryAttempts int
	redeliveryDelay    time.Duration

	onMessage   platform.Handler
	onLifecycle platform.LifecycleHandler

	ready atomic.Bool

	mu       sync.Mutex
	session  *discordgo.Session
	removers []func()
	botID    string
	runCtx   context.Context
	cancel   context.CancelFunc
}

// NewAdapter validates configuration and constructs an adapter instance.
func NewAdapter(cfg config.DiscordConfig, bridgeCfg config.BridgeConfig, logger *zap.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("DISCORD_TOKEN is required")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("DISCORD_GUILD_ID is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:                cfg,
		logger:             logger.Named("discord"),
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

// IsReady reports whether the gateway session is established.
func (a *Adapter) IsReady() bool { return a.ready.Load() }

// Connect validates the token over REST and opens the gateway. An existing
// session is closed first, so Connect doubles as reconnect.
func (a *Adapter) Connect(ctx context.Context) error {
	_ = a.Close()

	session, err := discordgo.New("Bot " + strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return platform.Classify(platformName, err, func(error) bool { return true })
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	me, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	removers := []func(){
		session.AddHandler(a.handleReady),
		session.AddHandler(a.handleResumed),
		session.AddHandler(a.handleDisconnect),
		session.AddHandler(a.handleMessageCreate),
	}

	a.mu.Lock()
	a.session = session
	a.removers = removers
	a.botID = me.ID
	a.runCtx = runCtx
	a.cancel = cancel
	a.mu.Unlock()

	if err := session.Open(); err != nil {
		_ = a.Close()
		return classify(err)
	}
	a.ready.Store(true)
	a.logger.Info("discord connected", zap.String("bot", me.Username), zap.String("guild_id", a.cfg.GuildID))
	return nil
}

// Close tears down the gateway session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	session, removers, cancel := a.session, a.removers, a.cancel
	a.session, a.removers, a.cancel = nil, nil, nil
	a.mu.Unlock()

	a.ready.Store(false)
	for _, remove := range removers {
		remove()
	}
	if cancel != nil {
		cancel()
	}
	if session != nil {
		return session.Close()
	}
	return nil
}

// SendMessage posts content into a ticket channel.
func (a *Adapter) SendMessage(ctx context.Context, channelRef, content string) (string, error) {
	session, err := a.liveSession()
	if err != nil {
		return "", err
	}
	msg, err := session.ChannelMessageSend(channelRef, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

// CreateChannel creates the ticket's text channel under its category parent.
func (a *Adapter) CreateChannel(ctx context.Context, ticket *domain.Ticket, category *domain.Category) (string, error) {
	session, err := a.liveSession()
	if err != nil {
		return "", err
	}
	data := discordgo.GuildChannelCreateData{
		Name:  channelName(ticket),
		Type:  discordgo.ChannelTypeGuildText,
		Topic: fmt.Sprintf("Ticket %s (%s)", ticket.ExternalKey, ticket.CategoryID),
	}
	if category != nil {
		data.ParentID = category.ParentRef
	}
	channel, err := session.GuildChannelCreateComplex(a.cfg.GuildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return channel.ID, nil
}

// MoveChannel re-parents a ticket channel, used to archive transcripts.
func (a *Adapter) MoveChannel(ctx context.Context, channelRef, targetParentRef string) error {
	session, err := a.liveSession()
	if err != nil {
		return err
	}
	_, err = session.ChannelEdit(channelRef, &discordgo.ChannelEdit{ParentID: targetParentRef}, discordgo.WithContext(ctx))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) liveSession() (*discordgo.Session, error) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil || !a.IsReady() {
		return nil, platform.Classify(platformName, platform.ErrNotReady, nil)
	}
	return session, nil
}

func (a *Adapter) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	a.ready.Store(true)
	a.emit(platform.LifecycleEvent{Kind: platform.LifecycleConnected})
}

func (a *Adapter) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	a.ready.Store(true)
	a.emit(platform.LifecycleEvent{Kind: platform.LifecycleConnected})
}

func (a *Adapter) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.ready.Store(false)
	a.emit(platform.LifecycleEvent{
		Kind: platform.LifecycleDisconnected,
		Err:  platform.Classify(platformName, errors.New("gateway disconnected"), nil),
	})
}

func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	a.mu.Lock()
	botID, ctx := a.botID, a.runCtx
	a.mu.Unlock()

	ev, ok := toEvent(m, a.cfg.GuildID, botID)
	if !ok || a.onMessage == nil || ctx == nil {
		return
	}
	_ = platform.Redeliver(ctx, a.onMessage, ev, a.redeliveryAttempts, a.redeliveryDelay, a.logger)
}

func (a *Adapter) emit(ev platform.LifecycleEvent) {
	if a.onLifecycle != nil {
		a.onLifecycle(ev)
	}
}

// toEvent converts a guild message from a human into an inbound event.
func toEvent(m *discordgo.MessageCreate, guildID, botID string) (platform.InboundEvent, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return platform.InboundEvent{}, false
	}
	if m.Author.Bot || m.Author.ID == botID || m.GuildID != guildID {
		return platform.InboundEvent{}, false
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return platform.InboundEvent{}, false
	}
	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return platform.InboundEvent{
		Platform:     platformName,
		SourceUserID: m.Author.ID,
		DisplayName:  name,
		ChannelRef:   m.ChannelID,
		MessageRef:   m.ID,
		Content:      content,
		CommandHint:  platform.ParseCommand(content),
	}, true
}

func channelName(ticket *domain.Ticket) string {
	return "ticket-" + strings.ToLower(strings.TrimPrefix(ticket.ExternalKey, "TCK-"))
}

func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case codeUnknownChannel, codeUnknownMessage:
			return fmt.Errorf("%s: %w", restErr.Message.Message, platform.ErrUndeliverable)
		}
	}
	return platform.Classify(platformName, err, isCredentialError)
}

// isCredentialError reports a rejected token or missing guild permissions.
func isCredentialError(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusUnauthorized || restErr.Response.StatusCode == http.StatusForbidden
}
