// Package platform defines the abstract surface the bridge core consumes
// from the two chat platforms.
package platform

import (
	"context"

	"github.com/spec-kit/ticket-bridge/internal/domain"
)

// InboundEvent is a message received from either platform.
type InboundEvent struct {
	Platform     string
	SourceUserID string
	DisplayName  string
	ChannelRef   string
	MessageRef   string
	Content      string
	CommandHint  *Command
}

// Handler consumes inbound events. A non-nil error means the event was
// not accepted and must be redelivered.
type Handler func(context.Context, InboundEvent) error

// LifecycleKind enumerates connection lifecycle notifications.
type LifecycleKind string

const (
	LifecycleConnected    LifecycleKind = "connected"
	LifecycleDisconnected LifecycleKind = "disconnected"
)

// LifecycleEvent reports a connection state change observed by an adapter.
type LifecycleEvent struct {
	Kind LifecycleKind
	Err  error
}

// LifecycleHandler consumes lifecycle events.
type LifecycleHandler func(LifecycleEvent)

// Messenger is the send side of an adapter.
type Messenger interface {
	Name() string
	Connect(ctx context.Context) error
	IsReady() bool
	SendMessage(ctx context.Context, channelRef, content string) (string, error)
	Close() error
}

// Source emits inbound and lifecycle events. Subscribe must be called
// before Connect.
type Source interface {
	Subscribe(onMessage Handler, onLifecycle LifecycleHandler)
}

// ChannelManager creates and moves per-ticket destination channels.
type ChannelManager interface {
	CreateChannel(ctx context.Context, ticket *domain.Ticket, category *domain.Category) (string, error)
	MoveChannel(ctx context.Context, channelRef, targetParentRef string) error
}

// Adapter is a full DM-side adapter.
type Adapter interface {
	Messenger
	Source
}

// ChannelAdapter is a full channel-side adapter.
type ChannelAdapter interface {
	Adapter
	ChannelManager
}
