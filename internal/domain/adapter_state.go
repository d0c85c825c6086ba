package domain

import "time"

// Side identifies one of the two bridged platforms.
type Side string

const (
	// SideOrigin is the DM-style platform end users talk on.
	SideOrigin Side = "origin"
	// SideDestination is the guild-style platform staff work from.
	SideDestination Side = "destination"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideOrigin {
		return SideDestination
	}
	return SideOrigin
}

// ConnectionStatus is the reconnect state machine position of an adapter.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
	ConnectionFatal        ConnectionStatus = "fatal"
)

// AdapterState is the availability snapshot of one adapter.
type AdapterState struct {
	Side                Side             `json:"side"`
	Status              ConnectionStatus `json:"status"`
	Available           bool             `json:"available"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastFailureAt       *time.Time       `json:"last_failure_at,omitempty"`
	NextRetryAt         *time.Time       `json:"next_retry_at,omitempty"`
	LastError           string           `json:"last_error,omitempty"`
}
