package platform

import (
	"errors"

	apperrors "github.com/spec-kit/ticket-bridge/pkg/util/errorutil"
)

// ErrUnsupported is returned by adapters for operations their platform
// has no equivalent of.
var ErrUnsupported = errors.New("operation not supported by platform")

// ErrNotReady is returned when a send is attempted on a disconnected adapter.
var ErrNotReady = errors.New("adapter not connected")

// ErrUndeliverable marks a send the platform refused for this recipient
// only (blocked bot, deleted channel). The platform itself is healthy, so
// the message is failed instead of queued.
var ErrUndeliverable = errors.New("recipient cannot receive messages")

// Classify maps a raw adapter error onto the bridge error taxonomy.
// Already-classified errors pass through; timeouts, dropped sockets and
// anything else unrecognised are transient. fatal lets adapters flag their
// own credential/permission failures.
func Classify(platform string, err error, fatal func(error) bool) error {
	if err == nil {
		return nil
	}
	if apperrors.IsTransient(err) || apperrors.IsFatal(err) || errors.Is(err, ErrUndeliverable) {
		return err
	}
	if fatal != nil && fatal(err) {
		return apperrors.NewFatalPlatformError(platform, err)
	}
	return apperrors.NewTransientPlatformError(platform, err)
}
