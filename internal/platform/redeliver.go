package platform

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Redeliver hands ev to handler, retrying rejected events up to attempts
// times with delay between tries. Neither platform offers server-side
// redelivery for gateway/long-poll updates once they are read, so this
// loop stands in for it. The final error is returned after logging.
func Redeliver(ctx context.Context, handler Handler, ev InboundEvent, attempts int, delay time.Duration, logger *zap.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = handler(ctx, ev); err == nil {
			return nil
		}
		logger.Warn("inbound event rejected",
			zap.String("platform", ev.Platform),
			zap.String("channel_ref", ev.ChannelRef),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	logger.Error("inbound event dropped after redelivery attempts",
		zap.String("platform", ev.Platform),
		zap.String("channel_ref", ev.ChannelRef),
		zap.String("message_ref", ev.MessageRef),
		zap.Error(err))
	return err
}
