package service

import (
	"context"

	"github.com/milkyano/barber-core/pkg/events"
	"github.com/milkyano/barber-core/pkg/logger"
)

// publish never fails the caller; the bus is optional.
func publish(ctx context.Context, bus events.Publisher, subject string, data any) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, subject, data); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "subject", subject, "error", err)
	}
}
