package triggers

import (
	"context"
	"time"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// StreamSource is the subscription side of the transport.
type StreamSource interface {
	StreamEvents(ctx context.Context) (<-chan models.StreamEvent, error)
}

// Listener consumes the live subscription and converts catalog-change
// events into sync requests. Bursts coalesce inside the engine, so the
// listener itself stays dumb: one event, one request.
type Listener struct {
	source StreamSource
	engine SyncRequester
	logger *events.Logger

	reconnectDelay time.Duration
}

// NewListener creates a subscription trigger adapter.
func NewListener(source StreamSource, engine SyncRequester, reconnectDelay time.Duration, logger *events.Logger) *Listener {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Listener{
		source:         source,
		engine:         engine,
		logger:         logger.WithField("component", "subscription_trigger"),
		reconnectDelay: reconnectDelay,
	}
}

// Run consumes the stream until ctx ends, reconnecting with a delay when
// the connection drops.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ch, err := l.source.StreamEvents(ctx)
		if err != nil {
			l.logger.WithError(err).Warn("Stream connect failed, retrying")
			if !l.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		l.consume(ctx, ch)

		l.logger.Info("Stream closed, reconnecting")
		if !l.sleep(ctx) {
			return ctx.Err()
		}
	}
}

func (l *Listener) consume(ctx context.Context, ch <-chan models.StreamEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !ev.IsCatalogChange() {
				l.logger.WithField("type", ev.Type).Debug("Ignoring stream event")
				continue
			}

			outcome, err := l.engine.RequestSync(ctx, models.ReasonSubscription)
			if err != nil {
				l.logger.WithError(err).Warn("Catch-up sync request failed")
				continue
			}
			if outcome != nil {
				l.logger.WithFields(map[string]interface{}{
					"run_id": outcome.RunID,
					"status": string(outcome.Status),
				}).Debug("Catch-up sync settled")
			}
		}
	}
}

func (l *Listener) sleep(ctx context.Context) bool {
	select {
	case <-time.After(l.reconnectDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
