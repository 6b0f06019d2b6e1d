package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/avikstrom/finishline/internal/diff"
	"github.com/avikstrom/finishline/internal/metrics"
	"github.com/avikstrom/finishline/internal/store"
)

// Broadcaster receives dispatched events for live (non-push) consumers.
// The ws hub implements it.
type Broadcaster interface {
	BroadcastEvent(group string, payload []byte)
}

// Dispatcher fans one notable event out to every interested follower. A
// single follower's delivery failure never affects the others and never
// fails the dispatch; failures are logged and counted only.
type Dispatcher struct {
	sender      Sender
	broadcaster Broadcaster
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

func NewDispatcher(sender Sender, broadcaster Broadcaster, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
	}
}

// Dispatch sends ev to each follower holding a non-empty token, one
// goroutine per delivery, and waits for all of them to settle. No retries:
// a transient failure is an accepted dropped notification.
func (d *Dispatcher) Dispatch(ctx context.Context, ev diff.Event, followers []store.Subscription) {
	d.metrics.EventsEmitted.WithLabelValues(ev.Kind.String()).Inc()
	d.broadcast(ev)

	var wg sync.WaitGroup
	for _, follower := range followers {
		if follower.Token == "" {
			continue
		}
		wg.Add(1)
		go func(sub store.Subscription) {
			defer wg.Done()
			delivery := BuildDelivery(sub.Token, ev)
			if err := d.sender.Send(ctx, delivery); err != nil {
				d.metrics.NotificationsFailed.Inc()
				if errors.Is(err, ErrInvalidToken) {
					d.logger.Warn("delivery token rejected",
						zap.String("subscription", sub.ID),
						zap.String("runner", ev.Runner))
					return
				}
				d.logger.Warn("notification delivery failed",
					zap.String("subscription", sub.ID),
					zap.String("runner", ev.Runner),
					zap.Error(err))
				return
			}
			d.metrics.NotificationsSent.Inc()
		}(follower)
	}
	wg.Wait()
}

func (d *Dispatcher) broadcast(ev diff.Event) {
	if d.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(wireEvent(ev))
	if err != nil {
		d.logger.Warn("encoding event for broadcast", zap.Error(err))
		return
	}
	d.broadcaster.BroadcastEvent(eventGroup(ev), payload)
}
