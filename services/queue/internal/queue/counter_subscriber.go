package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kiosk/pkg/event"
)

// CounterSubscriber feeds counter events from NATS into a CounterCache so
// every replica serves the same now-serving number.
type CounterSubscriber struct {
	subscriber events.Subscriber
	cache      *CounterCache
	logger     apt.Logger
}

func NewCounterSubscriber(sub events.Subscriber, cache *CounterCache, logger apt.Logger) *CounterSubscriber {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &CounterSubscriber{
		subscriber: sub,
		cache:      cache,
		logger:     logger,
	}
}

func (s *CounterSubscriber) Start(ctx context.Context) error {
	s.log().Info("starting counter subscriber", "topic", event.QueueCountersTopic)
	if s.cache != nil {
		if err := s.cache.Warm(ctx); err != nil {
			s.log().Info("counter cache warmup failed", "error", err)
		}
	}
	if s.subscriber == nil {
		return fmt.Errorf("counter subscriber not configured")
	}
	return s.subscriber.Subscribe(ctx, event.QueueCountersTopic, s.handleEvent)
}

func (s *CounterSubscriber) Stop(context.Context) error {
	return nil
}

func (s *CounterSubscriber) handleEvent(_ context.Context, msg []byte) error {
	var evt event.CounterEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		s.log().Info("invalid counter event", "error", err)
		return nil
	}
	if evt.SessionID == "" {
		s.log().Info("counter event without session", "event_type", evt.EventType)
		return nil
	}

	s.cache.Apply(evt)
	s.log().Debug("counter updated", "session_id", evt.SessionID, "current", evt.Current, "last_issued", evt.LastIssued)
	return nil
}

func (s *CounterSubscriber) log() apt.Logger {
	return s.logger.With("component", "counter-subscriber")
}
