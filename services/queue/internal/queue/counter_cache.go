package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kiosk/pkg/event"
)

// CounterCache keeps the latest known counter of every session for the
// public now-serving endpoints. Counters only grow, so applying events out
// of order keeps the highest values.
type CounterCache struct {
	mu       sync.RWMutex
	counters map[SessionID]SessionCounter

	stream events.StreamConsumer
	repo   CounterRepo
	logger apt.Logger
}

func NewCounterCache(stream events.StreamConsumer, repo CounterRepo, logger apt.Logger) *CounterCache {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &CounterCache{
		counters: make(map[SessionID]SessionCounter),
		stream:   stream,
		repo:     repo,
		logger:   logger,
	}
}

// Warm replays counter events from the stream and falls back to the
// counters collection when the stream is unavailable.
func (c *CounterCache) Warm(ctx context.Context) error {
	if c.stream != nil {
		if err := c.warmFromStream(ctx); err != nil {
			c.logger.Info("counter replay failed, falling back to MongoDB", "error", err)
		} else {
			return nil
		}
	}

	if c.repo == nil {
		c.logger.Info("no counter source configured, cache remains empty")
		return nil
	}
	return c.warmFromRepo(ctx)
}

func (c *CounterCache) warmFromStream(ctx context.Context) error {
	msgs, err := c.stream.Fetch(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch counter events: %w", err)
	}

	applied := 0
	for _, msg := range msgs {
		var evt event.CounterEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil || evt.SessionID == "" || !event.IsCounterEvent(evt.EventType) {
			continue
		}
		c.Apply(evt)
		applied++
	}
	c.logger.Info("counter cache replayed", "events", applied)
	return nil
}

func (c *CounterCache) warmFromRepo(ctx context.Context) error {
	counters, err := c.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list counters: %w", err)
	}
	for _, counter := range counters {
		c.Set(counter)
	}
	c.logger.Info("counter cache loaded", "sessions", len(counters))
	return nil
}

// Apply merges a counter event into the cache.
func (c *CounterCache) Apply(evt event.CounterEvent) {
	c.merge(SessionCounter{
		ID:         SessionID(evt.SessionID).CounterKey(),
		SessionID:  SessionID(evt.SessionID),
		LastIssued: evt.LastIssued,
		Current:    evt.Current,
		UpdatedAt:  evt.OccurredAt,
	})
}

func (c *CounterCache) Set(counter *SessionCounter) {
	if counter == nil {
		return
	}
	c.merge(*counter)
}

func (c *CounterCache) merge(next SessionCounter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.counters[next.SessionID]
	if ok {
		if prev.LastIssued > next.LastIssued {
			next.LastIssued = prev.LastIssued
		}
		if prev.Current > next.Current {
			next.Current = prev.Current
		}
		if prev.UpdatedAt.After(next.UpdatedAt) {
			next.UpdatedAt = prev.UpdatedAt
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = prev.CreatedAt
		}
	}
	c.counters[next.SessionID] = next
}

func (c *CounterCache) Get(session SessionID) (*SessionCounter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	counter, ok := c.counters[session]
	if !ok {
		return nil, false
	}
	return &counter, true
}
