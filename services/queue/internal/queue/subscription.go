package queue

import (
	"context"
	"errors"
	"sync"
)

// Subscription is the handle of a live query. Unsubscribe stops the feed and
// waits for the callback goroutine to return. It is safe to call twice.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func startSubscription(parent context.Context, run func(ctx context.Context) error) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		err := run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			sub.err = err
		}
	}()

	return sub
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the feed stopped, either by Unsubscribe or because the
// underlying watch failed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is the watch failure, if any. Only meaningful after Done is closed.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
