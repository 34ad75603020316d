package queue

import (
	"context"
	"time"

	"github.com/appetiteclub/kiosk/pkg/enums/orderstatus"
	"github.com/google/uuid"
)

// OrderFilter narrows order listings. Zero fields match everything.
type OrderFilter struct {
	SessionID SessionID
	Phone     string
	Statuses  []orderstatus.Status
}

// Tx is the view of the store inside Store.Atomically. Reads observe one
// snapshot and writes commit together or not at all.
type Tx interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	SaveOrder(ctx context.Context, order *Order) error
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	GetCounter(ctx context.Context, session SessionID) (*SessionCounter, error)
	SaveCounter(ctx context.Context, counter *SessionCounter) error
}

// Store runs read-modify-write units over orders and counters. Atomically
// returns ErrTransactionConflict when concurrent writers forced an abort.
type Store interface {
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OrderRepo reads and creates orders outside transactions. Get returns nil
// and no error for unknown ids.
type OrderRepo interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	List(ctx context.Context, filter OrderFilter) ([]*Order, error)
}

type CounterRepo interface {
	// Create inserts a fresh counter and fails with ErrSessionExists when one
	// is already stored for the session.
	Create(ctx context.Context, counter *SessionCounter) error
	Get(ctx context.Context, session SessionID) (*SessionCounter, error)
	List(ctx context.Context) ([]*SessionCounter, error)
}

type SettingsRepo interface {
	// ActiveSession returns DefaultSessionID while no pointer is stored.
	ActiveSession(ctx context.Context) (SessionID, error)
	SetActiveSession(ctx context.Context, session SessionID) error
}

// LiveQuery pushes snapshots of a query to fn, first the current state and
// then after every change, until ctx ends.
type LiveQuery interface {
	WatchCounter(ctx context.Context, session SessionID, fn func(*SessionCounter)) error
	WatchOrders(ctx context.Context, filter OrderFilter, fn func([]*Order)) error
}

// IdempotencyStore remembers which order a client submission key produced.
type IdempotencyStore interface {
	// Reserve claims key. It returns the stored order id when the key already
	// completed, and reserved=false while another request holds it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
