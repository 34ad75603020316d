package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/kiosk/pkg/enums/orderstatus"
	"github.com/appetiteclub/kiosk/pkg/event"
	"github.com/google/uuid"
)

const (
	defaultTxRetries      = 3
	defaultTxBackoff      = 50 * time.Millisecond
	defaultIdempotencyTTL = 10 * time.Minute
)

// Config holds the queue tunables read from the service configuration.
type Config struct {
	Policy         Policy
	TxRetries      int
	TxBackoff      time.Duration
	IdempotencyTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:         PolicyArithmetic,
		TxRetries:      defaultTxRetries,
		TxBackoff:      defaultTxBackoff,
		IdempotencyTTL: defaultIdempotencyTTL,
	}
}

// ConfigFrom reads queue.* keys.
func ConfigFrom(config *apt.Config) (Config, error) {
	return parseConfig(config.GetStringOrDef)
}

func parseConfig(get func(key, def string) string) (Config, error) {
	cfg := DefaultConfig()

	policy, err := ParsePolicy(get("queue.position.policy", string(PolicyArithmetic)))
	if err != nil {
		return cfg, err
	}
	cfg.Policy = policy

	retries, err := strconv.Atoi(get("queue.tx.retries", strconv.Itoa(defaultTxRetries)))
	if err != nil || retries < 0 {
		return cfg, fmt.Errorf("invalid queue.tx.retries: %q", get("queue.tx.retries", ""))
	}
	cfg.TxRetries = retries

	backoff, err := time.ParseDuration(get("queue.tx.backoff", defaultTxBackoff.String()))
	if err != nil {
		return cfg, fmt.Errorf("invalid queue.tx.backoff: %w", err)
	}
	cfg.TxBackoff = backoff

	ttl, err := time.ParseDuration(get("queue.idempotency.ttl", defaultIdempotencyTTL.String()))
	if err != nil {
		return cfg, fmt.Errorf("invalid queue.idempotency.ttl: %w", err)
	}
	cfg.IdempotencyTTL = ttl

	return cfg, nil
}

// Deps are the collaborators of a Service. Live, Publisher and Idempotency
// are optional.
type Deps struct {
	Store       Store
	Orders      OrderRepo
	Counters    CounterRepo
	Settings    SettingsRepo
	Live        LiveQuery
	Publisher   events.Publisher
	Idempotency IdempotencyStore
}

// Service implements the order queue operations on top of a transactional
// store.
type Service struct {
	store       Store
	orders      OrderRepo
	counters    CounterRepo
	settings    SettingsRepo
	live        LiveQuery
	publisher   events.Publisher
	idempotency IdempotencyStore
	cfg         Config
	logger      apt.Logger
	now         func() time.Time
}

func NewService(deps Deps, cfg Config, logger apt.Logger) *Service {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Service{
		store:       deps.Store,
		orders:      deps.Orders,
		counters:    deps.Counters,
		settings:    deps.Settings,
		live:        deps.Live,
		publisher:   deps.Publisher,
		idempotency: deps.Idempotency,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Service) Policy() Policy {
	return s.cfg.Policy
}

// SubmitRequest is a customer order submission.
type SubmitRequest struct {
	CustomerName   string
	Phone          string
	Items          []Item
	SessionID      SessionID
	IdempotencyKey string
}

// SubmitOrder stores a pending order. A repeated IdempotencyKey returns the
// order created by the first submission.
func (s *Service) SubmitOrder(ctx context.Context, req SubmitRequest) (*Order, error) {
	order, err := NewOrder(req.CustomerName, req.Phone, req.Items, req.SessionID)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" || s.idempotency == nil {
		return s.createOrder(ctx, order)
	}

	existing, reserved, err := s.idempotency.Reserve(ctx, key, s.cfg.IdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("cannot reserve submission key: %w", err)
	}
	if existing != "" {
		return s.replaySubmission(ctx, existing)
	}
	if !reserved {
		return nil, ErrDuplicateSubmission
	}

	created, err := s.createOrder(ctx, order)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, key); relErr != nil {
			s.logger.Error("cannot release submission key", "error", relErr, "key", key)
		}
		return nil, err
	}

	if err := s.idempotency.Complete(ctx, key, created.ID.String(), s.cfg.IdempotencyTTL); err != nil {
		s.logger.Error("cannot record submission key", "error", err, "key", key, "order_id", created.ID.String())
	}
	return created, nil
}

func (s *Service) createOrder(ctx context.Context, order *Order) (*Order, error) {
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("cannot create order: %w", err)
	}
	s.publishOrderEvent(ctx, event.EventOrderSubmitted, order)
	return order, nil
}

func (s *Service) replaySubmission(ctx context.Context, orderID string) (*Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("stored submission key holds invalid order id %q", orderID)
	}
	return s.GetOrder(ctx, id)
}

// ApproveOrder draws the next ticket of the order's session and writes it on
// the order in one transaction.
func (s *Service) ApproveOrder(ctx context.Context, id uuid.UUID) (Token, error) {
	var (
		approved *Order
		counter  *SessionCounter
		staged   Token
	)

	// Stored timestamps keep millisecond precision.
	approvedAt := s.now().UTC().Truncate(time.Millisecond)

	err := s.atomically(ctx, "approve", func(ctx context.Context, tx Tx) error {
		order, err := requireOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			// A commit reported as failed may still have been applied.
			if !staged.Valid() || !approvedWith(order, staged, approvedAt) {
				return ErrNotPending
			}
			c, err := tx.GetCounter(ctx, order.SessionID)
			if err != nil {
				return err
			}
			approved, counter = order, c
			return nil
		}

		token, c, err := IssueNextTicket(ctx, tx, order.SessionID)
		if err != nil {
			return err
		}
		if err := order.Approve(token, approvedAt); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}

		approved, counter, staged = order, c, token
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publishOrderEvent(ctx, event.EventOrderApproved, approved)
	s.publishCounterEvent(ctx, event.EventCounterIssued, counter)

	token, _ := approved.TicketNumber()
	return token, nil
}

func approvedWith(o *Order, token Token, at time.Time) bool {
	t, ok := o.TicketNumber()
	return ok && t == token && o.ApprovedAt != nil && o.ApprovedAt.Equal(at)
}

// CallNext advances the serving pointer of a session and returns it.
func (s *Service) CallNext(ctx context.Context, session SessionID) (int, error) {
	session = SessionID(strings.TrimSpace(string(session)))
	if session == "" {
		return 0, invalid("session_id", "session is required")
	}

	var counter *SessionCounter
	err := s.atomically(ctx, "call_next", func(ctx context.Context, tx Tx) error {
		c, err := AdvanceCurrent(ctx, tx, session)
		if err != nil {
			return err
		}
		counter = c
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.publishCounterEvent(ctx, event.EventCounterAdvanced, counter)
	return counter.Current, nil
}

// CompleteOrder makes an approved order terminal.
func (s *Service) CompleteOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.mutateOrder(ctx, "complete", id, func(o *Order) error {
		return o.Complete(s.now())
	})
	if err != nil {
		return nil, err
	}
	s.publishOrderEvent(ctx, event.EventOrderCompleted, order)
	return order, nil
}

// MarkPaid records the payment flag. It has no effect on queue order.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, paid bool) (*Order, error) {
	order, err := s.mutateOrder(ctx, "mark_paid", id, func(o *Order) error {
		o.SetPaid(paid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishOrderEvent(ctx, event.EventOrderUpdated, order)
	return order, nil
}

// UpdateOrderItems replaces the cart of an unpaid, open order.
func (s *Service) UpdateOrderItems(ctx context.Context, id uuid.UUID, items []Item) (*Order, error) {
	order, err := s.mutateOrder(ctx, "update_items", id, func(o *Order) error {
		return o.SetItems(items)
	})
	if err != nil {
		return nil, err
	}
	s.publishOrderEvent(ctx, event.EventOrderUpdated, order)
	return order, nil
}

// DeleteOrder removes an order that was never approved.
func (s *Service) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	var deleted *Order
	err := s.atomically(ctx, "delete", func(ctx context.Context, tx Tx) error {
		order, err := requireOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !order.IsPending() {
			return ErrNotPending
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return err
		}
		deleted = order
		return nil
	})
	if err != nil {
		return err
	}

	s.publishOrderEvent(ctx, event.EventOrderDeleted, deleted)
	return nil
}

func (s *Service) mutateOrder(ctx context.Context, op string, id uuid.UUID, mutate func(*Order) error) (*Order, error) {
	var result *Order
	err := s.atomically(ctx, op, func(ctx context.Context, tx Tx) error {
		order, err := requireOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(order); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	return result, err
}

func requireOrder(ctx context.Context, tx Tx, id uuid.UUID) (*Order, error) {
	order, err := tx.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// StartNewSession creates the counter of the session following previous and
// points the kiosk at it. The previous session keeps its counter. A counter
// left behind by an attempt that failed to activate it is reused while it
// has issued no ticket.
func (s *Service) StartNewSession(ctx context.Context, previous SessionID) (SessionID, error) {
	next := NextSessionID(previous)

	counter := NewSessionCounter(next)
	if err := s.counters.Create(ctx, counter); err != nil {
		if !errors.Is(err, ErrSessionExists) {
			return "", err
		}
		existing, getErr := s.counters.Get(ctx, next)
		if getErr != nil {
			return "", getErr
		}
		if existing == nil || existing.LastIssued > 0 || existing.Current > 0 {
			return "", err
		}
		counter = existing
	}
	if err := s.settings.SetActiveSession(ctx, next); err != nil {
		return "", fmt.Errorf("cannot activate session %s: %w", next, err)
	}

	s.logger.Info("session started", "session_id", next.String(), "previous", previous.String())
	s.publishCounterEvent(ctx, event.EventSessionStarted, counter)
	return next, nil
}

func (s *Service) ActiveSession(ctx context.Context) (SessionID, error) {
	return s.settings.ActiveSession(ctx)
}

// ActivateSession points the kiosk at a session that was started, already
// holds orders, or is the default one. Unknown labels fail with
// ErrSessionNotFound.
func (s *Service) ActivateSession(ctx context.Context, session SessionID) error {
	session = SessionID(strings.TrimSpace(string(session)))
	if session == "" {
		return invalid("session_id", "session is required")
	}

	known, err := s.sessionKnown(ctx, session)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session)
	}
	return s.settings.SetActiveSession(ctx, session)
}

func (s *Service) sessionKnown(ctx context.Context, session SessionID) (bool, error) {
	if session == DefaultSessionID {
		return true, nil
	}
	counter, err := s.counters.Get(ctx, session)
	if err != nil {
		return false, err
	}
	if counter != nil {
		return true, nil
	}
	orders, err := s.orders.List(ctx, OrderFilter{SessionID: session})
	if err != nil {
		return false, err
	}
	return len(orders) > 0, nil
}

// Counter returns the session counter, or a zeroed one for sessions that
// never issued a ticket.
func (s *Service) Counter(ctx context.Context, session SessionID) (*SessionCounter, error) {
	counter, err := s.counters.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return NewSessionCounter(session), nil
	}
	return counter, nil
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	return s.orders.List(ctx, filter)
}

// ListQueue returns the approved orders of a session by ticket. search
// matches a name or phone substring, or an exact ticket number.
func (s *Service) ListQueue(ctx context.Context, session SessionID, search string) ([]*Order, error) {
	orders, err := s.orders.List(ctx, OrderFilter{
		SessionID: session,
		Statuses:  []orderstatus.Status{orderstatus.Statuses.Approved},
	})
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(search))
	queue := make([]*Order, 0, len(orders))
	for _, o := range orders {
		if needle == "" || matchesSearch(o, needle) {
			queue = append(queue, o)
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		ti, _ := queue[i].TicketNumber()
		tj, _ := queue[j].TicketNumber()
		return ti < tj
	})
	return queue, nil
}

func matchesSearch(o *Order, needle string) bool {
	if strings.Contains(strings.ToLower(o.CustomerName), needle) {
		return true
	}
	if strings.Contains(o.Phone, needle) {
		return true
	}
	token, ok := o.TicketNumber()
	return ok && strconv.Itoa(int(token)) == needle
}

// TrackOrder builds the customer view for phone in session.
func (s *Service) TrackOrder(ctx context.Context, phone string, session SessionID) (Tracking, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Tracking{}, invalid("phone", "phone is required")
	}

	orders, err := s.orders.List(ctx, OrderFilter{SessionID: session, Phone: phone})
	if err != nil {
		return Tracking{}, err
	}

	counter, err := s.Counter(ctx, session)
	if err != nil {
		return Tracking{}, err
	}

	var sessionOrders []*Order
	if s.cfg.Policy.NeedsSessionOrders() {
		sessionOrders, err = s.orders.List(ctx, OrderFilter{SessionID: session})
		if err != nil {
			return Tracking{}, err
		}
	}

	return s.cfg.Policy.Track(session, orders, counter.Current, sessionOrders), nil
}

// SubscribeToCounter streams counter snapshots of a session to fn.
func (s *Service) SubscribeToCounter(ctx context.Context, session SessionID, fn func(*SessionCounter)) (*Subscription, error) {
	if s.live == nil {
		return nil, errors.New("live queries are not available")
	}
	return startSubscription(ctx, func(ctx context.Context) error {
		return s.live.WatchCounter(ctx, session, func(c *SessionCounter) {
			if c == nil {
				c = NewSessionCounter(session)
			}
			fn(c)
		})
	}), nil
}

// SubscribeToOrdersByPhone streams the orders of phone in session, oldest
// first, to fn.
func (s *Service) SubscribeToOrdersByPhone(ctx context.Context, phone string, session SessionID, fn func([]*Order)) (*Subscription, error) {
	if s.live == nil {
		return nil, errors.New("live queries are not available")
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, invalid("phone", "phone is required")
	}
	filter := OrderFilter{SessionID: session, Phone: phone}
	return startSubscription(ctx, func(ctx context.Context) error {
		return s.live.WatchOrders(ctx, filter, fn)
	}), nil
}

// SubscribeToSessionOrders streams every order of session, oldest first, to
// fn. Positions counted between tickets change with orders of other
// customers, so tracking feeds under such a policy follow the whole session.
func (s *Service) SubscribeToSessionOrders(ctx context.Context, session SessionID, fn func([]*Order)) (*Subscription, error) {
	if s.live == nil {
		return nil, errors.New("live queries are not available")
	}
	session = SessionID(strings.TrimSpace(string(session)))
	if session == "" {
		return nil, invalid("session_id", "session is required")
	}
	filter := OrderFilter{SessionID: session}
	return startSubscription(ctx, func(ctx context.Context) error {
		return s.live.WatchOrders(ctx, filter, fn)
	}), nil
}

// atomically runs fn in a transaction and retries it on conflicts. Every
// attempt reads the store again.
func (s *Service) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.TxRetries; attempt++ {
		if attempt > 0 {
			wait := s.cfg.TxBackoff * time.Duration(attempt)
			s.logger.Debug("retrying transaction", "op", op, "attempt", attempt, "wait", wait.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err = s.store.Atomically(ctx, fn)
		if !errors.Is(err, ErrTransactionConflict) {
			return err
		}
	}

	s.logger.Info("transaction conflict persisted", "op", op, "attempts", s.cfg.TxRetries+1)
	return err
}

func (s *Service) publishOrderEvent(ctx context.Context, eventType string, order *Order) {
	if s.publisher == nil || order == nil {
		return
	}

	evt := event.OrderEvent{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		OrderID:    order.ID.String(),
		SessionID:  order.SessionID.String(),
		Phone:      order.Phone,
		Status:     order.Status.Name,
		Total:      order.Total,
		Paid:       order.Paid,
	}
	if token, ok := order.TicketNumber(); ok {
		evt.Token = int(token)
	}

	s.publish(ctx, event.QueueOrdersTopic, evt, "order_id", evt.OrderID)
}

func (s *Service) publishCounterEvent(ctx context.Context, eventType string, counter *SessionCounter) {
	if s.publisher == nil || counter == nil {
		return
	}

	evt := event.CounterEvent{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		SessionID:  counter.SessionID.String(),
		LastIssued: counter.LastIssued,
		Current:    counter.Current,
	}

	s.publish(ctx, event.QueueCountersTopic, evt, "session_id", evt.SessionID)
}

func (s *Service) publish(ctx context.Context, topic string, evt interface{}, kv ...interface{}) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error(append([]interface{}{"cannot marshal queue event", "error", err, "topic", topic}, kv...)...)
		return
	}
	if err := s.publisher.Publish(ctx, topic, payload); err != nil {
		s.logger.Error(append([]interface{}{"cannot publish queue event", "error", err, "topic", topic}, kv...)...)
	}
}
