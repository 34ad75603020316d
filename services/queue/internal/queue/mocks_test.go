package queue

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/events"
	"github.com/google/uuid"
)

// MockPublisher records published messages.
type MockPublisher struct {
	mu          sync.Mutex
	Messages    []publishedMessage
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

type publishedMessage struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, publishedMessage{Topic: topic, Data: msg})
	return nil
}

func (m *MockPublisher) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.Messages))
	for _, msg := range m.Messages {
		topics = append(topics, msg.Topic)
	}
	return topics
}

// MockSubscriber captures the handler registered for each topic.
type MockSubscriber struct {
	SubscribeFunc func(ctx context.Context, topic string, handler events.HandlerFunc) error
	Handlers      map[string]events.HandlerFunc
}

func NewMockSubscriber() *MockSubscriber {
	return &MockSubscriber{Handlers: make(map[string]events.HandlerFunc)}
}

func (m *MockSubscriber) Subscribe(ctx context.Context, topic string, handler events.HandlerFunc) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic, handler)
	}
	m.Handlers[topic] = handler
	return nil
}

// MockStreamConsumer replays a fixed message list.
type MockStreamConsumer struct {
	Messages  []events.StreamMessage
	FetchFunc func(ctx context.Context, limit int) ([]events.StreamMessage, error)
}

func (m *MockStreamConsumer) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, limit)
	}
	return m.Messages, nil
}

func (m *MockStreamConsumer) SubscribeStream(ctx context.Context, handler events.HandlerFunc) error {
	return nil
}

// MockStore is an in-memory Store, SettingsRepo and LiveQuery. Transactions
// run one at a time and stage their writes until fn returns nil.
type MockStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*Order
	seq      []uuid.UUID
	counters map[SessionID]*SessionCounter
	active   SessionID

	listeners map[int]chan struct{}
	nextID    int

	// ConflictsLeft makes the next commits fail with ErrTransactionConflict
	// after running fn.
	ConflictsLeft int
	// UnknownCommitsLeft makes the next commits apply their writes and
	// still report ErrTransactionConflict.
	UnknownCommitsLeft int

	AtomicallyCalls int
	ListFunc        func(ctx context.Context, filter OrderFilter) ([]*Order, error)
	WatchFunc       func(ctx context.Context) error
	CounterErr      error
	SetActiveErr    error
}

func NewMockStore() *MockStore {
	return &MockStore{
		orders:    make(map[uuid.UUID]*Order),
		counters:  make(map[SessionID]*SessionCounter),
		listeners: make(map[int]chan struct{}),
	}
}

func (s *MockStore) Deps() Deps {
	return Deps{
		Store:    s,
		Orders:   &mockOrderRepo{s: s},
		Counters: &mockCounterRepo{s: s},
		Settings: s,
		Live:     s,
	}
}

func (s *MockStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	s.AtomicallyCalls++

	tx := &mockTx{
		s:        s,
		orders:   make(map[uuid.UUID]*Order),
		deleted:  make(map[uuid.UUID]bool),
		counters: make(map[SessionID]*SessionCounter),
	}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.ConflictsLeft > 0 {
		s.ConflictsLeft--
		s.mu.Unlock()
		return ErrTransactionConflict
	}

	for id, o := range tx.orders {
		s.orders[id] = o.clone()
	}
	for id := range tx.deleted {
		delete(s.orders, id)
	}
	for id, c := range tx.counters {
		cp := *c
		s.counters[id] = &cp
	}

	unknown := s.UnknownCommitsLeft > 0
	if unknown {
		s.UnknownCommitsLeft--
	}
	s.mu.Unlock()

	s.notify()
	if unknown {
		return ErrTransactionConflict
	}
	return nil
}

type mockTx struct {
	s        *MockStore
	orders   map[uuid.UUID]*Order
	deleted  map[uuid.UUID]bool
	counters map[SessionID]*SessionCounter
}

func (t *mockTx) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	if t.deleted[id] {
		return nil, nil
	}
	if o, ok := t.orders[id]; ok {
		return o.clone(), nil
	}
	if o, ok := t.s.orders[id]; ok {
		return o.clone(), nil
	}
	return nil, nil
}

func (t *mockTx) SaveOrder(ctx context.Context, order *Order) error {
	if _, ok := t.s.orders[order.ID]; !ok {
		return ErrOrderNotFound
	}
	t.orders[order.ID] = order.clone()
	return nil
}

func (t *mockTx) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.s.orders[id]; !ok {
		return ErrOrderNotFound
	}
	delete(t.orders, id)
	t.deleted[id] = true
	return nil
}

func (t *mockTx) GetCounter(ctx context.Context, session SessionID) (*SessionCounter, error) {
	if c, ok := t.counters[session]; ok {
		cp := *c
		return &cp, nil
	}
	if c, ok := t.s.counters[session]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (t *mockTx) SaveCounter(ctx context.Context, counter *SessionCounter) error {
	cp := *counter
	t.counters[counter.SessionID] = &cp
	return nil
}

func (s *MockStore) ActiveSession(ctx context.Context) (SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == "" {
		return DefaultSessionID, nil
	}
	return s.active, nil
}

func (s *MockStore) SetActiveSession(ctx context.Context, session SessionID) error {
	if s.SetActiveErr != nil {
		return s.SetActiveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = session
	return nil
}

func (s *MockStore) WatchCounter(ctx context.Context, session SessionID, fn func(*SessionCounter)) error {
	if s.WatchFunc != nil {
		return s.WatchFunc(ctx)
	}
	ch, cancel := s.listen()
	defer cancel()

	// Like a change stream, only changes reach fn after the first snapshot.
	var last *SessionCounter
	first := true
	for {
		c := s.counterSnapshot(session)
		if first || !reflect.DeepEqual(c, last) {
			fn(c)
			last, first = c, false
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *MockStore) WatchOrders(ctx context.Context, filter OrderFilter, fn func([]*Order)) error {
	if s.WatchFunc != nil {
		return s.WatchFunc(ctx)
	}
	ch, cancel := s.listen()
	defer cancel()

	var last []*Order
	first := true
	for {
		orders, err := s.list(filter)
		if err != nil {
			return err
		}
		if first || !reflect.DeepEqual(orders, last) {
			fn(orders)
			last, first = orders, false
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *MockStore) listen() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.listeners[id] = ch
	return ch, func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *MockStore) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *MockStore) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *MockStore) counterSnapshot(session SessionID) *SessionCounter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[session]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (s *MockStore) list(filter OrderFilter) ([]*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []*Order{}
	for _, id := range s.seq {
		o, ok := s.orders[id]
		if !ok || !matchesFilter(o, filter) {
			continue
		}
		result = append(result, o.clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func matchesFilter(o *Order, filter OrderFilter) bool {
	if filter.SessionID != "" && o.SessionID != filter.SessionID {
		return false
	}
	if filter.Phone != "" && o.Phone != filter.Phone {
		return false
	}
	if len(filter.Statuses) == 0 {
		return true
	}
	for _, st := range filter.Statuses {
		if o.Status == st {
			return true
		}
	}
	return false
}

// Put stores an order directly, bypassing the service.
func (s *MockStore) Put(o *Order) {
	s.mu.Lock()
	if _, ok := s.orders[o.ID]; !ok {
		s.seq = append(s.seq, o.ID)
	}
	s.orders[o.ID] = o.clone()
	s.mu.Unlock()
	s.notify()
}

func (s *MockStore) Order(id uuid.UUID) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	return o.clone()
}

func (s *MockStore) Counter(session SessionID) *SessionCounter {
	return s.counterSnapshot(session)
}

func (s *MockStore) PutCounter(c *SessionCounter) {
	s.mu.Lock()
	cp := *c
	s.counters[c.SessionID] = &cp
	s.mu.Unlock()
	s.notify()
}

type mockOrderRepo struct {
	s          *MockStore
	CreateFunc func(ctx context.Context, order *Order) error
}

func (r *mockOrderRepo) Create(ctx context.Context, order *Order) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, order)
	}
	r.s.Put(order)
	return nil
}

func (r *mockOrderRepo) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.s.Order(id), nil
}

func (r *mockOrderRepo) List(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	if r.s.ListFunc != nil {
		return r.s.ListFunc(ctx, filter)
	}
	return r.s.list(filter)
}

type mockCounterRepo struct {
	s *MockStore
}

func (r *mockCounterRepo) Create(ctx context.Context, counter *SessionCounter) error {
	r.s.mu.Lock()
	if _, ok := r.s.counters[counter.SessionID]; ok {
		r.s.mu.Unlock()
		return ErrSessionExists
	}
	cp := *counter
	r.s.counters[counter.SessionID] = &cp
	r.s.mu.Unlock()
	r.s.notify()
	return nil
}

func (r *mockCounterRepo) Get(ctx context.Context, session SessionID) (*SessionCounter, error) {
	if r.s.CounterErr != nil {
		return nil, r.s.CounterErr
	}
	return r.s.counterSnapshot(session), nil
}

func (r *mockCounterRepo) List(ctx context.Context) ([]*SessionCounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := []*SessionCounter{}
	for _, c := range r.s.counters {
		cp := *c
		result = append(result, &cp)
	}
	return result, nil
}

// MockIdempotencyStore keeps keys in a map.
type MockIdempotencyStore struct {
	mu         sync.Mutex
	keys       map[string]string
	ReserveErr error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{keys: make(map[string]string)}
}

func (m *MockIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if m.ReserveErr != nil {
		return "", false, m.ReserveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.keys[key]
	if !ok {
		m.keys[key] = ""
		return "", true, nil
	}
	return val, false, nil
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = orderID
	return nil
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func (m *MockIdempotencyStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[key]
	return ok
}

func testConfig() Config {
	return Config{
		Policy:         PolicyArithmetic,
		TxRetries:      3,
		TxBackoff:      time.Millisecond,
		IdempotencyTTL: time.Minute,
	}
}

func newTestService() (*Service, *MockStore) {
	store := NewMockStore()
	return NewService(store.Deps(), testConfig(), nil), store
}

func sampleItems() []Item {
	return []Item{
		{Name: "Kottu", UnitPrice: 900, Quantity: 1},
		{Name: "Tea", UnitPrice: 150, Quantity: 2},
	}
}

func submit(svc *Service, name, phone string, session SessionID) (*Order, error) {
	return svc.SubmitOrder(context.Background(), SubmitRequest{
		CustomerName: name,
		Phone:        phone,
		Items:        sampleItems(),
		SessionID:    session,
	})
}

// recordingLogger keeps the arguments of every Error call.
type recordingLogger struct {
	mu     sync.Mutex
	errors [][]any
}

func (l *recordingLogger) Debug(v ...any) {}
func (l *recordingLogger) Debugf(format string, a ...any) {}
func (l *recordingLogger) Info(v ...any) {}
func (l *recordingLogger) Infof(format string, a ...any) {}
func (l *recordingLogger) Errorf(format string, a ...any) {}
func (l *recordingLogger) SetLogLevel(level apt.LogLevel) {}
func (l *recordingLogger) With(args ...any) apt.Logger { return l }

func (l *recordingLogger) Error(v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, v)
}

func (l *recordingLogger) Errors() [][]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]any(nil), l.errors...)
}
