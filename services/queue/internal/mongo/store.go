package mongo

import (
	"context"
	"fmt"

	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Store runs queue transactions on a MongoDB client session with snapshot
// reads and majority commits.
type Store struct {
	client   *mongo.Client
	orders   *mongo.Collection
	counters *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		client:   db.Client(),
		orders:   db.Collection(ordersCollection),
		counters: db.Collection(countersCollection),
	}
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx queue.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("cannot start session: %w", err)
	}
	defer session.EndSession(context.Background())

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := session.StartTransaction(txOpts); err != nil {
			return fmt.Errorf("cannot start transaction: %w", err)
		}

		if err := fn(sc, &tx{orders: s.orders, counters: s.counters}); err != nil {
			_ = session.AbortTransaction(context.Background())
			return err
		}

		if err := session.CommitTransaction(sc); err != nil {
			return fmt.Errorf("cannot commit transaction: %w", err)
		}
		return nil
	})

	return translateTxError(err)
}

// tx runs every operation with the session context handed to the callback,
// which binds it to the open transaction.
type tx struct {
	orders   *mongo.Collection
	counters *mongo.Collection
}

func (t *tx) GetOrder(ctx context.Context, id uuid.UUID) (*queue.Order, error) {
	return findOrder(ctx, t.orders, id)
}

func (t *tx) SaveOrder(ctx context.Context, o *queue.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	result, err := t.orders.UpdateOne(ctx, bson.M{"_id": o.ID}, bson.M{"$set": o})
	if err != nil {
		return fmt.Errorf("cannot update order: %w", err)
	}
	if result.MatchedCount == 0 {
		return queue.ErrOrderNotFound
	}
	return nil
}

func (t *tx) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	result, err := t.orders.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("cannot delete order: %w", err)
	}
	if result.DeletedCount == 0 {
		return queue.ErrOrderNotFound
	}
	return nil
}

func (t *tx) GetCounter(ctx context.Context, session queue.SessionID) (*queue.SessionCounter, error) {
	return findCounter(ctx, t.counters, session)
}

func (t *tx) SaveCounter(ctx context.Context, c *queue.SessionCounter) error {
	if c == nil {
		return fmt.Errorf("counter is nil")
	}
	c.ID = c.SessionID.CounterKey()

	_, err := t.counters.ReplaceOne(ctx, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot save counter: %w", err)
	}
	return nil
}
