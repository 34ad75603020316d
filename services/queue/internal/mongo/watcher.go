package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Watcher implements queue.LiveQuery on MongoDB change streams. The stream
// is opened before the first snapshot is read so no change falls between
// them.
type Watcher struct {
	orders   *mongo.Collection
	counters *mongo.Collection
	logger   apt.Logger
}

func NewWatcher(db *mongo.Database, logger apt.Logger) *Watcher {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &Watcher{
		orders:   db.Collection(ordersCollection),
		counters: db.Collection(countersCollection),
		logger:   logger,
	}
}

type counterChange struct {
	FullDocument *queue.SessionCounter `bson:"fullDocument"`
}

func (w *Watcher) WatchCounter(ctx context.Context, session queue.SessionID, fn func(*queue.SessionCounter)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: session.CounterKey()}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := w.counters.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("cannot watch counter: %w", err)
	}
	defer stream.Close(context.Background())

	counter, err := findCounter(ctx, w.counters, session)
	if err != nil {
		return err
	}
	fn(counter)

	for stream.Next(ctx) {
		var change counterChange
		if err := stream.Decode(&change); err != nil {
			return fmt.Errorf("cannot decode counter change: %w", err)
		}
		if change.FullDocument == nil {
			continue
		}
		fn(change.FullDocument)
	}

	return streamEnd(ctx, stream)
}

func (w *Watcher) WatchOrders(ctx context.Context, filter queue.OrderFilter, fn func([]*queue.Order)) error {
	match := bson.M{}
	for key, value := range orderQuery(filter) {
		match["fullDocument."+key] = value
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{match, bson.M{"operationType": "delete"}}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := w.orders.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("cannot watch orders: %w", err)
	}
	defer stream.Close(context.Background())

	orders, err := listOrders(ctx, w.orders, filter)
	if err != nil {
		return err
	}
	fn(orders)

	for stream.Next(ctx) {
		orders, err := listOrders(ctx, w.orders, filter)
		if err != nil {
			return err
		}
		fn(orders)
	}

	return streamEnd(ctx, stream)
}

func streamEnd(ctx context.Context, stream *mongo.ChangeStream) error {
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("change stream failed: %w", err)
	}
	return ctx.Err()
}
