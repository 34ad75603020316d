package mongo

import (
	"context"
	"fmt"

	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OrderRepo struct {
	collection *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection(ordersCollection),
	}
}

func (r *OrderRepo) Create(ctx context.Context, o *queue.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*queue.Order, error) {
	return findOrder(ctx, r.collection, id)
}

func (r *OrderRepo) List(ctx context.Context, filter queue.OrderFilter) ([]*queue.Order, error) {
	return listOrders(ctx, r.collection, filter)
}

func findOrder(ctx context.Context, coll *mongo.Collection, id uuid.UUID) (*queue.Order, error) {
	var o queue.Order
	err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("order %s is corrupt: %w", id, err)
	}
	return &o, nil
}

func listOrders(ctx context.Context, coll *mongo.Collection, filter queue.OrderFilter) ([]*queue.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := coll.Find(ctx, orderQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*queue.Order{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

func orderQuery(filter queue.OrderFilter) bson.M {
	query := bson.M{}
	if filter.SessionID != "" {
		query["session_id"] = filter.SessionID
	}
	if filter.Phone != "" {
		query["phone"] = filter.Phone
	}
	if len(filter.Statuses) > 0 {
		names := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			names = append(names, s.Name)
		}
		query["status"] = bson.M{"$in": names}
	}
	return query
}
