package mongo

import (
	"context"
	"fmt"

	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type CounterRepo struct {
	collection *mongo.Collection
}

func NewCounterRepo(db *mongo.Database) *CounterRepo {
	return &CounterRepo{
		collection: db.Collection(countersCollection),
	}
}

func (r *CounterRepo) Create(ctx context.Context, c *queue.SessionCounter) error {
	if c == nil {
		return fmt.Errorf("counter is nil")
	}
	c.ID = c.SessionID.CounterKey()

	if _, err := r.collection.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return queue.ErrSessionExists
		}
		return fmt.Errorf("cannot create counter: %w", err)
	}
	return nil
}

func (r *CounterRepo) Get(ctx context.Context, session queue.SessionID) (*queue.SessionCounter, error) {
	return findCounter(ctx, r.collection, session)
}

func (r *CounterRepo) List(ctx context.Context) ([]*queue.SessionCounter, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("cannot list counters: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*queue.SessionCounter{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode counters: %w", err)
	}
	return result, nil
}

func findCounter(ctx context.Context, coll *mongo.Collection, session queue.SessionID) (*queue.SessionCounter, error) {
	var c queue.SessionCounter
	err := coll.FindOne(ctx, bson.M{"_id": session.CounterKey()}).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get counter: %w", err)
	}
	return &c, nil
}
