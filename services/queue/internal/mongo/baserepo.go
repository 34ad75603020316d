package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	ordersCollection   = "orders"
	countersCollection = "tokens"
	settingsCollection = "settings"

	defaultDatabase = "kiosk_queue"
)

// BaseRepo owns the MongoDB connection shared by the queue repositories.
// Transactions and change streams need a replica set deployment.
type BaseRepo struct {
	client *mongo.Client
	db     *mongo.Database
	logger apt.Logger
	config *apt.Config
}

func NewBaseRepo(config *apt.Config, logger apt.Logger) *BaseRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &BaseRepo{
		logger: logger,
		config: config,
	}
}

func (r *BaseRepo) Start(ctx context.Context) error {
	connString := r.config.GetStringOrDef("db.mongo.url", "mongodb://localhost:27017/?replicaSet=rs0")
	dbName := r.config.GetStringOrDef("db.mongo.name", defaultDatabase)

	clientOptions := options.Client().ApplyURI(connString).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)

	if err := r.ensureIndexes(ctx); err != nil {
		return err
	}

	r.logger.Infof("Connected to MongoDB: %s, database: %s", connString, dbName)
	return nil
}

func (r *BaseRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

func (r *BaseRepo) GetDatabase() *mongo.Database {
	return r.db
}

func (r *BaseRepo) GetClient() *mongo.Client {
	return r.client
}

// ensureIndexes backs the per-session ticket uniqueness with a unique index
// on tickets that exist.
func (r *BaseRepo) ensureIndexes(ctx context.Context) error {
	orders := r.db.Collection(ordersCollection)
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "token", Value: 1}},
			Options: options.Index().
				SetName("session_token_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"token": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "phone", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("session_phone_created"),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("session_status"),
		},
	}

	if _, err := orders.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create order indexes: %w", err)
	}
	return nil
}
