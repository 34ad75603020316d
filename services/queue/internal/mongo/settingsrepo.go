package mongo

import (
	"context"
	"fmt"

	"github.com/appetiteclub/kiosk/services/queue/internal/queue"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const activeSessionDoc = "activeSession"

type SettingsRepo struct {
	collection *mongo.Collection
}

func NewSettingsRepo(db *mongo.Database) *SettingsRepo {
	return &SettingsRepo{
		collection: db.Collection(settingsCollection),
	}
}

func (r *SettingsRepo) ActiveSession(ctx context.Context) (queue.SessionID, error) {
	var doc queue.ActiveSession
	err := r.collection.FindOne(ctx, bson.M{"_id": activeSessionDoc}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return queue.DefaultSessionID, nil
		}
		return "", fmt.Errorf("cannot get active session: %w", err)
	}
	if doc.SessionID == "" {
		return queue.DefaultSessionID, nil
	}
	return doc.SessionID, nil
}

func (r *SettingsRepo) SetActiveSession(ctx context.Context, session queue.SessionID) error {
	doc := queue.ActiveSession{ID: activeSessionDoc, SessionID: session}
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": activeSessionDoc}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot set active session: %w", err)
	}
	return nil
}
