package migrations

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("001_create_killmail_indexes",
		"Create indexes for the killmail_events collection",
		up001, down001)
}

func up001(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("killmail_events")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "killmail_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Clusterer batch scan: unprocessed events in occurrence order
		{
			Keys: bson.D{
				{Key: "processed_at", Value: 1},
				{Key: "occurred_at", Value: 1},
				{Key: "killmail_id", Value: 1},
			},
		},
		// Retroactive backfill window per system
		{
			Keys: bson.D{
				{Key: "system_id", Value: 1},
				{Key: "occurred_at", Value: 1},
			},
		},
		// Recent killmail feed
		{
			Keys: bson.D{{Key: "occurred_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "security_type", Value: 1}, {Key: "occurred_at", Value: -1}},
		},
	}

	opts := options.CreateIndexes().SetMaxTime(30 * time.Second)
	if _, err := collection.Indexes().CreateMany(ctx, indexes, opts); err != nil && !isIndexExistsError(err) {
		return err
	}

	return nil
}

func down001(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("killmail_events")
	if _, err := collection.Indexes().DropAll(ctx); err != nil && !isNamespaceNotFoundError(err) {
		return err
	}
	return nil
}
