package migrations

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("002_create_enrichment_indexes",
		"Create indexes for the killmail_enrichments collection",
		up002, down002)
}

func up002(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("killmail_enrichments")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "killmail_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Worker claim scan: pending rows oldest first
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: 1},
			},
		},
		// Stale-lease sweep over processing rows
		{
			Keys:    bson.D{{Key: "lease_expires_at", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	opts := options.CreateIndexes().SetMaxTime(30 * time.Second)
	if _, err := collection.Indexes().CreateMany(ctx, indexes, opts); err != nil && !isIndexExistsError(err) {
		return err
	}

	return nil
}

func down002(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("killmail_enrichments")
	if _, err := collection.Indexes().DropAll(ctx); err != nil && !isNamespaceNotFoundError(err) {
		return err
	}
	return nil
}
