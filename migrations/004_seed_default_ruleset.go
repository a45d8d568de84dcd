package migrations

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("004_seed_default_ruleset",
		"Create the rulesets collection index and seed the default ruleset",
		up004, down004)
}

func up004(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("rulesets")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ruleset_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	createOpts := options.CreateIndexes().SetMaxTime(30 * time.Second)
	if _, err := collection.Indexes().CreateMany(ctx, indexes, createOpts); err != nil && !isIndexExistsError(err) {
		return err
	}

	// Seed the singleton only when absent so operator edits survive re-runs
	now := time.Now().UTC()
	filter := bson.M{"ruleset_id": "default"}
	update := bson.M{
		"$setOnInsert": bson.M{
			"ruleset_id":      "default",
			"min_pilots":      2,
			"alliance_ids":    []int64{},
			"corp_ids":        []int64{},
			"system_ids":      []int64{},
			"security_types":  []string{},
			"ignore_unlisted": false,
			"created_at":      now,
			"updated_at":      now,
		},
	}

	_, err := collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func down004(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("rulesets")
	if _, err := collection.DeleteOne(ctx, bson.M{"ruleset_id": "default"}); err != nil {
		return err
	}
	if _, err := collection.Indexes().DropAll(ctx); err != nil && !isNamespaceNotFoundError(err) {
		return err
	}
	return nil
}
