package migrations

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func init() {
	Register("003_create_battle_indexes",
		"Create indexes for battles, battle_killmails and battle_participants",
		up003, down003)
}

func up003(ctx context.Context, db *mongo.Database) error {
	opts := options.CreateIndexes().SetMaxTime(30 * time.Second)

	battles := db.Collection("battles")
	battleIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "battle_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Listing order and cursor pagination
		{
			Keys: bson.D{
				{Key: "start_time", Value: -1},
				{Key: "battle_id", Value: -1},
			},
		},
		// Retroactive attribution candidate lookup
		{
			Keys: bson.D{
				{Key: "system_id", Value: 1},
				{Key: "start_time", Value: 1},
				{Key: "end_time", Value: 1},
			},
		},
		// Entity-scoped listings over the denormalised identity sets
		{
			Keys: bson.D{{Key: "alliance_ids", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "corp_ids", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "character_ids", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "security_type", Value: 1}, {Key: "start_time", Value: -1}},
		},
	}
	if _, err := battles.Indexes().CreateMany(ctx, battleIndexes, opts); err != nil && !isIndexExistsError(err) {
		return err
	}

	members := db.Collection("battle_killmails")
	memberIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "battle_id", Value: 1},
				{Key: "killmail_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "killmail_id", Value: 1}},
		},
	}
	if _, err := members.Indexes().CreateMany(ctx, memberIndexes, opts); err != nil && !isIndexExistsError(err) {
		return err
	}

	participants := db.Collection("battle_participants")
	participantIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "battle_id", Value: 1},
				{Key: "character_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "character_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "alliance_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "corp_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := participants.Indexes().CreateMany(ctx, participantIndexes, opts); err != nil && !isIndexExistsError(err) {
		return err
	}

	return nil
}

func down003(ctx context.Context, db *mongo.Database) error {
	for _, name := range []string{"battles", "battle_killmails", "battle_participants"} {
		if _, err := db.Collection(name).Indexes().DropAll(ctx); err != nil && !isNamespaceNotFoundError(err) {
			return err
		}
	}
	return nil
}
