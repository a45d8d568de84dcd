package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"battlescope/internal/rulesets/models"
	"battlescope/pkg/database"
)

// Repository handles database operations for rulesets
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a new repository instance
func NewRepository(db *database.MongoDB) *Repository {
	return &Repository{
		collection: db.Database.Collection(models.RulesetsCollection),
	}
}

// CreateIndexes creates necessary database indexes
func (r *Repository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ruleset_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create ruleset indexes: %w", err)
	}

	return nil
}

// Get retrieves a ruleset by id, nil when the collection is unseeded
func (r *Repository) Get(ctx context.Context, rulesetID string) (*models.Ruleset, error) {
	var ruleset models.Ruleset
	err := r.collection.FindOne(ctx, bson.M{"ruleset_id": rulesetID}).Decode(&ruleset)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ruleset: %w", err)
	}
	return &ruleset, nil
}

// Save upserts the ruleset by its id
func (r *Repository) Save(ctx context.Context, ruleset *models.Ruleset) error {
	filter := bson.M{"ruleset_id": ruleset.RulesetID}
	update := bson.M{"$set": ruleset}
	opts := options.Update().SetUpsert(true)

	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to save ruleset: %w", err)
	}

	return nil
}
