package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"battlescope/internal/enrichment/models"
	"battlescope/pkg/database"
)

// Repository handles database operations for enrichment rows
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a new repository instance
func NewRepository(db *database.MongoDB) *Repository {
	return &Repository{
		collection: db.Database.Collection(models.KillmailEnrichmentsCollection),
	}
}

// CreateIndexes creates necessary database indexes
func (r *Repository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "killmail_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: 1},
			},
		},
		{
			Keys:    bson.D{{Key: "lease_expires_at", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create enrichment indexes: %w", err)
	}

	return nil
}

// SeedPending creates a pending enrichment row for the killmail. Existing
// rows are left untouched, so re-ingestion can never reset progress.
func (r *Repository) SeedPending(ctx context.Context, killmailID int64) error {
	now := time.Now().UTC()
	filter := bson.M{"killmail_id": killmailID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"killmail_id": killmailID,
			"status":      models.StatusPending,
			"attempts":    0,
			"created_at":  now,
			"updated_at":  now,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to seed enrichment for killmail %d: %w", killmailID, err)
	}

	return nil
}

// ClaimNext atomically moves the oldest claimable row to processing and
// stamps a lease. Claimable means pending, or failed with attempts below
// the cap. Returns nil when nothing is claimable.
func (r *Repository) ClaimNext(ctx context.Context, maxAttempts int, lease time.Duration) (*models.KillmailEnrichment, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"$or": []bson.M{
			{"status": models.StatusPending},
			{"status": models.StatusFailed, "attempts": bson.M{"$lt": maxAttempts}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"status":           models.StatusProcessing,
			"lease_expires_at": now.Add(lease),
			"updated_at":       now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "updated_at", Value: 1}}).
		SetReturnDocument(options.After)

	var row models.KillmailEnrichment
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&row)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim enrichment row: %w", err)
	}

	return &row, nil
}

// MarkSucceeded stores the payload and completes the row
func (r *Repository) MarkSucceeded(ctx context.Context, killmailID int64, payload bson.M) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"status":     models.StatusSucceeded,
			"payload":    payload,
			"fetched_at": now,
			"updated_at": now,
		},
		"$unset": bson.M{
			"lease_expires_at": "",
			"error":            "",
		},
	}

	if _, err := r.collection.UpdateOne(ctx, bson.M{"killmail_id": killmailID}, update); err != nil {
		return fmt.Errorf("failed to mark enrichment succeeded for killmail %d: %w", killmailID, err)
	}

	return nil
}

// MarkFailed records the error and bumps the attempt counter
func (r *Repository) MarkFailed(ctx context.Context, killmailID int64, reason string) error {
	update := bson.M{
		"$set": bson.M{
			"status":     models.StatusFailed,
			"error":      reason,
			"updated_at": time.Now().UTC(),
		},
		"$inc":   bson.M{"attempts": 1},
		"$unset": bson.M{"lease_expires_at": ""},
	}

	if _, err := r.collection.UpdateOne(ctx, bson.M{"killmail_id": killmailID}, update); err != nil {
		return fmt.Errorf("failed to mark enrichment failed for killmail %d: %w", killmailID, err)
	}

	return nil
}

// ReleaseStale returns processing rows with an expired lease to pending,
// reporting how many were released. Covers workers that died mid-fetch.
func (r *Repository) ReleaseStale(ctx context.Context) (int64, error) {
	filter := bson.M{
		"status":           models.StatusProcessing,
		"lease_expires_at": bson.M{"$lt": time.Now().UTC()},
	}
	update := bson.M{
		"$set":   bson.M{"status": models.StatusPending, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lease_expires_at": ""},
	}

	result, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale enrichment leases: %w", err)
	}

	return result.ModifiedCount, nil
}

// GetByKillmailID retrieves the enrichment row, nil when absent
func (r *Repository) GetByKillmailID(ctx context.Context, killmailID int64) (*models.KillmailEnrichment, error) {
	var row models.KillmailEnrichment
	err := r.collection.FindOne(ctx, bson.M{"killmail_id": killmailID}).Decode(&row)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get enrichment for killmail %d: %w", killmailID, err)
	}
	return &row, nil
}

// RequeueForRetry moves a failed row back to pending with a fresh attempt
// budget. Returns nil when the row is not currently failed.
func (r *Repository) RequeueForRetry(ctx context.Context, killmailID int64) (*models.KillmailEnrichment, error) {
	filter := bson.M{"killmail_id": killmailID, "status": models.StatusFailed}
	update := bson.M{
		"$set": bson.M{
			"status":     models.StatusPending,
			"attempts":   0,
			"updated_at": time.Now().UTC(),
		},
		"$unset": bson.M{
			"error":            "",
			"lease_expires_at": "",
		},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var row models.KillmailEnrichment
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&row)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to requeue enrichment for killmail %d: %w", killmailID, err)
	}

	return &row, nil
}

// StatusesByKillmailIDs returns the enrichment status per killmail id.
// Killmails with no row yet are simply absent from the map.
func (r *Repository) StatusesByKillmailIDs(ctx context.Context, killmailIDs []int64) (map[int64]models.EnrichmentStatus, error) {
	statuses := make(map[int64]models.EnrichmentStatus, len(killmailIDs))
	if len(killmailIDs) == 0 {
		return statuses, nil
	}

	filter := bson.M{"killmail_id": bson.M{"$in": killmailIDs}}
	opts := options.Find().SetProjection(bson.M{"killmail_id": 1, "status": 1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch enrichment statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		KillmailID int64                   `bson:"killmail_id"`
		Status     models.EnrichmentStatus `bson:"status"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment statuses: %w", err)
	}

	for _, row := range rows {
		statuses[row.KillmailID] = row.Status
	}

	return statuses, nil
}

// StatusCounts returns the number of rows per status
func (r *Repository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	pipeline := []bson.M{
		{
			"$group": bson.M{
				"_id":   "$status",
				"count": bson.M{"$sum": 1},
			},
		},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count enrichment statuses: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode enrichment status counts: %w", err)
	}

	counts := map[string]int64{
		string(models.StatusPending):    0,
		string(models.StatusProcessing): 0,
		string(models.StatusSucceeded):  0,
		string(models.StatusFailed):     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	return counts, nil
}
