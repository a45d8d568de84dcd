package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"battlescope/internal/killmails/models"
	"battlescope/pkg/database"
)

// ErrDuplicate marks an insert of an already ingested killmail id
var ErrDuplicate = errors.New("killmail already ingested")

// Repository handles database operations for killmail events
type Repository struct {
	collection *mongo.Collection
}

// NewRepository creates a new repository instance
func NewRepository(db *database.MongoDB) *Repository {
	return &Repository{
		collection: db.Database.Collection(models.KillmailEventsCollection),
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
				{Key: "processed_at", Value: 1},
				{Key: "occurred_at", Value: 1},
				{Key: "killmail_id", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "system_id", Value: 1},
				{Key: "occurred_at", Value: 1},
			},
		},
		{
			Keys: bson.D{{Key: "occurred_at", Value: -1}},
		},
		{
			Keys: bson.D{
				{Key: "security_type", Value: 1},
				{Key: "occurred_at", Value: -1},
			},
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create killmail indexes: %w", err)
	}

	return nil
}

// Insert appends a killmail event. Returns ErrDuplicate when the killmail
// id is already ingested; existing rows are never overwritten.
func (r *Repository) Insert(ctx context.Context, event *models.KillmailEvent) error {
	event.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, event); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("killmail %d: %w", event.KillmailID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert killmail %d: %w", event.KillmailID, err)
	}

	return nil
}

// FetchUnprocessed returns up to limit events with no processed marker and
// occurred_at at or before maxOccurredAt, in canonical
// (occurred_at, killmail_id) order.
func (r *Repository) FetchUnprocessed(ctx context.Context, limit int64, maxOccurredAt time.Time) ([]models.KillmailEvent, error) {
	filter := bson.M{
		"processed_at": nil,
		"occurred_at":  bson.M{"$lte": maxOccurredAt},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "killmail_id", Value: 1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unprocessed killmails: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.KillmailEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode unprocessed killmails: %w", err)
	}

	return events, nil
}

// FetchRecentForBackfill returns every event in the system inside
// [windowStart, windowEnd], processed or not, in canonical order. Used by
// retroactive attribution and the clustering lookback.
func (r *Repository) FetchRecentForBackfill(ctx context.Context, systemID int64, windowStart, windowEnd time.Time) ([]models.KillmailEvent, error) {
	filter := bson.M{
		"system_id":   systemID,
		"occurred_at": bson.M{"$gte": windowStart, "$lte": windowEnd},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "killmail_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch backfill killmails for system %d: %w", systemID, err)
	}
	defer cursor.Close(ctx)

	var events []models.KillmailEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode backfill killmails: %w", err)
	}

	return events, nil
}

// FetchByIDs returns the given killmails in canonical order. Used by the
// battle detail view to hydrate membership rows.
func (r *Repository) FetchByIDs(ctx context.Context, killmailIDs []int64) ([]models.KillmailEvent, error) {
	if len(killmailIDs) == 0 {
		return []models.KillmailEvent{}, nil
	}

	filter := bson.M{"killmail_id": bson.M{"$in": killmailIDs}}
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "killmail_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch killmails by id: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.KillmailEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode killmails by id: %w", err)
	}

	return events, nil
}

// MarkProcessed stamps processed_at and the battle back-reference on the
// given killmails. Only unprocessed rows are touched, so the marker is set
// once and never moves. A nil battleID records processed-but-ignored.
func (r *Repository) MarkProcessed(ctx context.Context, killmailIDs []int64, battleID *string) error {
	if len(killmailIDs) == 0 {
		return nil
	}

	filter := bson.M{
		"killmail_id":  bson.M{"$in": killmailIDs},
		"processed_at": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"processed_at": time.Now().UTC(),
			"battle_id":    battleID,
		},
	}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to mark %d killmails processed: %w", len(killmailIDs), err)
	}

	return nil
}

// TrackedFilter restricts a feed query to killmails touching the tracked
// sets of the active ruleset
type TrackedFilter struct {
	AllianceIDs   []int64
	CorpIDs       []int64
	SystemIDs     []int64
	SecurityTypes []string
}

// RecentQuery shapes the recent-feed and stream reads
type RecentQuery struct {
	Limit         int64
	SecurityTypes []string
	// AfterID switches to stream mode: killmail_id > AfterID, ascending
	AfterID int64
	Tracked *TrackedFilter
}

// GetRecent returns killmails for the feed (occurred_at descending) or,
// when AfterID is set, the stream (killmail_id ascending after the cursor)
func (r *Repository) GetRecent(ctx context.Context, query RecentQuery) ([]models.KillmailEvent, error) {
	filter := bson.M{}

	if len(query.SecurityTypes) > 0 {
		filter["security_type"] = bson.M{"$in": query.SecurityTypes}
	}
	if query.AfterID > 0 {
		filter["killmail_id"] = bson.M{"$gt": query.AfterID}
	}
	if query.Tracked != nil {
		or := trackedClauses(query.Tracked)
		if len(or) == 0 {
			// Nothing is tracked, so nothing matches
			return []models.KillmailEvent{}, nil
		}
		filter["$or"] = or
	}

	sort := bson.D{{Key: "occurred_at", Value: -1}, {Key: "killmail_id", Value: -1}}
	if query.AfterID > 0 {
		sort = bson.D{{Key: "killmail_id", Value: 1}}
	}

	opts := options.Find().
		SetSort(sort).
		SetLimit(query.Limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent killmails: %w", err)
	}
	defer cursor.Close(ctx)

	var events []models.KillmailEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode recent killmails: %w", err)
	}

	return events, nil
}

func trackedClauses(tracked *TrackedFilter) []bson.M {
	var or []bson.M

	if len(tracked.AllianceIDs) > 0 {
		or = append(or,
			bson.M{"victim_alliance_id": bson.M{"$in": tracked.AllianceIDs}},
			bson.M{"attacker_alliance_ids": bson.M{"$in": tracked.AllianceIDs}},
		)
	}
	if len(tracked.CorpIDs) > 0 {
		or = append(or,
			bson.M{"victim_corp_id": bson.M{"$in": tracked.CorpIDs}},
			bson.M{"attacker_corp_ids": bson.M{"$in": tracked.CorpIDs}},
		)
	}
	if len(tracked.SystemIDs) > 0 {
		or = append(or, bson.M{"system_id": bson.M{"$in": tracked.SystemIDs}})
	}
	if len(tracked.SecurityTypes) > 0 {
		or = append(or, bson.M{"security_type": bson.M{"$in": tracked.SecurityTypes}})
	}

	return or
}

// LatestKillmailID returns the highest ingested killmail id, 0 when empty.
// The stream endpoint bootstraps its cursor here.
func (r *Repository) LatestKillmailID(ctx context.Context) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "killmail_id", Value: -1}}).
		SetProjection(bson.M{"killmail_id": 1})

	var row struct {
		KillmailID int64 `bson:"killmail_id"`
	}
	err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&row)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get latest killmail id: %w", err)
	}

	return row.KillmailID, nil
}

// Count returns the total number of ingested killmails
func (r *Repository) Count(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count killmails: %w", err)
	}
	return count, nil
}

// CountUnprocessed returns the number of killmails awaiting the clusterer
func (r *Repository) CountUnprocessed(ctx context.Context) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"processed_at": nil})
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed killmails: %w", err)
	}
	return count, nil
}
