package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"battlescope/internal/battles/models"
	"battlescope/pkg/config"
	"battlescope/pkg/database"
)

// Repository handles persistence for battles, membership and participants
type Repository struct {
	db           *database.MongoDB
	battles      *mongo.Collection
	members      *mongo.Collection
	participants *mongo.Collection
}

// NewRepository creates a new battle repository instance
func NewRepository(db *database.MongoDB) *Repository {
	return &Repository{
		db:           db,
		battles:      db.Database.Collection(models.BattlesCollection),
		members:      db.Database.Collection(models.BattleKillmailsCollection),
		participants: db.Database.Collection(models.BattleParticipantsCollection),
	}
}

// CreateIndexes creates the battle indexes. Mirrors migration 003 so a
// fresh deployment works before the migration runner is introduced.
func (r *Repository) CreateIndexes(ctx context.Context) error {
	battleIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "battle_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "start_time", Value: -1},
				{Key: "battle_id", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "system_id", Value: 1},
				{Key: "start_time", Value: 1},
				{Key: "end_time", Value: 1},
			},
		},
		{Keys: bson.D{{Key: "alliance_ids", Value: 1}}},
		{Keys: bson.D{{Key: "corp_ids", Value: 1}}},
		{Keys: bson.D{{Key: "character_ids", Value: 1}}},
		{Keys: bson.D{{Key: "security_type", Value: 1}, {Key: "start_time", Value: -1}}},
	}
	if _, err := r.battles.Indexes().CreateMany(ctx, battleIndexes); err != nil {
		return fmt.Errorf("failed to create battle indexes: %w", err)
	}

	memberIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "battle_id", Value: 1},
				{Key: "killmail_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "killmail_id", Value: 1}}},
	}
	if _, err := r.members.Indexes().CreateMany(ctx, memberIndexes); err != nil {
		return fmt.Errorf("failed to create battle killmail indexes: %w", err)
	}

	participantIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "battle_id", Value: 1},
				{Key: "character_id", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "character_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "alliance_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "corp_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := r.participants.Indexes().CreateMany(ctx, participantIndexes); err != nil {
		return fmt.Errorf("failed to create battle participant indexes: %w", err)
	}

	return nil
}

// WithTransaction runs fn inside a Mongo transaction so a clusterer batch
// commits atomically. BATTLES_USE_TRANSACTIONS=false degrades to a plain
// call for standalone Mongo deployments without a replica set.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !config.GetBoolEnv("BATTLES_USE_TRANSACTIONS", true) {
		return fn(ctx)
	}

	session, err := r.db.Client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// CreateBattle persists a plan: the battle row, its membership rows and its
// participants
func (r *Repository) CreateBattle(ctx context.Context, plan *BattlePlan) error {
	now := time.Now().UTC()

	battle := models.Battle{
		BattleID:          plan.BattleID,
		SystemID:          plan.SystemID,
		SpaceType:         plan.SpaceType,
		SecurityType:      plan.SecurityType,
		StartTime:         plan.StartTime,
		EndTime:           plan.EndTime,
		TotalKills:        plan.TotalKills,
		TotalISKDestroyed: plan.TotalISKDestroyed.String(),
		ZKillRelatedUrl:   plan.ZKillRelatedUrl,
		AllianceIDs:       plan.AllianceIDs,
		CorpIDs:           plan.CorpIDs,
		CharacterIDs:      plan.CharacterIDs,
		Sides:             plan.Sides,
		Deleted:           false,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := r.battles.InsertOne(ctx, battle); err != nil {
		return fmt.Errorf("failed to insert battle %s: %w", plan.BattleID, err)
	}

	memberDocs := make([]interface{}, 0, len(plan.Members))
	for _, m := range plan.Members {
		memberDocs = append(memberDocs, models.BattleKillmail{
			BattleID:   plan.BattleID,
			KillmailID: m.KillmailID,
			OccurredAt: m.OccurredAt,
		})
	}
	if len(memberDocs) > 0 {
		if _, err := r.members.InsertMany(ctx, memberDocs); err != nil {
			return fmt.Errorf("failed to insert battle killmails for %s: %w", plan.BattleID, err)
		}
	}

	if err := r.upsertParticipants(ctx, plan.BattleID, plan.Participants); err != nil {
		return err
	}

	return nil
}

// AggregateUpdate carries the recomputed battle aggregates for an extension
type AggregateUpdate struct {
	StartTime         time.Time
	EndTime           time.Time
	TotalKills        int64
	TotalISKDestroyed string
	ZKillRelatedUrl   string
	AllianceIDs       []int64
	CorpIDs           []int64
	CharacterIDs      []int64
}

// AppendKillmails extends a battle with new members, upserting participants
// and replacing the aggregates. Member inserts are keyed on the unique
// (battle_id, killmail_id) pair, so retried batches do not duplicate rows.
func (r *Repository) AppendKillmails(ctx context.Context, battleID string, members []MemberPlan, participants []ParticipantPlan, agg AggregateUpdate) error {
	for _, m := range members {
		filter := bson.M{"battle_id": battleID, "killmail_id": m.KillmailID}
		update := bson.M{"$setOnInsert": bson.M{
			"battle_id":   battleID,
			"killmail_id": m.KillmailID,
			"occurred_at": m.OccurredAt,
		}}
		if _, err := r.members.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("failed to append killmail %d to battle %s: %w", m.KillmailID, battleID, err)
		}
	}

	if err := r.upsertParticipants(ctx, battleID, participants); err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{
		"start_time":          agg.StartTime,
		"end_time":            agg.EndTime,
		"total_kills":         agg.TotalKills,
		"total_isk_destroyed": agg.TotalISKDestroyed,
		"zkill_related_url":   agg.ZKillRelatedUrl,
		"alliance_ids":        agg.AllianceIDs,
		"corp_ids":            agg.CorpIDs,
		"character_ids":       agg.CharacterIDs,
		"updated_at":          time.Now().UTC(),
	}}
	result, err := r.battles.UpdateOne(ctx, bson.M{"battle_id": battleID}, update)
	if err != nil {
		return fmt.Errorf("failed to update battle %s aggregates: %w", battleID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("battle %s not found for aggregate update", battleID)
	}

	return nil
}

// upsertParticipants writes participant rows keyed on the unique
// (battle_id, character_id) pair. The victim flag only latches true and
// identity fields follow the most recent occurrence.
func (r *Repository) upsertParticipants(ctx context.Context, battleID string, participants []ParticipantPlan) error {
	for _, p := range participants {
		filter := bson.M{"battle_id": battleID, "character_id": p.CharacterID}

		set := bson.M{"last_seen_at": p.LastSeenAt}
		if p.AllianceID != nil {
			set["alliance_id"] = *p.AllianceID
		}
		if p.CorpID != nil {
			set["corp_id"] = *p.CorpID
		}
		if p.ShipTypeID != nil {
			set["ship_type_id"] = *p.ShipTypeID
		}
		if p.SideID != nil {
			set["side_id"] = *p.SideID
		}

		onInsert := bson.M{
			"battle_id":    battleID,
			"character_id": p.CharacterID,
		}
		if p.IsVictim {
			set["is_victim"] = true
		} else {
			onInsert["is_victim"] = false
		}

		update := bson.M{"$set": set, "$setOnInsert": onInsert}

		if _, err := r.participants.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("failed to upsert participant %d in battle %s: %w", p.CharacterID, battleID, err)
		}
	}
	return nil
}

// SoftDeleteBattle hides a battle from listings and attribution without
// destroying membership history
func (r *Repository) SoftDeleteBattle(ctx context.Context, battleID string) error {
	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}
	result, err := r.battles.UpdateOne(ctx, bson.M{"battle_id": battleID}, update)
	if err != nil {
		return fmt.Errorf("failed to soft delete battle %s: %w", battleID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("battle %s not found", battleID)
	}
	return nil
}

// GetByBattleID returns a battle by its id, nil when absent
func (r *Repository) GetByBattleID(ctx context.Context, battleID string) (*models.Battle, error) {
	var battle models.Battle
	err := r.battles.FindOne(ctx, bson.M{"battle_id": battleID}).Decode(&battle)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get battle %s: %w", battleID, err)
	}
	return &battle, nil
}

// FindCandidates returns live battles in a system whose slack-padded span
// covers the given instant, nearest end_time first. The window ceiling is
// re-checked by the caller against fresh state under the lock.
func (r *Repository) FindCandidates(ctx context.Context, systemID int64, occurredAt time.Time, slack time.Duration) ([]models.Battle, error) {
	filter := bson.M{
		"system_id":  systemID,
		"deleted":    false,
		"start_time": bson.M{"$lte": occurredAt.Add(slack)},
		"end_time":   bson.M{"$gte": occurredAt.Add(-slack)},
	}

	opts := options.Find().SetSort(bson.D{{Key: "end_time", Value: -1}})
	cursor, err := r.battles.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate battles in system %d: %w", systemID, err)
	}
	defer cursor.Close(ctx)

	var battles []models.Battle
	if err := cursor.All(ctx, &battles); err != nil {
		return nil, fmt.Errorf("failed to decode candidate battles: %w", err)
	}
	return battles, nil
}

// ListQuery filters and paginates battle listings
type ListQuery struct {
	SpaceType    string
	SecurityType string
	SystemID     int64
	AllianceID   int64
	CorpID       int64
	CharacterID  int64
	Since        time.Time
	Until        time.Time
	Cursor       string
	Limit        int64
}

// ListBattles returns battles in (start_time desc, battle_id desc) order
// with an opaque next-page cursor, empty when the page is not full
func (r *Repository) ListBattles(ctx context.Context, query ListQuery) ([]models.Battle, string, error) {
	conditions := []bson.M{{"deleted": false}}

	if query.SpaceType != "" {
		conditions = append(conditions, bson.M{"space_type": query.SpaceType})
	}
	if query.SecurityType != "" {
		conditions = append(conditions, bson.M{"security_type": query.SecurityType})
	}
	if query.SystemID > 0 {
		conditions = append(conditions, bson.M{"system_id": query.SystemID})
	}
	if query.AllianceID > 0 {
		conditions = append(conditions, bson.M{"alliance_ids": query.AllianceID})
	}
	if query.CorpID > 0 {
		conditions = append(conditions, bson.M{"corp_ids": query.CorpID})
	}
	if query.CharacterID > 0 {
		conditions = append(conditions, bson.M{"character_ids": query.CharacterID})
	}
	if !query.Since.IsZero() {
		conditions = append(conditions, bson.M{"start_time": bson.M{"$gte": query.Since}})
	}
	if !query.Until.IsZero() {
		conditions = append(conditions, bson.M{"start_time": bson.M{"$lte": query.Until}})
	}

	if query.Cursor != "" {
		cursorTime, cursorID, err := DecodeCursor(query.Cursor)
		if err != nil {
			return nil, "", err
		}
		conditions = append(conditions, bson.M{"$or": []bson.M{
			{"start_time": bson.M{"$lt": cursorTime}},
			{"start_time": cursorTime, "battle_id": bson.M{"$lt": cursorID}},
		}})
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}, {Key: "battle_id", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.battles.Find(ctx, bson.M{"$and": conditions}, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list battles: %w", err)
	}
	defer cursor.Close(ctx)

	var battles []models.Battle
	if err := cursor.All(ctx, &battles); err != nil {
		return nil, "", fmt.Errorf("failed to decode battles: %w", err)
	}

	nextCursor := ""
	if int64(len(battles)) == limit {
		last := battles[len(battles)-1]
		nextCursor = EncodeCursor(last.StartTime, last.BattleID)
	}

	return battles, nextCursor, nil
}

// GetMembers returns a battle's membership rows in canonical order
func (r *Repository) GetMembers(ctx context.Context, battleID string) ([]models.BattleKillmail, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "killmail_id", Value: 1}})
	cursor, err := r.members.Find(ctx, bson.M{"battle_id": battleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get battle killmails for %s: %w", battleID, err)
	}
	defer cursor.Close(ctx)

	var members []models.BattleKillmail
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode battle killmails: %w", err)
	}
	return members, nil
}

// GetParticipants returns a battle's participants ordered by character id
func (r *Repository) GetParticipants(ctx context.Context, battleID string) ([]models.BattleParticipant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "character_id", Value: 1}})
	cursor, err := r.participants.Find(ctx, bson.M{"battle_id": battleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants for %s: %w", battleID, err)
	}
	defer cursor.Close(ctx)

	var participants []models.BattleParticipant
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	return participants, nil
}

// EntityCount is one row of a top-N ranking
type EntityCount struct {
	EntityID int64 `bson:"_id" json:"entity_id"`
	Battles  int64 `bson:"battles" json:"battles"`
}

// DashboardSummary aggregates battle activity totals and top-N rankings
type DashboardSummary struct {
	TotalBattles       int64
	TotalKillmails     int64
	UniqueAlliances    int64
	UniqueCorporations int64
	TopAlliances       []EntityCount
	TopCorporations    []EntityCount
	GeneratedAt        time.Time
}

// GetDashboardSummary computes the dashboard aggregations over live battles
func (r *Repository) GetDashboardSummary(ctx context.Context, topN int64) (*DashboardSummary, error) {
	summary := &DashboardSummary{GeneratedAt: time.Now().UTC()}

	totalBattles, err := r.battles.CountDocuments(ctx, bson.M{"deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to count battles: %w", err)
	}
	summary.TotalBattles = totalBattles

	totalKillmails, err := r.sumTotalKills(ctx)
	if err != nil {
		return nil, err
	}
	summary.TotalKillmails = totalKillmails

	alliances, err := r.battles.Distinct(ctx, "alliance_ids", bson.M{"deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to count distinct alliances: %w", err)
	}
	summary.UniqueAlliances = int64(len(alliances))

	corps, err := r.battles.Distinct(ctx, "corp_ids", bson.M{"deleted": false})
	if err != nil {
		return nil, fmt.Errorf("failed to count distinct corporations: %w", err)
	}
	summary.UniqueCorporations = int64(len(corps))

	summary.TopAlliances, err = r.topEntities(ctx, "alliance_ids", topN)
	if err != nil {
		return nil, err
	}
	summary.TopCorporations, err = r.topEntities(ctx, "corp_ids", topN)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// sumTotalKills counts killmails inside live battles
func (r *Repository) sumTotalKills(ctx context.Context) (int64, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"deleted": false}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$total_kills"}}},
	}

	cursor, err := r.battles.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to sum battle kills: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode battle kill sum: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// topEntities ranks alliances or corporations by battle appearances
func (r *Repository) topEntities(ctx context.Context, field string, limit int64) ([]EntityCount, error) {
	pipeline := []bson.M{
		{"$match": bson.M{"deleted": false}},
		{"$unwind": "$" + field},
		{"$group": bson.M{"_id": "$" + field, "battles": bson.M{"$sum": 1}}},
		{"$sort": bson.D{{Key: "battles", Value: -1}, {Key: "_id", Value: 1}}},
		{"$limit": limit},
	}

	cursor, err := r.battles.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to rank %s: %w", field, err)
	}
	defer cursor.Close(ctx)

	var rankings []EntityCount
	if err := cursor.All(ctx, &rankings); err != nil {
		return nil, fmt.Errorf("failed to decode %s ranking: %w", field, err)
	}
	return rankings, nil
}

// CountBattles returns the number of live battles
func (r *Repository) CountBattles(ctx context.Context) (int64, error) {
	return r.battles.CountDocuments(ctx, bson.M{"deleted": false})
}
