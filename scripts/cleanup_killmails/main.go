package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	enrichmentModels "battlescope/internal/enrichment/models"
	killmailModels "battlescope/internal/killmails/models"
	"battlescope/pkg/database"
)

const deleteBatchSize = 1000

// Retention cleanup: killmails that went through clustering without ever
// joining a battle are kept for the retention window, then purged together
// with their enrichment rows. Battle members are never touched; the battle
// detail view joins them.
func main() {
	days := flag.Int("days", 90, "Purge battle-less killmails older than this many days")
	dryRun := flag.Bool("dry-run", false, "Report what would be deleted without deleting")
	flag.Parse()

	if *days < 1 {
		log.Fatalf("❌ -days must be at least 1")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	mongodb, err := database.NewMongoDB(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongodb.Close(ctx)

	cutoff := time.Now().UTC().AddDate(0, 0, -*days)
	fmt.Printf("🧹 Purging battle-less killmails older than %s\n", cutoff.Format(time.RFC3339))

	killmails := mongodb.Collection(killmailModels.KillmailEventsCollection)
	enrichments := mongodb.Collection(enrichmentModels.KillmailEnrichmentsCollection)

	filter := bson.M{
		"processed_at": bson.M{"$ne": nil},
		"battle_id":    nil,
		"occurred_at":  bson.M{"$lt": cutoff},
	}

	total, err := killmails.CountDocuments(ctx, filter)
	if err != nil {
		log.Fatalf("❌ Failed to count stale killmails: %v", err)
	}
	if total == 0 {
		fmt.Println("✅ Nothing to purge")
		return
	}

	if *dryRun {
		fmt.Printf("⚠️  DRY RUN: %d killmails would be purged\n", total)
		return
	}

	var purgedKillmails, purgedEnrichments int64
	for {
		cursor, err := killmails.Find(ctx, filter,
			options.Find().SetProjection(bson.M{"killmail_id": 1}).SetLimit(deleteBatchSize))
		if err != nil {
			log.Fatalf("❌ Failed to list stale killmails: %v", err)
		}

		var batch []struct {
			KillmailID int64 `bson:"killmail_id"`
		}
		if err := cursor.All(ctx, &batch); err != nil {
			log.Fatalf("❌ Failed to decode stale killmails: %v", err)
		}
		if len(batch) == 0 {
			break
		}

		ids := make([]int64, len(batch))
		for i, doc := range batch {
			ids[i] = doc.KillmailID
		}

		res, err := enrichments.DeleteMany(ctx, bson.M{"killmail_id": bson.M{"$in": ids}})
		if err != nil {
			log.Fatalf("❌ Failed to delete enrichment rows: %v", err)
		}
		purgedEnrichments += res.DeletedCount

		res, err = killmails.DeleteMany(ctx, bson.M{"killmail_id": bson.M{"$in": ids}})
		if err != nil {
			log.Fatalf("❌ Failed to delete killmails: %v", err)
		}
		purgedKillmails += res.DeletedCount

		fmt.Printf("   deleted %d/%d\n", purgedKillmails, total)
	}

	fmt.Printf("✅ Purged %d killmails and %d enrichment rows\n", purgedKillmails, purgedEnrichments)
}
