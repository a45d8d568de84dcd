package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/bson"

	killmailModels "battlescope/internal/killmails/models"
	"battlescope/pkg/database"
)

// Ruleset changes only apply to killmails the clusterer has not seen yet.
// This script re-queues killmails that were processed without joining a
// battle so the next batches re-evaluate them under the current ruleset.
func main() {
	days := flag.Int("days", 7, "Re-queue ignored killmails from the last N days")
	systemID := flag.Int64("system", 0, "Only re-queue killmails in this solar system (0 = all)")
	dryRun := flag.Bool("dry-run", false, "Report what would be re-queued without updating")
	flag.Parse()

	if *days < 1 {
		log.Fatalf("❌ -days must be at least 1")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mongodb, err := database.NewMongoDB(ctx)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongodb.Close(ctx)

	since := time.Now().UTC().AddDate(0, 0, -*days)
	fmt.Printf("♻️  Re-queueing ignored killmails since %s\n", since.Format(time.RFC3339))

	filter := bson.M{
		"processed_at": bson.M{"$ne": nil},
		"battle_id":    nil,
		"occurred_at":  bson.M{"$gte": since},
	}
	if *systemID > 0 {
		filter["system_id"] = *systemID
	}

	killmails := mongodb.Collection(killmailModels.KillmailEventsCollection)

	total, err := killmails.CountDocuments(ctx, filter)
	if err != nil {
		log.Fatalf("❌ Failed to count ignored killmails: %v", err)
	}
	if total == 0 {
		fmt.Println("✅ Nothing to re-queue")
		return
	}

	if *dryRun {
		fmt.Printf("⚠️  DRY RUN: %d killmails would be re-queued\n", total)
		return
	}

	res, err := killmails.UpdateMany(ctx, filter, bson.M{
		"$set": bson.M{"processed_at": nil},
	})
	if err != nil {
		log.Fatalf("❌ Failed to re-queue killmails: %v", err)
	}

	fmt.Printf("✅ Re-queued %d killmails; the clusterer picks them up on its next ticks\n", res.ModifiedCount)
}
