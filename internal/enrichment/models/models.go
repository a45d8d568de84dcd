package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const KillmailEnrichmentsCollection = "killmail_enrichments"

// EnrichmentStatus tracks a row through the enrichment state machine:
// pending -> processing -> {succeeded, failed}; failed -> pending on retry.
type EnrichmentStatus string

const (
	StatusPending    EnrichmentStatus = "pending"
	StatusProcessing EnrichmentStatus = "processing"
	StatusSucceeded  EnrichmentStatus = "succeeded"
	StatusFailed     EnrichmentStatus = "failed"
)

// KillmailEnrichment is the per-killmail enrichment record. One row per
// killmail id, seeded when the killmail is ingested.
type KillmailEnrichment struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	KillmailID     int64              `bson:"killmail_id" json:"killmail_id"`
	Status         EnrichmentStatus   `bson:"status" json:"status"`
	Payload        bson.M             `bson:"payload,omitempty" json:"payload,omitempty"`
	Error          *string            `bson:"error,omitempty" json:"error,omitempty"`
	Attempts       int                `bson:"attempts" json:"attempts"`
	LeaseExpiresAt *time.Time         `bson:"lease_expires_at,omitempty" json:"lease_expires_at,omitempty"`
	FetchedAt      *time.Time         `bson:"fetched_at,omitempty" json:"fetched_at,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}
