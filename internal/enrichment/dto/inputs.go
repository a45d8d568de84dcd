package dto

// GetEnrichmentInput represents the path parameters for enrichment lookup
type GetEnrichmentInput struct {
	KillmailID int64 `path:"killmail_id" minimum:"1" doc:"Killmail ID"`
}

// RetryEnrichmentInput represents the path parameters for a manual retry
type RetryEnrichmentInput struct {
	KillmailID int64 `path:"killmail_id" minimum:"1" doc:"Killmail ID"`
}
