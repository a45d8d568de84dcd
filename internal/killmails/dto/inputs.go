package dto

// RecentKillmailsInput is the input for listing recently ingested killmails
type RecentKillmailsInput struct {
	Limit         int      `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Number of killmails to return"`
	SecurityTypes []string `query:"security_type" doc:"Filter by security type (highsec, lowsec, nullsec, wormhole, pochven)"`
	TrackedOnly   bool     `query:"tracked_only" default:"false" doc:"Only return killmails matching the active ruleset's tracked entities"`
}

// StreamKillmailsInput is the input for the incremental killmail stream
type StreamKillmailsInput struct {
	AfterID        int64 `query:"after_id" minimum:"0" default:"0" doc:"Return killmails with an ID greater than this. Zero bootstraps the stream with the most recent killmails"`
	PollIntervalMs int   `query:"poll_interval_ms" minimum:"1000" maximum:"60000" default:"5000" doc:"How long to hold the request open waiting for new killmails, in milliseconds"`
	Limit          int   `query:"limit" minimum:"1" maximum:"100" default:"50" doc:"Maximum number of killmails to return"`
}
