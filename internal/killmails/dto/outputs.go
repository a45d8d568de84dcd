package dto

import (
	"time"

	"battlescope/internal/killmails/models"
)

// KillmailResponse represents a stored killmail event
type KillmailResponse struct {
	KillmailID    int64          `json:"killmail_id" doc:"Killmail ID"`
	Hash          string         `json:"hash" doc:"Killmail hash"`
	SystemID      int64          `json:"system_id" doc:"Solar system ID"`
	SpaceType     string         `json:"space_type" doc:"Space type (kspace, jspace, pochven)"`
	SecurityType  string         `json:"security_type" doc:"Security type (highsec, lowsec, nullsec, wormhole, pochven)"`
	OccurredAt    time.Time      `json:"occurred_at" doc:"Kill time reported by the feed"`
	FetchedAt     time.Time      `json:"fetched_at" doc:"When the killmail was ingested"`
	Victim        VictimResponse `json:"victim" doc:"Victim identity"`
	AttackerCount int            `json:"attacker_count" doc:"Number of attackers on the killmail"`
	AllianceIDs   []int64        `json:"alliance_ids,omitempty" doc:"All alliance IDs involved"`
	CorpIDs       []int64        `json:"corp_ids,omitempty" doc:"All corporation IDs involved"`
	ISKValue      string         `json:"isk_value" doc:"Total ISK destroyed, as a decimal string"`
	ZKBUrl        string         `json:"zkb_url" doc:"ZKillboard URL for the killmail"`
	Processed     bool           `json:"processed" doc:"Whether the killmail has been through battle clustering"`
	BattleID      *string        `json:"battle_id,omitempty" doc:"Battle the killmail was attributed to, if any"`
}

// VictimResponse represents the victim side of a killmail
type VictimResponse struct {
	CharacterID *int64 `json:"character_id,omitempty" doc:"Victim character ID"`
	CorpID      *int64 `json:"corp_id,omitempty" doc:"Victim corporation ID"`
	AllianceID  *int64 `json:"alliance_id,omitempty" doc:"Victim alliance ID"`
	ShipTypeID  *int64 `json:"ship_type_id,omitempty" doc:"Destroyed ship type ID"`
}

// NewKillmailResponse converts a stored killmail event into its API shape
func NewKillmailResponse(km *models.KillmailEvent) KillmailResponse {
	return KillmailResponse{
		KillmailID:   km.KillmailID,
		Hash:         km.Hash,
		SystemID:     km.SystemID,
		SpaceType:    string(km.SpaceType),
		SecurityType: string(km.SecurityType),
		OccurredAt:   km.OccurredAt,
		FetchedAt:    km.FetchedAt,
		Victim: VictimResponse{
			CharacterID: km.VictimCharacterID,
			CorpID:      km.VictimCorpID,
			AllianceID:  km.VictimAllianceID,
			ShipTypeID:  km.VictimShipTypeID,
		},
		AttackerCount: len(km.Attackers),
		AllianceIDs:   km.AllianceIDs(),
		CorpIDs:       km.CorpIDs(),
		ISKValue:      km.ISKValue,
		ZKBUrl:        km.ZKBUrl,
		Processed:     km.ProcessedAt != nil,
		BattleID:      km.BattleID,
	}
}

// NewKillmailResponses converts a slice of stored killmail events
func NewKillmailResponses(kms []models.KillmailEvent) []KillmailResponse {
	responses := make([]KillmailResponse, 0, len(kms))
	for i := range kms {
		responses = append(responses, NewKillmailResponse(&kms[i]))
	}
	return responses
}

// RecentKillmailsOutput represents recently ingested killmails
type RecentKillmailsOutput struct {
	Body RecentKillmailsResponse `json:"body" doc:"Recent killmails data"`
}

// RecentKillmailsResponse represents the actual recent killmails data
type RecentKillmailsResponse struct {
	Killmails []KillmailResponse `json:"killmails" doc:"Recent killmails, newest first"`
	Count     int                `json:"count" doc:"Number of killmails returned"`
}

// StreamKillmailsOutput represents an incremental stream page
type StreamKillmailsOutput struct {
	Body StreamKillmailsResponse `json:"body" doc:"Incremental killmail stream data"`
}

// StreamKillmailsResponse represents the actual stream page data
type StreamKillmailsResponse struct {
	Killmails   []KillmailResponse `json:"killmails" doc:"Killmails newer than the requested cursor"`
	NextAfterID int64              `json:"next_after_id" doc:"Cursor to pass as after_id on the next request"`
	Count       int                `json:"count" doc:"Number of killmails returned"`
}

// KillmailStatusOutput represents the status of the killmail pipeline
type KillmailStatusOutput struct {
	Body KillmailStatusResponse `json:"body" doc:"Killmail ingestion status"`
}

// KillmailStatusResponse represents the actual status data
type KillmailStatusResponse struct {
	Consumer ConsumerStatus `json:"consumer" doc:"Feed consumer status"`
	Store    StoreCounts    `json:"store" doc:"Killmail store counts"`
}

// ConsumerStatus represents the feed consumer's state and throughput
type ConsumerStatus struct {
	State          string                  `json:"state" doc:"Consumer state (stopped, starting, running, degraded, stopping)"`
	QueueID        string                  `json:"queue_id" doc:"Unique queue identifier"`
	Endpoint       string                  `json:"endpoint" doc:"Feed endpoint URL"`
	LastPoll       *time.Time              `json:"last_poll,omitempty" doc:"Last poll time"`
	LastKillmailID *int64                  `json:"last_killmail_id,omitempty" doc:"Last killmail ID stored"`
	UptimeSeconds  int64                   `json:"uptime_seconds" doc:"Seconds since the consumer started"`
	Metrics        ConsumerMetricsResponse `json:"metrics" doc:"Consumer throughput metrics"`
	Config         ConsumerConfigResponse  `json:"config" doc:"Consumer configuration"`
}

// ConsumerMetricsResponse represents the consumer's counters
type ConsumerMetricsResponse struct {
	TotalPolls    int64 `json:"total_polls" doc:"Total number of polls made"`
	NullResponses int64 `json:"null_responses" doc:"Number of empty responses received"`
	Received      int64 `json:"received" doc:"Number of killmails stored"`
	Duplicates    int64 `json:"duplicates" doc:"Number of killmails already ingested"`
	Invalid       int64 `json:"invalid" doc:"Number of malformed packages discarded"`
	HTTPErrors    int64 `json:"http_errors" doc:"Number of HTTP errors encountered"`
	ParseErrors   int64 `json:"parse_errors" doc:"Number of parse errors"`
	StoreErrors   int64 `json:"store_errors" doc:"Number of storage errors"`
	RateLimitHits int64 `json:"rate_limit_hits" doc:"Number of rate limit hits"`
	CurrentTTW    int   `json:"current_ttw" doc:"Current time-to-wait value (seconds)"`
	NullStreak    int   `json:"null_streak" doc:"Consecutive empty responses"`
}

// ConsumerConfigResponse represents the consumer's configuration
type ConsumerConfigResponse struct {
	TTWMin        int `json:"ttw_min" doc:"Minimum time-to-wait (seconds)"`
	TTWMax        int `json:"ttw_max" doc:"Maximum time-to-wait (seconds)"`
	NullThreshold int `json:"null_threshold" doc:"Empty responses before increasing TTW"`
}

// StoreCounts represents killmail store totals
type StoreCounts struct {
	TotalKillmails       int64 `json:"total_killmails" doc:"Total killmails stored"`
	UnprocessedKillmails int64 `json:"unprocessed_killmails" doc:"Killmails not yet attributed by clustering"`
}
