package dto

import (
	"time"

	"battlescope/internal/battles/models"
	killmailModels "battlescope/internal/killmails/models"
)

// BattleResponse represents a clustered battle
type BattleResponse struct {
	BattleID          string         `json:"battle_id" doc:"Battle ID"`
	SystemID          int64          `json:"system_id" doc:"Solar system the battle took place in"`
	SpaceType         string         `json:"space_type" doc:"Space type (kspace, jspace, pochven)"`
	SecurityType      string         `json:"security_type" doc:"Security type (highsec, lowsec, nullsec, wormhole, pochven)"`
	StartTime         time.Time      `json:"start_time" doc:"Time of the first killmail"`
	EndTime           time.Time      `json:"end_time" doc:"Time of the last killmail"`
	TotalKills        int64          `json:"total_kills" doc:"Number of killmails in the battle"`
	TotalISKDestroyed string         `json:"total_isk_destroyed" doc:"Total ISK destroyed, as a decimal string"`
	ZKillRelatedUrl   string         `json:"zkill_related_url" doc:"ZKillboard related-kills URL"`
	AllianceIDs       []int64        `json:"alliance_ids" doc:"All alliance IDs involved"`
	CorpIDs           []int64        `json:"corp_ids" doc:"All corporation IDs involved"`
	CharacterIDs      []int64        `json:"character_ids" doc:"All character IDs involved"`
	Sides             []SideResponse `json:"sides,omitempty" doc:"Inferred factions, largest first"`
	CreatedAt         time.Time      `json:"created_at" doc:"When the battle was first persisted"`
	UpdatedAt         time.Time      `json:"updated_at" doc:"When the battle was last extended"`
}

// SideResponse represents one inferred faction of a battle
type SideResponse struct {
	SideID      int     `json:"side_id" doc:"Side number, 1 is the largest"`
	AllianceIDs []int64 `json:"alliance_ids" doc:"Alliances grouped into this side"`
}

// NewBattleResponse converts a stored battle into its API shape
func NewBattleResponse(b *models.Battle) BattleResponse {
	sides := make([]SideResponse, 0, len(b.Sides))
	for _, s := range b.Sides {
		sides = append(sides, SideResponse{SideID: s.SideID, AllianceIDs: s.AllianceIDs})
	}

	return BattleResponse{
		BattleID:          b.BattleID,
		SystemID:          b.SystemID,
		SpaceType:         string(b.SpaceType),
		SecurityType:      string(b.SecurityType),
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		TotalKills:        b.TotalKills,
		TotalISKDestroyed: b.TotalISKDestroyed,
		ZKillRelatedUrl:   b.ZKillRelatedUrl,
		AllianceIDs:       b.AllianceIDs,
		CorpIDs:           b.CorpIDs,
		CharacterIDs:      b.CharacterIDs,
		Sides:             sides,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

// NewBattleResponses converts a slice of stored battles
func NewBattleResponses(battles []models.Battle) []BattleResponse {
	responses := make([]BattleResponse, 0, len(battles))
	for i := range battles {
		responses = append(responses, NewBattleResponse(&battles[i]))
	}
	return responses
}

// ListBattlesOutput represents a page of battles
type ListBattlesOutput struct {
	Body ListBattlesResponse `json:"body" doc:"Battle listing data"`
}

// ListBattlesResponse represents the actual battle listing data
type ListBattlesResponse struct {
	Battles    []BattleResponse `json:"battles" doc:"Battles, most recent first"`
	NextCursor string           `json:"next_cursor,omitempty" doc:"Cursor for the next page, empty on the last page"`
	Count      int              `json:"count" doc:"Number of battles returned"`
}

// BattleKillmailResponse represents one member killmail of a battle,
// joined with its enrichment status
type BattleKillmailResponse struct {
	KillmailID        int64     `json:"killmail_id" doc:"Killmail ID"`
	OccurredAt        time.Time `json:"occurred_at" doc:"Kill time"`
	VictimCharacterID *int64    `json:"victim_character_id,omitempty" doc:"Victim character ID"`
	VictimCorpID      *int64    `json:"victim_corp_id,omitempty" doc:"Victim corporation ID"`
	VictimAllianceID  *int64    `json:"victim_alliance_id,omitempty" doc:"Victim alliance ID"`
	VictimShipTypeID  *int64    `json:"victim_ship_type_id,omitempty" doc:"Destroyed ship type ID"`
	AttackerCount     int       `json:"attacker_count" doc:"Number of attackers on the killmail"`
	ISKValue          string    `json:"isk_value" doc:"ISK destroyed, as a decimal string"`
	ZKBUrl            string    `json:"zkb_url" doc:"ZKillboard URL for the killmail"`
	EnrichmentStatus  string    `json:"enrichment_status" doc:"Enrichment status (pending, processing, succeeded, failed, unknown)"`
}

// NewBattleKillmailResponses joins member killmails with their enrichment
// statuses. Killmails without an enrichment row report unknown.
func NewBattleKillmailResponses(events []killmailModels.KillmailEvent, statuses map[int64]string) []BattleKillmailResponse {
	responses := make([]BattleKillmailResponse, 0, len(events))
	for i := range events {
		e := &events[i]

		status, ok := statuses[e.KillmailID]
		if !ok {
			status = "unknown"
		}

		responses = append(responses, BattleKillmailResponse{
			KillmailID:        e.KillmailID,
			OccurredAt:        e.OccurredAt,
			VictimCharacterID: e.VictimCharacterID,
			VictimCorpID:      e.VictimCorpID,
			VictimAllianceID:  e.VictimAllianceID,
			VictimShipTypeID:  e.VictimShipTypeID,
			AttackerCount:     len(e.Attackers),
			ISKValue:          e.ISKValue,
			ZKBUrl:            e.ZKBUrl,
			EnrichmentStatus:  status,
		})
	}
	return responses
}

// ParticipantResponse represents one character's involvement in a battle
type ParticipantResponse struct {
	CharacterID int64     `json:"character_id" doc:"Character ID"`
	AllianceID  *int64    `json:"alliance_id,omitempty" doc:"Alliance at last sighting"`
	CorpID      *int64    `json:"corp_id,omitempty" doc:"Corporation at last sighting"`
	ShipTypeID  *int64    `json:"ship_type_id,omitempty" doc:"Ship type at last sighting"`
	SideID      *int      `json:"side_id,omitempty" doc:"Inferred side, absent when unassigned"`
	IsVictim    bool      `json:"is_victim" doc:"Whether the character lost a ship in the battle"`
	LastSeenAt  time.Time `json:"last_seen_at" doc:"Time of the character's last killmail in the battle"`
}

// NewParticipantResponses converts stored participants
func NewParticipantResponses(participants []models.BattleParticipant) []ParticipantResponse {
	responses := make([]ParticipantResponse, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		responses = append(responses, ParticipantResponse{
			CharacterID: p.CharacterID,
			AllianceID:  p.AllianceID,
			CorpID:      p.CorpID,
			ShipTypeID:  p.ShipTypeID,
			SideID:      p.SideID,
			IsVictim:    p.IsVictim,
			LastSeenAt:  p.LastSeenAt,
		})
	}
	return responses
}

// BattleDetailOutput represents one battle with members and participants
type BattleDetailOutput struct {
	Body BattleDetailResponse `json:"body" doc:"Battle detail data"`
}

// BattleDetailResponse represents the actual battle detail data
type BattleDetailResponse struct {
	Battle       BattleResponse           `json:"battle" doc:"The battle aggregate"`
	Killmails    []BattleKillmailResponse `json:"killmails" doc:"Member killmails in chronological order"`
	Participants []ParticipantResponse    `json:"participants" doc:"Participants ordered by character ID"`
}

// DashboardOutput represents the battle dashboard summary
type DashboardOutput struct {
	Body DashboardResponse `json:"body" doc:"Dashboard summary data"`
}

// DashboardResponse represents the actual dashboard data
type DashboardResponse struct {
	TotalBattles       int64                 `json:"total_battles" doc:"Number of battles detected"`
	TotalKillmails     int64                 `json:"total_killmails" doc:"Number of killmails inside battles"`
	UniqueAlliances    int64                 `json:"unique_alliances" doc:"Distinct alliances seen in battles"`
	UniqueCorporations int64                 `json:"unique_corporations" doc:"Distinct corporations seen in battles"`
	TopAlliances       []EntityCountResponse `json:"top_alliances" doc:"Alliances ranked by battle appearances"`
	TopCorporations    []EntityCountResponse `json:"top_corporations" doc:"Corporations ranked by battle appearances"`
	GeneratedAt        time.Time             `json:"generated_at" doc:"When the summary was computed"`
}

// EntityCountResponse represents one row of a top-N ranking
type EntityCountResponse struct {
	EntityID int64 `json:"entity_id" doc:"Alliance or corporation ID"`
	Battles  int64 `json:"battles" doc:"Number of battles the entity appeared in"`
}

// ClustererStatusOutput represents the clusterer's state
type ClustererStatusOutput struct {
	Body ClustererStatusResponse `json:"body" doc:"Clusterer status data"`
}

// ClustererStatusResponse represents the actual clusterer status
type ClustererStatusResponse struct {
	Running      bool                     `json:"running" doc:"Whether the clusterer cron is active"`
	Schedule     string                   `json:"schedule" doc:"Cron schedule driving batches"`
	LastTick     *time.Time               `json:"last_tick,omitempty" doc:"Time of the most recent batch"`
	TotalBattles int64                    `json:"total_battles" doc:"Number of battles detected"`
	Config       ClustererConfigResponse  `json:"config" doc:"Effective clustering configuration"`
	Metrics      ClustererMetricsResponse `json:"metrics" doc:"Clustering throughput metrics"`
}

// ClustererConfigResponse represents the effective clustering parameters
type ClustererConfigResponse struct {
	WindowMinutes          int   `json:"window_minutes" doc:"Maximum battle span in minutes"`
	GapMaxMinutes          int   `json:"gap_max_minutes" doc:"Maximum gap between consecutive kills in minutes"`
	MinKills               int   `json:"min_kills" doc:"Minimum killmails for a cluster to survive"`
	ProcessingDelayMinutes int   `json:"processing_delay_minutes" doc:"Grace period before killmails are clustered"`
	BatchSize              int64 `json:"batch_size" doc:"Maximum killmails per batch"`
	AssignSides            bool  `json:"assign_sides" doc:"Whether side inference is enabled"`
}

// ClustererMetricsResponse represents the clusterer's counters
type ClustererMetricsResponse struct {
	Ticks          int64 `json:"ticks" doc:"Number of batch ticks"`
	BattlesCreated int64 `json:"battles_created" doc:"Battles persisted"`
	Processed      int64 `json:"processed" doc:"Killmails marked processed"`
	Ignored        int64 `json:"ignored" doc:"Killmails processed without a battle"`
	Attributed     int64 `json:"attributed" doc:"Killmails attached to existing battles"`
	Quarantined    int64 `json:"quarantined" doc:"Killmails quarantined on structural errors"`
}
