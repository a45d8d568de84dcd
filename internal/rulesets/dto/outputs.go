package dto

import (
	"time"

	"battlescope/internal/rulesets/models"
)

// RulesetOutput represents the active ruleset
type RulesetOutput struct {
	Body RulesetResponse `json:"body" doc:"Active ruleset"`
}

// RulesetResponse represents the ruleset data
type RulesetResponse struct {
	RulesetID      string    `json:"ruleset_id" doc:"Ruleset identifier"`
	MinPilots      int       `json:"min_pilots" doc:"Minimum pilots for a battle to be persisted"`
	AllianceIDs    []int64   `json:"alliance_ids" doc:"Tracked alliance IDs"`
	CorpIDs        []int64   `json:"corp_ids" doc:"Tracked corporation IDs"`
	SystemIDs      []int64   `json:"system_ids" doc:"Tracked solar system IDs"`
	SecurityTypes  []string  `json:"security_types" doc:"Tracked security types"`
	IgnoreUnlisted bool      `json:"ignore_unlisted" doc:"Whether untracked battles are discarded"`
	UpdatedAt      time.Time `json:"updated_at" doc:"Last modification time"`
}

// NewRulesetResponse converts a ruleset model into its API shape
func NewRulesetResponse(ruleset *models.Ruleset) RulesetResponse {
	return RulesetResponse{
		RulesetID:      ruleset.RulesetID,
		MinPilots:      ruleset.MinPilots,
		AllianceIDs:    ruleset.AllianceIDs,
		CorpIDs:        ruleset.CorpIDs,
		SystemIDs:      ruleset.SystemIDs,
		SecurityTypes:  ruleset.SecurityTypes,
		IgnoreUnlisted: ruleset.IgnoreUnlisted,
		UpdatedAt:      ruleset.UpdatedAt,
	}
}
