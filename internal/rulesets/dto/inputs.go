package dto

// UpdateRulesetInput represents the PATCH /rulesets request
type UpdateRulesetInput struct {
	Body RulesetPatch `json:"body" required:"true"`
}

// RulesetPatch carries the fields to change; absent fields keep their
// current value
type RulesetPatch struct {
	MinPilots      *int      `json:"min_pilots,omitempty" validate:"omitempty,min=1,max=10000" doc:"Minimum pilots (total kills) for a battle to be persisted"`
	AllianceIDs    *[]int64  `json:"alliance_ids,omitempty" validate:"omitempty,dive,gt=0" doc:"Tracked alliance IDs"`
	CorpIDs        *[]int64  `json:"corp_ids,omitempty" validate:"omitempty,dive,gt=0" doc:"Tracked corporation IDs"`
	SystemIDs      *[]int64  `json:"system_ids,omitempty" validate:"omitempty,dive,gt=0" doc:"Tracked solar system IDs"`
	SecurityTypes  *[]string `json:"security_types,omitempty" validate:"omitempty,dive,security_type" doc:"Tracked security types (highsec, lowsec, nullsec, wormhole, pochven)"`
	IgnoreUnlisted *bool     `json:"ignore_unlisted,omitempty" doc:"Discard battles that touch no tracked alliance, corporation, system or security type"`
}
