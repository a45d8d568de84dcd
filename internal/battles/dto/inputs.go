package dto

import "time"

// ListBattlesInput filters and paginates the battle listing
type ListBattlesInput struct {
	SpaceType    string    `query:"space_type" enum:"kspace,jspace,pochven" doc:"Filter by space type"`
	SecurityType string    `query:"security_type" enum:"highsec,lowsec,nullsec,wormhole,pochven" doc:"Filter by security type"`
	SystemID     int64     `query:"system_id" minimum:"0" default:"0" doc:"Filter by solar system ID"`
	AllianceID   int64     `query:"alliance_id" minimum:"0" default:"0" doc:"Filter by involved alliance ID"`
	CorpID       int64     `query:"corp_id" minimum:"0" default:"0" doc:"Filter by involved corporation ID"`
	CharacterID  int64     `query:"character_id" minimum:"0" default:"0" doc:"Filter by involved character ID"`
	Since        time.Time `query:"since" doc:"Only battles starting at or after this instant (RFC3339)"`
	Until        time.Time `query:"until" doc:"Only battles starting at or before this instant (RFC3339)"`
	Cursor       string    `query:"cursor" doc:"Opaque pagination cursor from a previous page"`
	Limit        int       `query:"limit" minimum:"1" maximum:"100" default:"20" doc:"Maximum number of battles to return"`
}

// GetBattleInput identifies one battle
type GetBattleInput struct {
	BattleID string `path:"battle_id" doc:"Battle ID"`
}
