package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"battlescope/pkg/universe"
)

const (
	// BattlesCollection is the MongoDB collection for persisted battles
	BattlesCollection = "battles"
	// BattleKillmailsCollection holds battle membership rows
	BattleKillmailsCollection = "battle_killmails"
	// BattleParticipantsCollection holds per-character participant rows
	BattleParticipantsCollection = "battle_participants"
)

// Battle represents a persisted cluster of killmails
type Battle struct {
	ID                primitive.ObjectID    `bson:"_id,omitempty" json:"-"`
	BattleID          string                `bson:"battle_id" json:"battle_id"`
	SystemID          int64                 `bson:"system_id" json:"system_id"`
	SpaceType         universe.SpaceType    `bson:"space_type" json:"space_type"`
	SecurityType      universe.SecurityType `bson:"security_type" json:"security_type"`
	StartTime         time.Time             `bson:"start_time" json:"start_time"`
	EndTime           time.Time             `bson:"end_time" json:"end_time"`
	TotalKills        int64                 `bson:"total_kills" json:"total_kills"`
	TotalISKDestroyed string                `bson:"total_isk_destroyed" json:"total_isk_destroyed"`
	ZKillRelatedUrl   string                `bson:"zkill_related_url" json:"zkill_related_url"`
	AllianceIDs       []int64               `bson:"alliance_ids" json:"alliance_ids"`
	CorpIDs           []int64               `bson:"corp_ids" json:"corp_ids"`
	CharacterIDs      []int64               `bson:"character_ids" json:"character_ids"`
	Sides             []BattleSide          `bson:"sides,omitempty" json:"sides,omitempty"`
	Deleted           bool                  `bson:"deleted" json:"-"`
	CreatedAt         time.Time             `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time             `bson:"updated_at" json:"updated_at"`
}

// BattleSide groups the alliances fighting on one side of a battle
type BattleSide struct {
	SideID      int     `bson:"side_id" json:"side_id"`
	AllianceIDs []int64 `bson:"alliance_ids" json:"alliance_ids"`
}

// BattleKillmail links a killmail to the battle it was attributed to
type BattleKillmail struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	BattleID   string             `bson:"battle_id" json:"battle_id"`
	KillmailID int64              `bson:"killmail_id" json:"killmail_id"`
	OccurredAt time.Time          `bson:"occurred_at" json:"occurred_at"`
}

// BattleParticipant is one character's involvement in a battle. The victim
// flag latches true; ship_type_id follows the most recent occurrence.
type BattleParticipant struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	BattleID    string             `bson:"battle_id" json:"battle_id"`
	CharacterID int64              `bson:"character_id" json:"character_id"`
	AllianceID  *int64             `bson:"alliance_id,omitempty" json:"alliance_id,omitempty"`
	CorpID      *int64             `bson:"corp_id,omitempty" json:"corp_id,omitempty"`
	ShipTypeID  *int64             `bson:"ship_type_id,omitempty" json:"ship_type_id,omitempty"`
	SideID      *int               `bson:"side_id,omitempty" json:"side_id,omitempty"`
	IsVictim    bool               `bson:"is_victim" json:"is_victim"`
	LastSeenAt  time.Time          `bson:"last_seen_at" json:"last_seen_at"`
}
