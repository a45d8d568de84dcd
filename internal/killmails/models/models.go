package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"battlescope/pkg/universe"
)

const KillmailEventsCollection = "killmail_events"

// KillmailEvent is the authoritative ingested killmail. Identity sets are
// denormalised into flat arrays so the clusterer and the entity filters
// never unwind the attacker rows.
type KillmailEvent struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	KillmailID int64              `bson:"killmail_id" json:"killmail_id"`
	Hash       string             `bson:"hash" json:"hash"`
	SystemID   int64              `bson:"system_id" json:"system_id"`
	OccurredAt time.Time          `bson:"occurred_at" json:"occurred_at"`
	FetchedAt  time.Time          `bson:"fetched_at" json:"fetched_at"`

	VictimCharacterID *int64 `bson:"victim_character_id,omitempty" json:"victim_character_id,omitempty"`
	VictimCorpID      *int64 `bson:"victim_corp_id,omitempty" json:"victim_corp_id,omitempty"`
	VictimAllianceID  *int64 `bson:"victim_alliance_id,omitempty" json:"victim_alliance_id,omitempty"`
	VictimShipTypeID  *int64 `bson:"victim_ship_type_id,omitempty" json:"victim_ship_type_id,omitempty"`

	Attackers            []Attacker `bson:"attackers" json:"attackers"`
	AttackerCharacterIDs []int64    `bson:"attacker_character_ids" json:"attacker_character_ids"`
	AttackerCorpIDs      []int64    `bson:"attacker_corp_ids" json:"attacker_corp_ids"`
	AttackerAllianceIDs  []int64    `bson:"attacker_alliance_ids" json:"attacker_alliance_ids"`

	// ISKValue is a non-negative integer serialised as a decimal string;
	// engine code parses it into math/big.
	ISKValue string `bson:"isk_value" json:"isk_value"`
	ZKBUrl   string `bson:"zkb_url" json:"zkb_url"`

	SpaceType    universe.SpaceType    `bson:"space_type" json:"space_type"`
	SecurityType universe.SecurityType `bson:"security_type" json:"security_type"`

	// ProcessedAt is set exactly once by the clusterer; BattleID stays nil
	// for processed-but-ignored killmails.
	ProcessedAt *time.Time `bson:"processed_at" json:"processed_at,omitempty"`
	BattleID    *string    `bson:"battle_id,omitempty" json:"battle_id,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Attacker is the compact per-attacker row kept for participant derivation
type Attacker struct {
	CharacterID *int64 `bson:"character_id,omitempty" json:"character_id,omitempty"`
	CorpID      *int64 `bson:"corp_id,omitempty" json:"corp_id,omitempty"`
	AllianceID  *int64 `bson:"alliance_id,omitempty" json:"alliance_id,omitempty"`
	ShipTypeID  *int64 `bson:"ship_type_id,omitempty" json:"ship_type_id,omitempty"`
	FinalBlow   bool   `bson:"final_blow" json:"final_blow"`
}

// AllianceIDs returns every distinct alliance touching the killmail,
// victim included
func (k *KillmailEvent) AllianceIDs() []int64 {
	return mergeIDs(k.VictimAllianceID, k.AttackerAllianceIDs)
}

// CorpIDs returns every distinct corporation touching the killmail,
// victim included
func (k *KillmailEvent) CorpIDs() []int64 {
	return mergeIDs(k.VictimCorpID, k.AttackerCorpIDs)
}

// CharacterIDs returns every distinct character touching the killmail,
// victim included
func (k *KillmailEvent) CharacterIDs() []int64 {
	return mergeIDs(k.VictimCharacterID, k.AttackerCharacterIDs)
}

func mergeIDs(victim *int64, attackers []int64) []int64 {
	out := make([]int64, 0, len(attackers)+1)
	seen := make(map[int64]struct{}, len(attackers)+1)

	if victim != nil {
		out = append(out, *victim)
		seen[*victim] = struct{}{}
	}
	for _, id := range attackers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
