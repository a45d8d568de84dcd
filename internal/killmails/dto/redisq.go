package dto

import (
	"encoding/json"
	"time"
)

// RedisQResponse represents one long-poll response from the killmail feed
type RedisQResponse struct {
	Package *RedisQPackage `json:"package"`
}

// RedisQPackage represents a killmail package from the feed
type RedisQPackage struct {
	KillID   int64           `json:"killID"`
	Killmail json.RawMessage `json:"killmail"`
	ZKB      ZKBData         `json:"zkb"`
}

// ZKBData represents zKillboard metadata in the package
type ZKBData struct {
	LocationID     int64   `json:"locationID"`
	Hash           string  `json:"hash"`
	FittedValue    float64 `json:"fittedValue"`
	DroppedValue   float64 `json:"droppedValue"`
	DestroyedValue float64 `json:"destroyedValue"`
	TotalValue     float64 `json:"totalValue"`
	Points         int     `json:"points"`
	NPC            bool    `json:"npc"`
	Solo           bool    `json:"solo"`
	Awox           bool    `json:"awox"`
	Href           string  `json:"href"`
}

// ESIKillmail represents the ESI-shaped killmail body inside the package
type ESIKillmail struct {
	KillmailID    int64         `json:"killmail_id"`
	KillmailTime  time.Time     `json:"killmail_time"`
	SolarSystemID int64         `json:"solar_system_id"`
	Victim        ESIVictim     `json:"victim"`
	Attackers     []ESIAttacker `json:"attackers"`
}

// ESIVictim represents victim information in the killmail body
type ESIVictim struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
	DamageTaken   int64  `json:"damage_taken"`
}

// ESIAttacker represents attacker information in the killmail body
type ESIAttacker struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    *int64 `json:"ship_type_id,omitempty"`
	WeaponTypeID  *int64 `json:"weapon_type_id,omitempty"`
	DamageDone    int64  `json:"damage_done"`
	FinalBlow     bool   `json:"final_blow"`
}
