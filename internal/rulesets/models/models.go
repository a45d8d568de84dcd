package models

import (
	"time"
)

const RulesetsCollection = "rulesets"

// DefaultRulesetID identifies the singleton ruleset document.
const DefaultRulesetID = "default"

// Ruleset is the process-wide acceptance filter for clustered battles.
// Battles are persisted only when they pass MinPilots and, with
// IgnoreUnlisted set, touch at least one tracked entity. The same tracked
// sets back the tracked_only filter on the killmail feed.
type Ruleset struct {
	RulesetID      string    `bson:"ruleset_id" json:"ruleset_id"`
	MinPilots      int       `bson:"min_pilots" json:"min_pilots"`
	AllianceIDs    []int64   `bson:"alliance_ids" json:"alliance_ids"`
	CorpIDs        []int64   `bson:"corp_ids" json:"corp_ids"`
	SystemIDs      []int64   `bson:"system_ids" json:"system_ids"`
	SecurityTypes  []string  `bson:"security_types" json:"security_types"`
	IgnoreUnlisted bool      `bson:"ignore_unlisted" json:"ignore_unlisted"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// DefaultRuleset returns the bootstrap configuration: track everything,
// require two pilots.
func DefaultRuleset() *Ruleset {
	return &Ruleset{
		RulesetID:      DefaultRulesetID,
		MinPilots:      2,
		AllianceIDs:    []int64{},
		CorpIDs:        []int64{},
		SystemIDs:      []int64{},
		SecurityTypes:  []string{},
		IgnoreUnlisted: false,
	}
}

// TracksAlliance reports whether the alliance is in the tracked set.
func (r *Ruleset) TracksAlliance(allianceID int64) bool {
	return containsID(r.AllianceIDs, allianceID)
}

// TracksCorp reports whether the corporation is in the tracked set.
func (r *Ruleset) TracksCorp(corpID int64) bool {
	return containsID(r.CorpIDs, corpID)
}

// TracksSystem reports whether the solar system is in the tracked set.
func (r *Ruleset) TracksSystem(systemID int64) bool {
	return containsID(r.SystemIDs, systemID)
}

// TracksSecurityType reports whether the security type is in the tracked set.
func (r *Ruleset) TracksSecurityType(securityType string) bool {
	for _, s := range r.SecurityTypes {
		if s == securityType {
			return true
		}
	}
	return false
}

// MatchesTracked reports whether an aggregate touching the given identity
// sets, system and security type counts as tracked: any listed alliance or
// corporation participates, or the system itself is listed, or its security
// type is.
func (r *Ruleset) MatchesTracked(allianceIDs, corpIDs []int64, systemID int64, securityType string) bool {
	for _, id := range allianceIDs {
		if r.TracksAlliance(id) {
			return true
		}
	}
	for _, id := range corpIDs {
		if r.TracksCorp(id) {
			return true
		}
	}
	if r.TracksSystem(systemID) {
		return true
	}
	return r.TracksSecurityType(securityType)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
