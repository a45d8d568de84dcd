package services

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"battlescope/internal/battles/models"
	killmailModels "battlescope/internal/killmails/models"
	"battlescope/pkg/universe"
)

// Params configures one clustering pass
type Params struct {
	Window      time.Duration
	GapMax      time.Duration
	MinKills    int
	Classify    func(systemID int64) universe.Classification
	AssignSides bool
}

// Result is the outcome of one clustering pass
type Result struct {
	Battles            []*BattlePlan
	IgnoredKillmailIDs []int64
}

// BattlePlan is a fully aggregated battle ready to persist
type BattlePlan struct {
	BattleID          string
	SystemID          int64
	SpaceType         universe.SpaceType
	SecurityType      universe.SecurityType
	StartTime         time.Time
	EndTime           time.Time
	TotalKills        int64
	TotalISKDestroyed *big.Int
	ZKillRelatedUrl   string
	AllianceIDs       []int64
	CorpIDs           []int64
	CharacterIDs      []int64
	Sides             []models.BattleSide
	Members           []MemberPlan
	Participants      []ParticipantPlan
}

// MemberPlan is one killmail's membership row in a plan
type MemberPlan struct {
	KillmailID int64
	OccurredAt time.Time
}

// MemberKillmailIDs returns the plan's member ids in canonical order
func (p *BattlePlan) MemberKillmailIDs() []int64 {
	ids := make([]int64, len(p.Members))
	for i, m := range p.Members {
		ids[i] = m.KillmailID
	}
	return ids
}

// ParticipantPlan is one character's involvement in a planned battle
type ParticipantPlan struct {
	CharacterID int64
	AllianceID  *int64
	CorpID      *int64
	ShipTypeID  *int64
	SideID      *int
	IsVictim    bool
	LastSeenAt  time.Time
}

// Cluster partitions killmail events into battles. Events in different
// systems never cluster. Within a system, events are scanned in
// (occurred_at, killmail_id) order and admitted into the open cluster when
// they fall inside the window and either inside the gap or alliance-linked
// to a prior member; the window is an absolute ceiling that alliance
// correlation cannot override. Clusters below MinKills are reported as
// ignored. Pure function: bad inputs degrade (invalid ISK counts as zero),
// never fail.
func Cluster(events []killmailModels.KillmailEvent, params Params) Result {
	if params.MinKills < 1 {
		params.MinKills = 1
	}

	bySystem := make(map[int64][]killmailModels.KillmailEvent)
	for _, e := range events {
		bySystem[e.SystemID] = append(bySystem[e.SystemID], e)
	}

	systemIDs := make([]int64, 0, len(bySystem))
	for id := range bySystem {
		systemIDs = append(systemIDs, id)
	}
	sort.Slice(systemIDs, func(i, j int) bool { return systemIDs[i] < systemIDs[j] })

	result := Result{
		Battles:            []*BattlePlan{},
		IgnoredKillmailIDs: []int64{},
	}

	for _, systemID := range systemIDs {
		system := bySystem[systemID]
		sortCanonical(system)

		for _, cluster := range partition(system, params) {
			if len(cluster) < params.MinKills {
				for _, e := range cluster {
					result.IgnoredKillmailIDs = append(result.IgnoredKillmailIDs, e.KillmailID)
				}
				continue
			}
			result.Battles = append(result.Battles, buildPlan(systemID, cluster, params))
		}
	}

	sort.Slice(result.IgnoredKillmailIDs, func(i, j int) bool {
		return result.IgnoredKillmailIDs[i] < result.IgnoredKillmailIDs[j]
	})

	return result
}

// sortCanonical orders events by (occurred_at asc, killmail_id asc) so
// out-of-order arrival clusters identically to in-order arrival
func sortCanonical(events []killmailModels.KillmailEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].KillmailID < events[j].KillmailID
	})
}

// partition splits one system's canonical event sequence into clusters
func partition(events []killmailModels.KillmailEvent, params Params) [][]killmailModels.KillmailEvent {
	var clusters [][]killmailModels.KillmailEvent
	var open []killmailModels.KillmailEvent
	openAlliances := make(map[int64]struct{})

	for _, e := range events {
		if len(open) == 0 {
			open = append(open, e)
			addAlliances(openAlliances, e)
			continue
		}

		windowOk := e.OccurredAt.Sub(open[0].OccurredAt) <= params.Window
		gapOk := e.OccurredAt.Sub(open[len(open)-1].OccurredAt) <= params.GapMax
		linked := gapOk || allianceLinked(openAlliances, e)

		if windowOk && linked {
			open = append(open, e)
			addAlliances(openAlliances, e)
			continue
		}

		clusters = append(clusters, open)
		open = []killmailModels.KillmailEvent{e}
		openAlliances = make(map[int64]struct{})
		addAlliances(openAlliances, e)
	}

	if len(open) > 0 {
		clusters = append(clusters, open)
	}

	return clusters
}

func addAlliances(set map[int64]struct{}, e killmailModels.KillmailEvent) {
	for _, id := range e.AllianceIDs() {
		set[id] = struct{}{}
	}
}

func allianceLinked(set map[int64]struct{}, e killmailModels.KillmailEvent) bool {
	for _, id := range e.AllianceIDs() {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// buildPlan aggregates one surviving cluster into a persistable plan
func buildPlan(systemID int64, cluster []killmailModels.KillmailEvent, params Params) *BattlePlan {
	startTime := cluster[0].OccurredAt
	endTime := cluster[len(cluster)-1].OccurredAt

	classification := universe.Classification{
		SpaceType:    universe.SpaceKnown,
		SecurityType: universe.SecurityNullsec,
	}
	if params.Classify != nil {
		classification = params.Classify(systemID)
	}

	plan := &BattlePlan{
		BattleID:          uuid.New().String(),
		SystemID:          systemID,
		SpaceType:         classification.SpaceType,
		SecurityType:      classification.SecurityType,
		StartTime:         startTime,
		EndTime:           endTime,
		TotalKills:        int64(len(cluster)),
		TotalISKDestroyed: new(big.Int),
		ZKillRelatedUrl:   RelatedURL(systemID, startTime),
		Members:           make([]MemberPlan, 0, len(cluster)),
	}

	allianceSet := make(map[int64]struct{})
	corpSet := make(map[int64]struct{})
	characterSet := make(map[int64]struct{})

	for _, e := range cluster {
		plan.Members = append(plan.Members, MemberPlan{
			KillmailID: e.KillmailID,
			OccurredAt: e.OccurredAt,
		})
		plan.TotalISKDestroyed.Add(plan.TotalISKDestroyed, ParseISK(e.ISKValue))

		for _, id := range e.AllianceIDs() {
			allianceSet[id] = struct{}{}
		}
		for _, id := range e.CorpIDs() {
			corpSet[id] = struct{}{}
		}
		for _, id := range e.CharacterIDs() {
			characterSet[id] = struct{}{}
		}
	}

	plan.AllianceIDs = sortedIDs(allianceSet)
	plan.CorpIDs = sortedIDs(corpSet)
	plan.CharacterIDs = sortedIDs(characterSet)

	var sideByAlliance map[int64]int
	if params.AssignSides {
		plan.Sides, sideByAlliance = assignSides(cluster)
	}
	plan.Participants = buildParticipants(cluster, sideByAlliance)

	return plan
}

// buildParticipants derives the deduplicated participant set from a
// cluster's members, scanned in canonical order so the last occurrence wins
func buildParticipants(cluster []killmailModels.KillmailEvent, sideByAlliance map[int64]int) []ParticipantPlan {
	byCharacter := make(map[int64]*ParticipantPlan)

	upsert := func(characterID int64, allianceID, corpID, shipTypeID *int64, isVictim bool, seenAt time.Time) {
		p, ok := byCharacter[characterID]
		if !ok {
			p = &ParticipantPlan{CharacterID: characterID}
			byCharacter[characterID] = p
		}
		if allianceID != nil {
			p.AllianceID = allianceID
		}
		if corpID != nil {
			p.CorpID = corpID
		}
		if shipTypeID != nil {
			p.ShipTypeID = shipTypeID
		}
		if isVictim {
			p.IsVictim = true
		}
		p.LastSeenAt = seenAt
	}

	for _, e := range cluster {
		if e.VictimCharacterID != nil {
			upsert(*e.VictimCharacterID, e.VictimAllianceID, e.VictimCorpID, e.VictimShipTypeID, true, e.OccurredAt)
		}
		for _, a := range e.Attackers {
			if a.CharacterID == nil {
				continue
			}
			upsert(*a.CharacterID, a.AllianceID, a.CorpID, a.ShipTypeID, false, e.OccurredAt)
		}
	}

	participants := make([]ParticipantPlan, 0, len(byCharacter))
	for _, p := range byCharacter {
		if p.AllianceID != nil && sideByAlliance != nil {
			if side, ok := sideByAlliance[*p.AllianceID]; ok {
				s := side
				p.SideID = &s
			}
		}
		participants = append(participants, *p)
	}

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CharacterID < participants[j].CharacterID
	})

	return participants
}

// ParseISK parses a decimal ISK string; empty, invalid and negative values
// count as zero
func ParseISK(value string) *big.Int {
	if value == "" {
		return new(big.Int)
	}
	i, ok := new(big.Int).SetString(value, 10)
	if !ok || i.Sign() < 0 {
		return new(big.Int)
	}
	return i
}

// RelatedURL composes the zkillboard related-kills URL for a battle,
// truncating the start time to the hour
func RelatedURL(systemID int64, startTime time.Time) string {
	hour := startTime.UTC().Truncate(time.Hour)
	return fmt.Sprintf("https://zkillboard.com/related/%d/%s00/", systemID, hour.Format("2006010215"))
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
