package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	killmailModels "battlescope/internal/killmails/models"
	"battlescope/pkg/universe"
)

var clusterBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const testSystem int64 = 30000142

const (
	allianceA int64 = 99000001
	allianceB int64 = 99000002
	allianceC int64 = 99000003
	allianceD int64 = 99000004
	allianceE int64 = 99000005
)

func testParams() Params {
	return Params{
		Window:   30 * time.Minute,
		GapMax:   15 * time.Minute,
		MinKills: 2,
	}
}

func at(minutes int) time.Time {
	return clusterBase.Add(time.Duration(minutes) * time.Minute)
}

func i64(v int64) *int64 {
	return &v
}

// km builds a killmail with a synthetic victim character and one attacker
// character per attacker alliance
func km(id int64, occurred time.Time, victimAlliance *int64, attackerAlliances ...*int64) killmailModels.KillmailEvent {
	e := killmailModels.KillmailEvent{
		KillmailID:        id,
		SystemID:          testSystem,
		OccurredAt:        occurred,
		VictimCharacterID: i64(id*1000 + 1),
		VictimAllianceID:  victimAlliance,
		ISKValue:          "1000000",
	}
	for n, alliance := range attackerAlliances {
		e.Attackers = append(e.Attackers, killmailModels.Attacker{
			CharacterID: i64(id*1000 + 10 + int64(n)),
			AllianceID:  alliance,
		})
		if alliance != nil {
			e.AttackerAllianceIDs = append(e.AttackerAllianceIDs, *alliance)
		}
	}
	return e
}

func inSystem(e killmailModels.KillmailEvent, systemID int64) killmailModels.KillmailEvent {
	e.SystemID = systemID
	return e
}

func withISK(e killmailModels.KillmailEvent, isk string) killmailModels.KillmailEvent {
	e.ISKValue = isk
	return e
}

func memberIDs(result Result) [][]int64 {
	ids := make([][]int64, 0, len(result.Battles))
	for _, plan := range result.Battles {
		ids = append(ids, plan.MemberKillmailIDs())
	}
	return ids
}

func TestClusterEmptyInput(t *testing.T) {
	result := Cluster(nil, testParams())

	assert.NotNil(t, result.Battles)
	assert.NotNil(t, result.IgnoredKillmailIDs)
	assert.Empty(t, result.Battles)
	assert.Empty(t, result.IgnoredKillmailIDs)
}

func TestClusterSingleEventIgnored(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
	}

	result := Cluster(events, testParams())

	assert.Empty(t, result.Battles)
	assert.Equal(t, []int64{1}, result.IgnoredKillmailIDs)
}

func TestClusterSameSystemBurst(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
		km(3, at(10), i64(allianceA), i64(allianceB)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Empty(t, result.IgnoredKillmailIDs)

	battle := result.Battles[0]
	assert.NotEmpty(t, battle.BattleID)
	assert.Equal(t, testSystem, battle.SystemID)
	assert.Equal(t, at(0), battle.StartTime)
	assert.Equal(t, at(10), battle.EndTime)
	assert.Equal(t, int64(3), battle.TotalKills)
	assert.Equal(t, []int64{1, 2, 3}, battle.MemberKillmailIDs())
	assert.Equal(t, "3000000", battle.TotalISKDestroyed.String())
	assert.Equal(t, []int64{allianceA, allianceB}, battle.AllianceIDs)
	assert.Equal(t, "https://zkillboard.com/related/30000142/202405011200/", battle.ZKillRelatedUrl)
}

func TestClusterDifferentSystems(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		inSystem(km(2, at(5), i64(allianceA), i64(allianceB)), 30000143),
	}

	result := Cluster(events, testParams())

	assert.Empty(t, result.Battles)
	assert.Equal(t, []int64{1, 2}, result.IgnoredKillmailIDs)
}

func TestClusterGapExceededNoAllianceOverlap(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
		km(3, at(25), i64(allianceC), i64(allianceD)),
		km(4, at(30), i64(allianceC), i64(allianceD)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 2)
	assert.Empty(t, result.IgnoredKillmailIDs)
	assert.Equal(t, []int64{1, 2}, result.Battles[0].MemberKillmailIDs())
	assert.Equal(t, []int64{3, 4}, result.Battles[1].MemberKillmailIDs())
	assert.Equal(t, at(0), result.Battles[0].StartTime)
	assert.Equal(t, at(5), result.Battles[0].EndTime)
	assert.Equal(t, at(25), result.Battles[1].StartTime)
	assert.Equal(t, at(30), result.Battles[1].EndTime)
}

func TestClusterGapExceededWithAllianceBridge(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(20), i64(allianceC), i64(allianceA)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Empty(t, result.IgnoredKillmailIDs)
	assert.Equal(t, []int64{1, 2}, result.Battles[0].MemberKillmailIDs())
}

func TestClusterWindowExceeded(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(35), i64(allianceC), i64(allianceA)),
	}

	result := Cluster(events, testParams())

	assert.Empty(t, result.Battles)
	assert.Equal(t, []int64{1, 2}, result.IgnoredKillmailIDs)
}

func TestClusterGapBoundary(t *testing.T) {
	tests := []struct {
		name        string
		second      time.Time
		wantBattles [][]int64
		wantIgnored []int64
	}{
		{
			name:        "exactly gap max clusters",
			second:      at(15),
			wantBattles: [][]int64{{1, 2}},
			wantIgnored: []int64{},
		},
		{
			name:        "one second past gap max splits",
			second:      at(15).Add(time.Second),
			wantBattles: [][]int64{},
			wantIgnored: []int64{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []killmailModels.KillmailEvent{
				km(1, at(0), i64(allianceA), i64(allianceB)),
				km(2, tt.second, i64(allianceC), i64(allianceD)),
			}

			result := Cluster(events, testParams())

			assert.Equal(t, tt.wantBattles, memberIDs(result))
			assert.Equal(t, tt.wantIgnored, result.IgnoredKillmailIDs)
		})
	}
}

func TestClusterWindowBoundary(t *testing.T) {
	tests := []struct {
		name        string
		third       time.Time
		wantBattles [][]int64
		wantIgnored []int64
	}{
		{
			name:        "exactly window clusters",
			third:       at(30),
			wantBattles: [][]int64{{1, 2, 3}},
			wantIgnored: []int64{},
		},
		{
			name:        "one second past window splits",
			third:       at(30).Add(time.Second),
			wantBattles: [][]int64{{1, 2}},
			wantIgnored: []int64{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The second and third kills are alliance-linked to the first, so
			// only the window ceiling decides admission of the third
			events := []killmailModels.KillmailEvent{
				km(1, at(0), i64(allianceA), i64(allianceB)),
				km(2, at(16), i64(allianceA), i64(allianceC)),
				km(3, tt.third, i64(allianceA), i64(allianceD)),
			}

			result := Cluster(events, testParams())

			assert.Equal(t, tt.wantBattles, memberIDs(result))
			assert.Equal(t, tt.wantIgnored, result.IgnoredKillmailIDs)
		})
	}
}

func TestClusterThreeWayAllianceChain(t *testing.T) {
	// The third kill shares no alliance with the second; the link comes from
	// the first member through the cluster's accumulated alliance set
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(10), i64(allianceB), i64(allianceC)),
		km(3, at(28), i64(allianceE), i64(allianceA)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Empty(t, result.IgnoredKillmailIDs)
	assert.Equal(t, []int64{1, 2, 3}, result.Battles[0].MemberKillmailIDs())
	assert.Equal(t, []int64{allianceA, allianceB, allianceC, allianceE}, result.Battles[0].AllianceIDs)
}

func TestClusterMultiAllianceAttackers(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB), i64(allianceC), i64(allianceD)),
		km(2, at(20), i64(allianceD), i64(allianceE)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Equal(t, []int64{1, 2}, result.Battles[0].MemberKillmailIDs())
	assert.Equal(t,
		[]int64{allianceA, allianceB, allianceC, allianceD, allianceE},
		result.Battles[0].AllianceIDs)
}

func TestClusterAllNullAlliances(t *testing.T) {
	params := testParams()
	params.AssignSides = true

	events := []killmailModels.KillmailEvent{
		km(1, at(0), nil, nil),
		km(2, at(5), nil, nil),
		km(3, at(21), nil, nil),
	}

	result := Cluster(events, params)

	require.Len(t, result.Battles, 1)
	assert.Equal(t, []int64{3}, result.IgnoredKillmailIDs)

	battle := result.Battles[0]
	assert.Equal(t, []int64{1, 2}, battle.MemberKillmailIDs())
	assert.Empty(t, battle.AllianceIDs)
	assert.Empty(t, battle.Sides)
	for _, p := range battle.Participants {
		assert.Nil(t, p.SideID)
	}
}

func TestClusterIdenticalTimestamps(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		km(2, at(0), i64(allianceA), i64(allianceB)),
		km(1, at(0), i64(allianceA), i64(allianceB)),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Equal(t, []int64{1, 2}, result.Battles[0].MemberKillmailIDs())
}

func TestClusterPermutationInvariance(t *testing.T) {
	ordered := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
		km(2, at(5), i64(allianceA), i64(allianceB)),
		km(3, at(25), i64(allianceC), i64(allianceD)),
		km(4, at(30), i64(allianceC), i64(allianceD)),
		inSystem(km(5, at(3), i64(allianceA), i64(allianceB)), 30000143),
	}

	permutations := [][]int{
		{0, 1, 2, 3, 4},
		{4, 3, 2, 1, 0},
		{2, 0, 4, 1, 3},
	}

	want := Cluster(ordered, testParams())

	for _, perm := range permutations {
		shuffled := make([]killmailModels.KillmailEvent, len(ordered))
		for i, idx := range perm {
			shuffled[i] = ordered[idx]
		}

		got := Cluster(shuffled, testParams())

		assert.Equal(t, memberIDs(want), memberIDs(got))
		assert.Equal(t, want.IgnoredKillmailIDs, got.IgnoredKillmailIDs)
	}
}

func TestClusterWindowSplitting(t *testing.T) {
	var events []killmailModels.KillmailEvent
	for i := 0; i < 9; i++ {
		events = append(events, km(int64(i+1), at(i*10), i64(allianceA), i64(allianceB)))
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 2)
	assert.Equal(t, []int64{1, 2, 3, 4}, result.Battles[0].MemberKillmailIDs())
	assert.Equal(t, []int64{5, 6, 7, 8}, result.Battles[1].MemberKillmailIDs())
	assert.Equal(t, []int64{9}, result.IgnoredKillmailIDs)
}

func TestClusterMinKillsFloor(t *testing.T) {
	params := testParams()
	params.MinKills = 0

	events := []killmailModels.KillmailEvent{
		km(1, at(0), i64(allianceA), i64(allianceB)),
	}

	result := Cluster(events, params)

	require.Len(t, result.Battles, 1)
	assert.Empty(t, result.IgnoredKillmailIDs)
	assert.Equal(t, []int64{1}, result.Battles[0].MemberKillmailIDs())
}

func TestClusterBigISK(t *testing.T) {
	events := []killmailModels.KillmailEvent{
		withISK(km(1, at(0), i64(allianceA), i64(allianceB)), "92233720368547758080000"),
		withISK(km(2, at(5), i64(allianceA), i64(allianceB)), ""),
		withISK(km(3, at(10), i64(allianceA), i64(allianceB)), "not a number"),
		withISK(km(4, at(14), i64(allianceA), i64(allianceB)), "1"),
	}

	result := Cluster(events, testParams())

	require.Len(t, result.Battles, 1)
	assert.Equal(t, "92233720368547758080001", result.Battles[0].TotalISKDestroyed.String())
}

func TestClusterClassification(t *testing.T) {
	params := testParams()
	params.Classify = func(systemID int64) universe.Classification {
		return universe.Classification{
			SpaceType:    universe.SpaceWormhole,
			SecurityType: universe.SecurityWormhole,
		}
	}

	events := []killmailModels.KillmailEvent{
		inSystem(km(1, at(0), i64(allianceA), i64(allianceB)), 31000005),
		inSystem(km(2, at(5), i64(allianceA), i64(allianceB)), 31000005),
	}

	result := Cluster(events, params)

	require.Len(t, result.Battles, 1)
	assert.Equal(t, universe.SpaceWormhole, result.Battles[0].SpaceType)
	assert.Equal(t, universe.SecurityWormhole, result.Battles[0].SecurityType)

	// Without a classifier the engine falls back to known nullsec
	fallback := Cluster(events, testParams())
	require.Len(t, fallback.Battles, 1)
	assert.Equal(t, universe.SpaceKnown, fallback.Battles[0].SpaceType)
	assert.Equal(t, universe.SecurityNullsec, fallback.Battles[0].SecurityType)
}

func TestClusterParticipants(t *testing.T) {
	e1 := killmailModels.KillmailEvent{
		KillmailID:          1,
		SystemID:            testSystem,
		OccurredAt:          at(0),
		VictimCharacterID:   i64(2001),
		VictimAllianceID:    i64(allianceA),
		VictimCorpID:        i64(98000001),
		VictimShipTypeID:    i64(587),
		AttackerAllianceIDs: []int64{allianceB},
		Attackers: []killmailModels.Attacker{
			{CharacterID: i64(2002), AllianceID: i64(allianceB), CorpID: i64(98000002), ShipTypeID: i64(670)},
			{AllianceID: i64(allianceB)}, // structure or NPC, no character
		},
		ISKValue: "1000000",
	}
	e2 := killmailModels.KillmailEvent{
		KillmailID:          2,
		SystemID:            testSystem,
		OccurredAt:          at(5),
		VictimCharacterID:   i64(2002),
		VictimAllianceID:    i64(allianceB),
		VictimCorpID:        i64(98000002),
		VictimShipTypeID:    i64(33472),
		AttackerAllianceIDs: []int64{allianceA},
		Attackers: []killmailModels.Attacker{
			{CharacterID: i64(2001), AllianceID: i64(allianceA), CorpID: i64(98000001), ShipTypeID: i64(17738)},
		},
		ISKValue: "1000000",
	}

	result := Cluster([]killmailModels.KillmailEvent{e1, e2}, testParams())

	require.Len(t, result.Battles, 1)
	participants := result.Battles[0].Participants
	require.Len(t, participants, 2)

	first := participants[0]
	assert.Equal(t, int64(2001), first.CharacterID)
	assert.Equal(t, allianceA, *first.AllianceID)
	assert.True(t, first.IsVictim)
	assert.Equal(t, int64(17738), *first.ShipTypeID) // last sighting wins
	assert.Equal(t, at(5), first.LastSeenAt)

	second := participants[1]
	assert.Equal(t, int64(2002), second.CharacterID)
	assert.Equal(t, allianceB, *second.AllianceID)
	assert.True(t, second.IsVictim)
	assert.Equal(t, int64(33472), *second.ShipTypeID)
	assert.Equal(t, at(5), second.LastSeenAt)
}

func TestParseISK(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", "0"},
		{"zero", "0", "0"},
		{"invalid", "abc", "0"},
		{"negative", "-5", "0"},
		{"small", "12345", "12345"},
		{"beyond int64", "92233720368547758089999", "92233720368547758089999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseISK(tt.value).String())
		})
	}
}

func TestRelatedURL(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 47, 33, 0, time.UTC)
	assert.Equal(t,
		"https://zkillboard.com/related/30000142/202405011200/",
		RelatedURL(30000142, start))

	early := time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC)
	assert.Equal(t,
		"https://zkillboard.com/related/30000143/202405010900/",
		RelatedURL(30000143, early))
}
