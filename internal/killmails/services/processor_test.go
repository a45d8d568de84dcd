package services

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlescope/internal/killmails/dto"
	"battlescope/pkg/universe"
)

func testClassifier(t *testing.T) *universe.Classifier {
	t.Helper()
	return universe.NewClassifier(t.TempDir())
}

func i64(v int64) *int64 { return &v }

func feedPackage(t *testing.T, esi dto.ESIKillmail, hash string, totalValue float64) *dto.RedisQPackage {
	t.Helper()
	body, err := json.Marshal(esi)
	require.NoError(t, err)

	return &dto.RedisQPackage{
		KillID:   esi.KillmailID,
		Killmail: body,
		ZKB:      dto.ZKBData{Hash: hash, TotalValue: totalValue},
	}
}

func TestBuildEvent(t *testing.T) {
	occurredAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fetchedAt := occurredAt.Add(30 * time.Second)

	esi := dto.ESIKillmail{
		KillmailID:    128000001,
		KillmailTime:  occurredAt,
		SolarSystemID: 30000142,
		Victim: dto.ESIVictim{
			CharacterID:   i64(95000001),
			CorporationID: i64(98000001),
			AllianceID:    i64(99000001),
			ShipTypeID:    i64(670),
		},
		Attackers: []dto.ESIAttacker{
			{CharacterID: i64(95000002), CorporationID: i64(98000002), AllianceID: i64(99000002), ShipTypeID: i64(17918), FinalBlow: true},
			{CharacterID: i64(95000003), CorporationID: i64(98000002), AllianceID: i64(99000002), ShipTypeID: i64(17918)},
			{ShipTypeID: i64(23060)},
		},
	}

	event, err := BuildEvent(testClassifier(t), feedPackage(t, esi, "abc123hash", 350000000.5), fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, int64(128000001), event.KillmailID)
	assert.Equal(t, "abc123hash", event.Hash)
	assert.Equal(t, int64(30000142), event.SystemID)
	assert.Equal(t, occurredAt, event.OccurredAt)
	assert.Equal(t, fetchedAt, event.FetchedAt)

	require.NotNil(t, event.VictimCharacterID)
	assert.Equal(t, int64(95000001), *event.VictimCharacterID)
	require.NotNil(t, event.VictimAllianceID)
	assert.Equal(t, int64(99000001), *event.VictimAllianceID)
	require.NotNil(t, event.VictimShipTypeID)
	assert.Equal(t, int64(670), *event.VictimShipTypeID)

	require.Len(t, event.Attackers, 3)
	assert.True(t, event.Attackers[0].FinalBlow)
	assert.Nil(t, event.Attackers[2].CharacterID)

	assert.Equal(t, []int64{95000002, 95000003}, event.AttackerCharacterIDs)
	assert.Equal(t, []int64{98000002}, event.AttackerCorpIDs)
	assert.Equal(t, []int64{99000002}, event.AttackerAllianceIDs)

	assert.Equal(t, "350000000", event.ISKValue)
	assert.Equal(t, "https://zkillboard.com/kill/128000001/", event.ZKBUrl)

	// No universe data loaded, so k-space defaults to nullsec
	assert.Equal(t, universe.SpaceKnown, event.SpaceType)
	assert.Equal(t, universe.SecurityNullsec, event.SecurityType)

	assert.Equal(t, []int64{99000001, 99000002}, event.AllianceIDs())
	assert.Equal(t, []int64{98000001, 98000002}, event.CorpIDs())
}

func TestBuildEventWormholeSystem(t *testing.T) {
	occurredAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	esi := dto.ESIKillmail{
		KillmailID:    128000002,
		KillmailTime:  occurredAt,
		SolarSystemID: 31000005,
		Victim:        dto.ESIVictim{ShipTypeID: i64(670)},
	}

	event, err := BuildEvent(testClassifier(t), feedPackage(t, esi, "whhash", 0), occurredAt.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, universe.SpaceWormhole, event.SpaceType)
	assert.Equal(t, universe.SecurityWormhole, event.SecurityType)
	assert.Equal(t, "0", event.ISKValue)
}

func TestBuildEventRejectsMalformedPackages(t *testing.T) {
	occurredAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fetchedAt := occurredAt.Add(30 * time.Second)

	validESI := dto.ESIKillmail{
		KillmailID:    128000003,
		KillmailTime:  occurredAt,
		SolarSystemID: 30000142,
	}

	tests := []struct {
		name        string
		pkg         *dto.RedisQPackage
		errContains string
	}{
		{
			name:        "nil package",
			pkg:         nil,
			errContains: "nil package",
		},
		{
			name: "missing kill id",
			pkg: func() *dto.RedisQPackage {
				p := feedPackage(t, validESI, "hash", 0)
				p.KillID = 0
				return p
			}(),
			errContains: "missing kill id",
		},
		{
			name:        "missing hash",
			pkg:         feedPackage(t, validESI, "", 0),
			errContains: "missing hash",
		},
		{
			name: "missing body",
			pkg: &dto.RedisQPackage{
				KillID: 128000003,
				ZKB:    dto.ZKBData{Hash: "hash"},
			},
			errContains: "missing body",
		},
		{
			name: "malformed body",
			pkg: &dto.RedisQPackage{
				KillID:   128000003,
				Killmail: json.RawMessage(`{"killmail_id":`),
				ZKB:      dto.ZKBData{Hash: "hash"},
			},
			errContains: "malformed body",
		},
		{
			name: "body id mismatch",
			pkg: func() *dto.RedisQPackage {
				p := feedPackage(t, validESI, "hash", 0)
				p.KillID = 999999999
				return p
			}(),
			errContains: "does not match package",
		},
		{
			name: "missing solar system",
			pkg: feedPackage(t, dto.ESIKillmail{
				KillmailID:   128000003,
				KillmailTime: occurredAt,
			}, "hash", 0),
			errContains: "missing solar system",
		},
		{
			name: "missing kill time",
			pkg: feedPackage(t, dto.ESIKillmail{
				KillmailID:    128000003,
				SolarSystemID: 30000142,
			}, "hash", 0),
			errContains: "missing kill time",
		},
		{
			name: "kill time in the future",
			pkg: feedPackage(t, dto.ESIKillmail{
				KillmailID:    128000003,
				KillmailTime:  fetchedAt.Add(6 * time.Minute),
				SolarSystemID: 30000142,
			}, "hash", 0),
			errContains: "in the future",
		},
	}

	classifier := testClassifier(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := BuildEvent(classifier, tt.pkg, fetchedAt)
			require.Error(t, err)
			assert.Nil(t, event)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestBuildEventClampsFeedClockSkew(t *testing.T) {
	fetchedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	occurredAt := fetchedAt.Add(2 * time.Minute)

	esi := dto.ESIKillmail{
		KillmailID:    128000004,
		KillmailTime:  occurredAt,
		SolarSystemID: 30000142,
	}

	event, err := BuildEvent(testClassifier(t), feedPackage(t, esi, "hash", 0), fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, occurredAt, event.OccurredAt)
	assert.Equal(t, occurredAt, event.FetchedAt, "fetched_at clamps to occurred_at when the feed clock runs ahead")
	assert.False(t, event.OccurredAt.After(event.FetchedAt))
}

func TestISKString(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected string
	}{
		{"zero", 0, "0"},
		{"negative", -5000000, "0"},
		{"nan", math.NaN(), "0"},
		{"positive infinity", math.Inf(1), "0"},
		{"negative infinity", math.Inf(-1), "0"},
		{"sub-isk fraction", 0.4, "0"},
		{"truncates fraction", 1.9, "1"},
		{"typical kill", 350000000.5, "350000000"},
		{"trillion isk fight", 1e18, "1000000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ISKString(tt.value))
		})
	}
}
