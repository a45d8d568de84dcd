package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRuleset(t *testing.T) {
	ruleset := DefaultRuleset()

	assert.Equal(t, DefaultRulesetID, ruleset.RulesetID)
	assert.Equal(t, 2, ruleset.MinPilots)
	assert.Empty(t, ruleset.AllianceIDs)
	assert.Empty(t, ruleset.CorpIDs)
	assert.Empty(t, ruleset.SystemIDs)
	assert.Empty(t, ruleset.SecurityTypes)
	assert.False(t, ruleset.IgnoreUnlisted)
}

func TestMatchesTracked(t *testing.T) {
	ruleset := &Ruleset{
		RulesetID:     DefaultRulesetID,
		MinPilots:     2,
		AllianceIDs:   []int64{99000001},
		CorpIDs:       []int64{98000055},
		SystemIDs:     []int64{30000142},
		SecurityTypes: []string{"nullsec"},
	}

	tests := []struct {
		name         string
		allianceIDs  []int64
		corpIDs      []int64
		systemID     int64
		securityType string
		want         bool
	}{
		{
			name:        "tracked alliance participates",
			allianceIDs: []int64{99000001, 99000002},
			systemID:    31000005,
			want:        true,
		},
		{
			name:     "tracked corp participates",
			corpIDs:  []int64{98000055},
			systemID: 31000005,
			want:     true,
		},
		{
			name:     "tracked system",
			systemID: 30000142,
			want:     true,
		},
		{
			name:         "tracked security type",
			systemID:     30004759,
			securityType: "nullsec",
			want:         true,
		},
		{
			name:         "nothing tracked",
			allianceIDs:  []int64{99000009},
			corpIDs:      []int64{98000099},
			systemID:     31000005,
			securityType: "wormhole",
			want:         false,
		},
		{
			name:     "empty identity sets untracked system",
			systemID: 30002187,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleset.MatchesTracked(tt.allianceIDs, tt.corpIDs, tt.systemID, tt.securityType)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTracksHelpers(t *testing.T) {
	ruleset := &Ruleset{
		AllianceIDs:   []int64{1, 2},
		CorpIDs:       []int64{10},
		SystemIDs:     []int64{30000142},
		SecurityTypes: []string{"lowsec", "nullsec"},
	}

	assert.True(t, ruleset.TracksAlliance(2))
	assert.False(t, ruleset.TracksAlliance(3))
	assert.True(t, ruleset.TracksCorp(10))
	assert.False(t, ruleset.TracksCorp(11))
	assert.True(t, ruleset.TracksSystem(30000142))
	assert.False(t, ruleset.TracksSystem(30000143))
	assert.True(t, ruleset.TracksSecurityType("lowsec"))
	assert.False(t, ruleset.TracksSecurityType("highsec"))
}
