package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSystemsFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "systems.json"), []byte(content), 0o644)
	require.NoError(t, err)
	return dir
}

func TestClassifyWithDataFile(t *testing.T) {
	dir := writeSystemsFile(t, `{
		"30000142": {"security": 0.946},
		"30002187": {"security": 0.9},
		"30002813": {"security": 0.3},
		"30000846": {"security": -0.02},
		"30002079": {"security": -0.47, "pochven": true}
	}`)

	c := NewClassifier(dir)
	require.Equal(t, 5, c.KnownSystems())

	tests := []struct {
		name     string
		systemID int64
		want     Classification
	}{
		{"jita is highsec", 30000142, Classification{SpaceKnown, SecurityHighsec}},
		{"amarr is highsec", 30002187, Classification{SpaceKnown, SecurityHighsec}},
		{"lowsec system", 30002813, Classification{SpaceKnown, SecurityLowsec}},
		{"nullsec system", 30000846, Classification{SpaceKnown, SecurityNullsec}},
		{"pochven flag wins over security", 30002079, Classification{SpacePochven, SecurityPochven}},
		{"jspace by id range", 31000001, Classification{SpaceWormhole, SecurityWormhole}},
		{"thera is jspace", 31000005, Classification{SpaceWormhole, SecurityWormhole}},
		{"unlisted kspace defaults to nullsec", 30009999, Classification{SpaceKnown, SecurityNullsec}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.systemID))
		})
	}
}

func TestClassifyWithoutDataFile(t *testing.T) {
	c := NewClassifier(t.TempDir())
	assert.Equal(t, 0, c.KnownSystems())

	// J-space still recognised by range
	assert.Equal(t, Classification{SpaceWormhole, SecurityWormhole}, c.Classify(31002222))
	// Everything else falls back to nullsec k-space
	assert.Equal(t, Classification{SpaceKnown, SecurityNullsec}, c.Classify(30000142))
}

func TestSecurityTypeFromStatus(t *testing.T) {
	tests := []struct {
		status float64
		want   SecurityType
	}{
		{1.0, SecurityHighsec},
		{0.5, SecurityHighsec},
		{0.45, SecurityHighsec},
		{0.449, SecurityLowsec},
		{0.1, SecurityLowsec},
		{0.0, SecurityNullsec},
		{-0.5, SecurityNullsec},
		{-1.0, SecurityNullsec},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SecurityTypeFromStatus(tt.status), "status %v", tt.status)
	}
}

func TestIsValidSecurityType(t *testing.T) {
	for _, st := range SecurityTypes {
		assert.True(t, IsValidSecurityType(string(st)))
	}
	assert.False(t, IsValidSecurityType("midsec"))
	assert.False(t, IsValidSecurityType(""))
}
