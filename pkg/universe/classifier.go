package universe

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// SpaceType is the coarse classification of a solar system
type SpaceType string

const (
	SpaceKnown    SpaceType = "kspace"
	SpaceWormhole SpaceType = "jspace"
	SpacePochven  SpaceType = "pochven"
)

// SecurityType is the fine classification used for battle filtering
type SecurityType string

const (
	SecurityHighsec  SecurityType = "highsec"
	SecurityLowsec   SecurityType = "lowsec"
	SecurityNullsec  SecurityType = "nullsec"
	SecurityWormhole SecurityType = "wormhole"
	SecurityPochven  SecurityType = "pochven"
)

// SecurityTypes lists every valid security type value
var SecurityTypes = []SecurityType{
	SecurityHighsec,
	SecurityLowsec,
	SecurityNullsec,
	SecurityWormhole,
	SecurityPochven,
}

// IsValidSecurityType checks a string against the known security types
func IsValidSecurityType(value string) bool {
	for _, st := range SecurityTypes {
		if string(st) == value {
			return true
		}
	}
	return false
}

// Classification is the result of classifying a solar system
type Classification struct {
	SpaceType    SpaceType    `json:"space_type"`
	SecurityType SecurityType `json:"security_type"`
}

// systemRecord is one entry in the optional systems.json data file
type systemRecord struct {
	Security *float64 `json:"security"`
	Pochven  bool     `json:"pochven,omitempty"`
}

// Classifier maps solar system IDs to space and security classifications.
// J-space is recognised by ID range alone; k-space security status and the
// Pochven system set come from an optional systems.json generated from the
// EVE SDE. Systems missing from the file default to nullsec k-space.
type Classifier struct {
	systems map[int64]systemRecord
	dataDir string
}

// NewClassifier creates a classifier, loading systems.json from dataDir when present
func NewClassifier(dataDir string) *Classifier {
	c := &Classifier{
		systems: make(map[int64]systemRecord),
		dataDir: dataDir,
	}

	if err := c.loadSystems(); err != nil {
		slog.Warn("Universe data not loaded, k-space systems default to nullsec",
			"data_dir", dataDir, "error", err)
	}

	return c
}

func (c *Classifier) loadSystems() error {
	filePath := filepath.Join(c.dataDir, "systems.json")

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var systems map[int64]systemRecord
	if err := json.Unmarshal(data, &systems); err != nil {
		return err
	}

	c.systems = systems
	slog.Info("Universe data loaded", "file", filePath, "systems", len(systems))
	return nil
}

// KnownSystems returns the number of systems loaded from the data file
func (c *Classifier) KnownSystems() int {
	return len(c.systems)
}

// Classify returns the space and security classification for a solar system
func (c *Classifier) Classify(systemID int64) Classification {
	// J-space systems: 31000000 - 32000000 (Thera 31000005 included)
	if systemID >= 31000000 && systemID < 32000000 {
		return Classification{SpaceType: SpaceWormhole, SecurityType: SecurityWormhole}
	}

	if record, ok := c.systems[systemID]; ok {
		if record.Pochven {
			return Classification{SpaceType: SpacePochven, SecurityType: SecurityPochven}
		}
		if record.Security != nil {
			return Classification{SpaceType: SpaceKnown, SecurityType: SecurityTypeFromStatus(*record.Security)}
		}
	}

	return Classification{SpaceType: SpaceKnown, SecurityType: SecurityNullsec}
}

// SecurityTypeFromStatus projects a k-space security status onto the fine enum.
// EVE rounds for display: 0.45 and above is highsec, anything above 0.0 lowsec.
func SecurityTypeFromStatus(status float64) SecurityType {
	switch {
	case status >= 0.45:
		return SecurityHighsec
	case status > 0.0:
		return SecurityLowsec
	default:
		return SecurityNullsec
	}
}
