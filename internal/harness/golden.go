package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden report of a scenario execution.
type Snapshot struct {
	Scenario             string      `json:"scenario"`
	Stream               string      `json:"stream"`
	Runs                 []RunReport `json:"runs"`
	StoredTruncateBefore *int64      `json:"stored_truncate_before,omitempty"`
	MetadataVersion      int64       `json:"metadata_version"`
	MetadataWrites       int         `json:"metadata_writes"`
}

// NewSnapshot builds the golden report for a result.
func NewSnapshot(scenario *Scenario, result *Result) Snapshot {
	return Snapshot{
		Scenario:             scenario.Name,
		Stream:               scenario.Stream,
		Runs:                 result.Runs,
		StoredTruncateBefore: result.StoredTruncateBefore,
		MetadataVersion:      result.MetadataVersion,
		MetadataWrites:       result.MetadataWrites,
	}
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing newline.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its report against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := MarshalSnapshot(NewSnapshot(scenario, result))
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}
