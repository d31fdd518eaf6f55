package compare

import (
	"encoding/json"
	"fmt"
	"os"
)

// Record is the persisted shape of a comparison, consumed by the reporting
// collaborator. The histogram map carries labeled artifact paths (spectrum
// records, energy lists) the reporter may reference.
type Record struct {
	Results    *Result           `json:"results"`
	Histograms map[string]string `json:"histograms,omitempty"`
}

// WriteRecord persists the comparison record at path.
func WriteRecord(path string, res *Result, artifacts map[string]string) error {
	data, err := json.MarshalIndent(Record{Results: res, Histograms: artifacts}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal comparison record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write comparison record: %w", err)
	}
	return nil
}

// ReadRecord loads a previously persisted comparison record.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read comparison record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse comparison record %s: %w", path, err)
	}
	if rec.Results == nil {
		return nil, fmt.Errorf("comparison record %s: missing results", path)
	}
	return &rec, nil
}
