package histogram

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Interchange record keys. Both must be present when loading; a record
// missing either key is rejected rather than defaulted.
const (
	keyBins  = "bins"
	keyEdges = "edges"
)

// MissingKeyError reports an interchange record that lacks a required key.
type MissingKeyError struct {
	Key  string
	Path string
}

func (e *MissingKeyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("histogram record %s: missing required key %q", e.Path, e.Key)
	}
	return fmt.Sprintf("histogram record: missing required key %q", e.Key)
}

// IsMissingKey reports whether err is a MissingKeyError.
func IsMissingKey(err error) bool {
	var mk *MissingKeyError
	return errors.As(err, &mk)
}

// record is the wire shape of the interchange format.
type record struct {
	Bins  []float64 `json:"bins"`
	Edges []float64 `json:"edges"`
}

// Marshal serializes the histogram to the flat interchange record.
func Marshal(h *Histogram) ([]byte, error) {
	return json.MarshalIndent(record{Bins: h.Counts, Edges: h.Edges}, "", "  ")
}

// Unmarshal parses an interchange record and validates the histogram
// invariants. Both required keys must be present.
func Unmarshal(data []byte) (*Histogram, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("histogram record: %w", err)
	}
	for _, key := range []string{keyBins, keyEdges} {
		if _, ok := raw[key]; !ok {
			return nil, &MissingKeyError{Key: key}
		}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("histogram record: %w", err)
	}
	return New(rec.Bins, rec.Edges)
}

// WriteFile persists the histogram as an interchange record at path.
func WriteFile(h *Histogram, path string) error {
	data, err := Marshal(h)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write histogram record: %w", err)
	}
	return nil
}

// ReadFile loads an interchange record from path.
func ReadFile(path string) (*Histogram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read histogram record: %w", err)
	}
	h, err := Unmarshal(data)
	if err != nil {
		var mk *MissingKeyError
		if errors.As(err, &mk) {
			mk.Path = path
		}
		return nil, err
	}
	return h, nil
}
