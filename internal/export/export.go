// Package export serializes the planner for download and imports
// user-supplied files through the same normalizer as every other untrusted
// planner source.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"tripmap/api/internal/planner"
)

// Document is the export file shape.
type Document struct {
	ExportedAt time.Time       `json:"exportedAt"`
	Planner    planner.Planner `json:"planner"`
}

// Export serializes the planner with an export timestamp.
func Export(p planner.Planner, now time.Time) ([]byte, error) {
	doc := Document{ExportedAt: now.UTC(), Planner: p}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return raw, nil
}

// Import reads a planner export (or any planner-shaped JSON) and
// normalizes it. Only an unreadable file is an error; malformed content
// degrades through the normalizer like any other untrusted input.
func Import(r io.Reader) (planner.Planner, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return planner.Planner{}, fmt.Errorf("read import: %w", err)
	}

	// Accept both the export envelope and a bare planner document.
	var envelope struct {
		Planner json.RawMessage `json:"planner"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Planner) > 0 {
		return planner.Normalize(envelope.Planner), nil
	}
	return planner.Normalize(raw), nil
}
