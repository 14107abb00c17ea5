package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"tripmap/api/internal/planner"
)

func TestExportImportRoundTrip(t *testing.T) {
	p := planner.Default()
	p.Days[0].Items = []planner.Item{
		{ID: "i1", PlaceID: "p1", StartTime: "09:00", Memo: "breakfast"},
		{ID: "i2", PlaceID: "p2", StartTime: "12:00"},
	}

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	raw, err := Export(p, now)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("export is not valid json: %v", err)
	}
	if !doc.ExportedAt.Equal(now) {
		t.Errorf("exportedAt = %v, want %v", doc.ExportedAt, now)
	}

	got, err := Import(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	a := planner.Canonical(p, nil)
	b := planner.Canonical(got, nil)
	if a != b {
		t.Errorf("round trip changed planner\nexported: %s\nimported: %s", a, b)
	}
}

func TestImportBarePlannerDocument(t *testing.T) {
	raw := `{"version":2,"days":[{"id":"d1","items":[{"id":"i1","placeId":"p1","startTime":"08:00"}]}]}`
	got, err := Import(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got.ItemCount() != 1 {
		t.Errorf("items = %d, want 1", got.ItemCount())
	}
}

func TestImportMalformedFallsBackToDefault(t *testing.T) {
	got, err := Import(strings.NewReader(`this is not an itinerary`))
	if err != nil {
		t.Fatalf("malformed content must not error: %v", err)
	}
	if len(got.Days) != 1 || got.Days[0].Title != "Day 1" {
		t.Errorf("expected default planner, got %+v", got)
	}
}

func TestImportNormalizesContent(t *testing.T) {
	// Legacy field names and unsorted items go through the normalizer.
	raw := `{"planner": {"days":[{"items":[
		{"placeId":"late","start":"10:00"},
		{"placeId":"early","start":"08:00"}
	]}]}}`
	got, err := Import(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	items := got.Days[0].Items
	if len(items) != 2 || items[0].PlaceID != "early" {
		t.Errorf("import should normalize and sort: %+v", items)
	}
	if items[0].StartTime != "08:00" {
		t.Errorf("legacy start field not mapped: %+v", items[0])
	}
}
